package adapter

import (
	"context"
	"encoding/json"
	"time"

	"hfttools/internal/domain/repository"
	pkgadapter "hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
)

const pushTimeout = 5 * time.Second

// Instrumented counts requests by outcome and pushes the process metrics
// once the request is done. Push failures are logged only.
type Instrumented struct {
	name    string
	next    pkgadapter.Handler
	metrics repository.Metrics
	l       *applogger.Logger
}

// NewInstrumented wraps next.
func NewInstrumented(name string, next pkgadapter.Handler, m repository.Metrics, l *applogger.Logger) *Instrumented {
	return &Instrumented{name: name, next: next, metrics: m, l: orNop(l)}
}

func (h *Instrumented) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	res, err := h.next.Handle(ctx, payload)
	if h.metrics == nil {
		return res, err
	}

	result := pkgadapter.StatusSuccess
	if err != nil {
		result = string(pkgadapter.KindOf(err))
	}
	h.metrics.RecordRequest(h.name, result)

	// The request context may already be cancelled.
	pctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if perr := h.metrics.Push(pctx, map[string]string{"adapter": h.name}); perr != nil {
		h.l.Warn("metrics push failed", applogger.String("adapter", h.name), applogger.Error(perr))
	}
	return res, err
}
