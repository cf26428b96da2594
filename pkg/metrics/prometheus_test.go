package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.RecordTrial("s1", "complete")
	r.RecordTrial("s1", "complete")
	r.RecordTrial("s1", "pruned")
	r.RecordRecords("synthetic", "bars", 42)
	r.RecordBestValue("s1", "sharpe_ratio", 1.25)
	r.RecordLatency("backtest", 20*time.Millisecond)

	if got := testutil.ToFloat64(r.trialsTotal.WithLabelValues("s1", "complete")); got != 2 {
		t.Fatalf("complete trials = %v", got)
	}
	if got := testutil.ToFloat64(r.recordsTotal.WithLabelValues("synthetic", "bars")); got != 42 {
		t.Fatalf("records = %v", got)
	}
	if got := testutil.ToFloat64(r.bestValue.WithLabelValues("s1", "sharpe_ratio")); got != 1.25 {
		t.Fatalf("best value = %v", got)
	}
}

func TestRecordersAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.RecordBars(10)
	if got := testutil.ToFloat64(b.barsProcessed); got != 0 {
		t.Fatalf("registries leak between recorders: %v", got)
	}
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	if err := New().Push(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var body string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(WithPushgateway(srv.URL, "hfttools"))
	r.RecordRequest("optimize", "success")
	if err := r.Push(context.Background(), map[string]string{"adapter": "optimize"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(path, "/metrics/job/hfttools") || !strings.Contains(path, "adapter/optimize") {
		t.Fatalf("unexpected push path %q", path)
	}
	if len(body) == 0 {
		t.Fatalf("expected metrics payload")
	}
}
