package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder implements domain.repository.Metrics using Prometheus.
// Adapters are short-lived, so metrics live in a private registry and are
// pushed to a Pushgateway when the request ends.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	trialsTotal    *prometheus.CounterVec
	recordsTotal   *prometheus.CounterVec
	barsProcessed  prometheus.Counter
	bestValue      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	pushgatewayURL string
	job            string
}

// Option configures Recorder.
type Option func(*Recorder)

// WithPushgateway enables Push to the given URL under job.
func WithPushgateway(url, job string) Option {
	return func(r *Recorder) {
		r.pushgatewayURL = url
		r.job = job
	}
}

// New creates a new Prometheus metrics recorder.
func New(opts ...Option) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		job:      "hfttools",
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hfttools_requests_total",
				Help: "Adapter requests by outcome",
			},
			[]string{"adapter", "result"},
		),
		trialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hfttools_trials_total",
				Help: "Optimization trials by final state",
			},
			[]string{"study", "state"},
		),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hfttools_records_fetched_total",
				Help: "Market data records fetched",
			},
			[]string{"source", "data_type"},
		),
		barsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hfttools_backtest_bars_processed_total",
				Help: "Bars replayed by the backtest engine",
			},
		),
		bestValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hfttools_study_best_value",
				Help: "Best objective value of a study",
			},
			[]string{"study", "metric"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hfttools_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
			},
			[]string{"operation"},
		),
	}
	for _, opt := range opts {
		opt(r)
	}

	reg.MustRegister(
		r.requestsTotal,
		r.trialsTotal,
		r.recordsTotal,
		r.barsProcessed,
		r.bestValue,
		r.latency,
		collectors.NewGoCollector(),
	)
	return r
}

// Registerer exposes the private registry for other instrumented clients.
func (r *Recorder) Registerer() prometheus.Registerer {
	return r.registry
}

// RecordRequest records one adapter request outcome.
func (r *Recorder) RecordRequest(adapter, result string) {
	r.requestsTotal.WithLabelValues(adapter, result).Inc()
}

// RecordTrial records a finished trial.
func (r *Recorder) RecordTrial(study, state string) {
	r.trialsTotal.WithLabelValues(study, state).Inc()
}

// RecordRecords records fetched market data records.
func (r *Recorder) RecordRecords(source, dataType string, n int) {
	r.recordsTotal.WithLabelValues(source, dataType).Add(float64(n))
}

// RecordBars records bars replayed by a backtest.
func (r *Recorder) RecordBars(n int) {
	r.barsProcessed.Add(float64(n))
}

// RecordBestValue records the current best objective of a study.
func (r *Recorder) RecordBestValue(study, metric string, v float64) {
	r.bestValue.WithLabelValues(study, metric).Set(v)
}

// RecordLatency records operation latency.
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// Push sends the registry to the configured Pushgateway. Without a URL it
// does nothing.
func (r *Recorder) Push(ctx context.Context, grouping map[string]string) error {
	if r.pushgatewayURL == "" {
		return nil
	}
	p := push.New(r.pushgatewayURL, r.job).Gatherer(r.registry)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
