package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"hfttools/internal/repository"
	"hfttools/internal/service/marketdata"
	"hfttools/internal/services/backtest"
	"hfttools/internal/usecase"
	pkgadapter "hfttools/pkg/adapter"
	"hfttools/pkg/cache"
)

type stack struct {
	backtest *BacktestHandler
	fetch    *FetchHandler
	optimize *OptimizeHandler
	study    *StudyHandler
}

func newStack() *stack {
	sources := marketdata.NewRegistry(marketdata.NewSyntheticSource(0))
	loader := marketdata.NewBarLoader(sources, marketdata.WithBarCache(4, time.Minute))
	engines := backtest.NewEngines(backtest.EngineReference, backtest.NewReferenceEngine(loader))
	runner := usecase.NewBacktestRunner(engines, sources, nil, nil)
	store := repository.NewCacheStudyStore(cache.NewMemoryCache(), time.Minute)
	opt := usecase.NewOptimizer(runner, store)
	return &stack{
		backtest: NewBacktestHandler(runner, nil),
		fetch:    NewFetchHandler(usecase.NewDataFetcher(sources, marketdata.NewSinks(nil), nil, nil), nil),
		optimize: NewOptimizeHandler(opt, nil),
		study:    NewStudyHandler(usecase.NewStudyContinuation(opt), nil),
	}
}

func run(t *testing.T, h pkgadapter.Handler, input string) (int, map[string]interface{}) {
	t.Helper()
	var out bytes.Buffer
	build := func(context.Context) (pkgadapter.Handler, func(), error) { return h, nil, nil }
	code := pkgadapter.Run(context.Background(), strings.NewReader(input), &out, pkgadapter.Options{Name: "test", Build: build})
	var doc map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, out.String())
	}
	return code, doc
}

func expectError(t *testing.T, code int, doc map[string]interface{}, kind pkgadapter.Kind, contains string) {
	t.Helper()
	if code != 1 || doc["status"] != pkgadapter.StatusError {
		t.Fatalf("expected error envelope, got %d %v", code, doc)
	}
	if doc["type"] != string(kind) {
		t.Fatalf("expected type %s, got %v (%v)", kind, doc["type"], doc["error"])
	}
	if contains != "" && !strings.Contains(doc["error"].(string), contains) {
		t.Fatalf("expected error to mention %q, got %q", contains, doc["error"])
	}
}

const momentumDoc = `{"signals":{"m":{"type":"momentum","params":{"windowSize":4}}}}`

func TestBacktestHandler(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.backtest, `{"strategy":`+momentumDoc+`,"dataConfig":{"startDate":"2024-01-01","endDate":"2024-01-05"}}`)
	if code != 0 || doc["status"] != pkgadapter.StatusSuccess {
		t.Fatalf("unexpected result %d %v", code, doc)
	}
	if doc["strategy_name"] != "unknown" {
		t.Fatalf("expected default strategy name, got %v", doc["strategy_name"])
	}
	period := doc["period"].(map[string]interface{})
	if period["start"] != "2024-01-01" || period["end"] != "2024-01-05" {
		t.Fatalf("period not echoed: %v", period)
	}
	perf := doc["performance"].(map[string]interface{})
	if perf["winning_trades"].(float64)+perf["losing_trades"].(float64) != perf["total_trades"].(float64) {
		t.Fatalf("trade counts inconsistent: %v", perf)
	}
}

func TestBacktestHandlerRejects(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.backtest, `{"strategy":{},"dataConfig":{"endDate":"2024-01-05"}}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "dataConfig.startDate is required")

	code, doc = run(t, s.backtest, `{"strategy":{},"dataConfig":{"startDate":"2024-01-01","endDate":"2024-01-05"},"config":{"commissionRate":"high"}}`)
	expectError(t, code, doc, pkgadapter.KindInvalidInput, "commissionRate")

	code, doc = run(t, s.backtest, `{"strategy":{"signals":{"m":{"type":"momentum","params":{"window":3}}}},"dataConfig":{"startDate":"2024-01-01","endDate":"2024-01-05"}}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "unknown parameter")

	code, doc = run(t, s.backtest, `{"dataConfig":{"startDate":"2024-01-01","endDate":"2024-01-05"}}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "strategy is required")
}

func TestBacktestHandlerKeepsExplicitZeroCosts(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.backtest, `{"strategy":`+momentumDoc+`,"dataConfig":{"startDate":"2024-01-01","endDate":"2024-01-05"},"config":{"commissionRate":0,"slippageBps":0}}`)
	if code != 0 {
		t.Fatalf("unexpected failure %v", doc)
	}
	exec := doc["execution_stats"].(map[string]interface{})
	if exec["total_commission"].(float64) != 0 || exec["avg_slippage"].(float64) != 0 {
		t.Fatalf("explicit zero costs were replaced by defaults: %v", exec)
	}
}

func TestFetchHandler(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.fetch, `{"source":"synthetic","instrument":"SYNTH-USD","dataType":"bars","startDate":"2024-01-01","endDate":"2024-01-01","interval":"1h"}`)
	if code != 0 {
		t.Fatalf("unexpected failure %v", doc)
	}
	if doc["output_path"] != repository.MemoryLocation || doc["records_count"].(float64) != 24 {
		t.Fatalf("unexpected result %v", doc)
	}
	if doc["data_type"] != "bars" || doc["source"] != "synthetic" {
		t.Fatalf("request fields not echoed: %v", doc)
	}

	code, doc = run(t, s.fetch, `{"source":"synthetic","instrument":"SYNTH-USD","startDate":"2024-01-01","endDate":"2024-01-01"}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "dataType is required")

	code, doc = run(t, s.fetch, `{"source":"synthetic","instrument":"SYNTH-USD","dataType":"trades","startDate":"01/01/2024","endDate":"2024-01-01"}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "startDate")
}

const searchDoc = `{"searchSpace":{"signals.m.params.windowSize":{"type":"int","low":2,"high":6}},"objective":{"metric":"total_return","direction":"maximize"}}`

func TestOptimizeHandlerDefaults(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":`+searchDoc+`,"nTrials":3,"sampler":"Random","pruner":"None"}`)
	if code != 0 {
		t.Fatalf("unexpected failure %v", doc)
	}
	if doc["study_name"] != "unnamed_study" || doc["n_trials"].(float64) != 3 {
		t.Fatalf("unexpected result %v", doc)
	}
	if hist := doc["optimization_history"].([]interface{}); len(hist) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(hist))
	}
	stats := doc["statistics"].(map[string]interface{})
	if stats["total_trials"].(float64) != 3 {
		t.Fatalf("unexpected statistics %v", stats)
	}
}

func TestOptimizeHandlerRejects(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":`+searchDoc+`,"nTrials":0}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "nTrials")

	code, doc = run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":`+searchDoc+`,"sampler":"CMA"}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "CMA")

	code, doc = run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":`+searchDoc+`,"backtestConfig":{"dataConfig":{"startDate":"2024-01-01"}}}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "backtestConfig.dataConfig.endDate is required")

	code, doc = run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":{"signals.m.params.lookback":{"type":"int","low":2,"high":6}}}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "")
}

func TestStudyHandler(t *testing.T) {
	s := newStack()
	code, doc := run(t, s.study, `{"studyName":"nope"}`)
	expectError(t, code, doc, pkgadapter.KindNotFound, "nope")

	code, doc = run(t, s.study, `{"action":"reset","studyName":"nope"}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "action")

	code, doc = run(t, s.study, `{"action":"continue"}`)
	expectError(t, code, doc, pkgadapter.KindValidationFailed, "studyName is required")

	code, doc = run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":`+searchDoc+`,"nTrials":2,"studyName":"s1","sampler":"Grid","pruner":"None"}`)
	if code != 0 {
		t.Fatalf("optimize failed: %v", doc)
	}
	code, doc = run(t, s.study, `{"studyName":"s1","nTrials":2}`)
	if code != 0 {
		t.Fatalf("continue failed: %v", doc)
	}
	if doc["trials_added"].(float64) != 2 || doc["total_trials"].(float64) != 4 {
		t.Fatalf("unexpected result %v", doc)
	}
	if doc["message"] != "Added 2 trials to study 's1'" {
		t.Fatalf("unexpected message %v", doc["message"])
	}

	code, doc = run(t, s.optimize, `{"strategy":`+momentumDoc+`,"searchSpace":`+searchDoc+`,"nTrials":2,"studyName":"s1"}`)
	expectError(t, code, doc, pkgadapter.KindConflict, "s1")
}

type countingMetrics struct {
	requests map[string]int
	pushes   int
}

func (m *countingMetrics) RecordRequest(adapter, result string) {
	if m.requests == nil {
		m.requests = map[string]int{}
	}
	m.requests[adapter+"/"+result]++
}
func (m *countingMetrics) RecordTrial(string, string) {}
func (m *countingMetrics) RecordRecords(string, string, int) {}
func (m *countingMetrics) RecordBars(int) {}
func (m *countingMetrics) RecordBestValue(string, string, float64) {}
func (m *countingMetrics) RecordLatency(string, time.Duration) {}
func (m *countingMetrics) Push(context.Context, map[string]string) error {
	m.pushes++
	return nil
}

func TestInstrumentedRecordsOutcome(t *testing.T) {
	s := newStack()
	m := &countingMetrics{}
	h := NewInstrumented(NameStudy, s.study, m, nil)
	run(t, h, `{"studyName":"missing"}`)
	run(t, h, `{"studyName":"missing"}`)
	if m.requests["study/NotFound"] != 2 || m.pushes != 2 {
		t.Fatalf("unexpected counts %v pushes=%d", m.requests, m.pushes)
	}
}
