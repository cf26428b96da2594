package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/repository"
	"hfttools/internal/service/marketdata"
	"hfttools/internal/services/backtest"
	"hfttools/internal/services/optimize"
	"hfttools/pkg/adapter"
	"hfttools/pkg/cache"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func newRunner() *BacktestRunner {
	sources := marketdata.NewRegistry(marketdata.NewSyntheticSource(0))
	loader := marketdata.NewBarLoader(sources, marketdata.WithBarCache(8, time.Minute))
	engines := backtest.NewEngines(backtest.EngineReference, backtest.NewReferenceEngine(loader))
	return NewBacktestRunner(engines, sources, nil, nil)
}

func momentumStrategy() map[string]interface{} {
	return map[string]interface{}{
		"metadata": map[string]interface{}{"name": "mom"},
		"signals": map[string]interface{}{
			"m": map[string]interface{}{
				"type":   "momentum",
				"params": map[string]interface{}{"windowSize": float64(5), "threshold": float64(0)},
			},
		},
	}
}

func backtestConfig() BacktestConfigInput {
	return BacktestConfigInput{
		DataConfig: DataInput{
			StartDate: "2024-01-01", EndDate: "2024-01-10",
			Source: "synthetic", Instrument: "SYNTH-USD", Interval: "1h",
		},
		Config: EngineInput{
			InitialCapital: 100000, CommissionRate: f64(0.0004), SlippageBps: f64(1),
			Seed: i64(42), Venue: "SIM",
		},
	}
}

func assertKind(t *testing.T, err error, kind adapter.Kind, field string) {
	t.Helper()
	var ae *adapter.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected adapter error of kind %s, got %v", kind, err)
	}
	if ae.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, ae.Kind, err)
	}
	if field != "" && ae.Field != field {
		t.Fatalf("expected field %q, got %q", field, ae.Field)
	}
}

func TestBacktestRunnerRuns(t *testing.T) {
	bt := backtestConfig()
	report, err := newRunner().Run(context.Background(), BacktestParams{Strategy: momentumStrategy(), Data: bt.DataConfig, Config: bt.Config})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.StrategyName != "mom" || report.ExecutionStats.BarsProcessed == 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	found := false
	for _, w := range report.Warnings {
		if w == models.WarnSimulatedData {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected simulated data warning, got %v", report.Warnings)
	}
}

func TestBacktestRunnerRejects(t *testing.T) {
	r := newRunner()
	bt := backtestConfig()

	bad := bt
	bad.DataConfig.EndDate = "2023-12-01"
	_, err := r.Run(context.Background(), BacktestParams{Strategy: momentumStrategy(), Data: bad.DataConfig, Config: bad.Config})
	assertKind(t, err, adapter.KindValidationFailed, "dataConfig.endDate")

	bad = bt
	bad.DataConfig.Source = "nowhere"
	_, err = r.Run(context.Background(), BacktestParams{Strategy: momentumStrategy(), Data: bad.DataConfig, Config: bad.Config})
	assertKind(t, err, adapter.KindValidationFailed, "dataConfig.source")

	bad = bt
	bad.Config.Engine = "nautilus"
	_, err = r.Run(context.Background(), BacktestParams{Strategy: momentumStrategy(), Data: bad.DataConfig, Config: bad.Config})
	if err == nil {
		t.Fatalf("expected unknown engine to fail")
	}

	strategy := momentumStrategy()
	strategy["signals"].(map[string]interface{})["m"].(map[string]interface{})["type"] = "astrology"
	_, err = r.Run(context.Background(), BacktestParams{Strategy: strategy, Data: bt.DataConfig, Config: bt.Config})
	assertKind(t, err, adapter.KindValidationFailed, "strategy.signals.m.type")
}

func TestBacktestRunnerIsDeterministic(t *testing.T) {
	bt := backtestConfig()
	p := BacktestParams{Strategy: momentumStrategy(), Data: bt.DataConfig, Config: bt.Config}
	a, err := newRunner().Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := newRunner().Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.Performance != b.Performance {
		t.Fatalf("runs differ: %+v vs %+v", a.Performance, b.Performance)
	}
}

type recordingPublisher struct {
	events []models.TrialEvent
	err    error
}

func (p *recordingPublisher) PublishTrial(_ context.Context, ev models.TrialEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newOptimizer(events *recordingPublisher) (*Optimizer, *repository.CacheStudyStore) {
	store := repository.NewCacheStudyStore(cache.NewMemoryCache(), time.Minute)
	opts := []OptimizerOption{WithMaxTrials(50)}
	if events != nil {
		opts = append(opts, WithEvents(events))
	}
	return NewOptimizer(newRunner(), store, opts...), store
}

func windowSpace() map[string]interface{} {
	return map[string]interface{}{
		"searchSpace": map[string]interface{}{
			"signals.m.params.windowSize": map[string]interface{}{"type": "int", "low": float64(2), "high": float64(4)},
			"signals.m.params.threshold":  map[string]interface{}{"type": "categorical", "choices": []interface{}{float64(0), 0.001}},
		},
		"objective": map[string]interface{}{"metric": "total_return", "direction": "maximize"},
	}
}

func optimizeParams(name string, n int) OptimizeParams {
	return OptimizeParams{
		Strategy:    momentumStrategy(),
		SearchSpace: windowSpace(),
		NTrials:     n,
		StudyName:   name,
		Sampler:     models.SamplerRandom,
		Pruner:      models.PrunerNone,
		Backtest:    backtestConfig(),
		Seed:        7,
	}
}

func TestOptimizeUnnamed(t *testing.T) {
	events := &recordingPublisher{err: errors.New("broker down")}
	o, _ := newOptimizer(events)
	r, err := o.Optimize(context.Background(), optimizeParams("", 4))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if r.StudyName != models.DefaultStudyName || r.NTrials != 4 || len(r.OptimizationHistory) != 4 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.BestValue == nil || r.Statistics.BestTrialNumber == nil {
		t.Fatalf("expected a best trial, got %+v", r)
	}
	for i, h := range r.OptimizationHistory {
		if h.Trial != i {
			t.Fatalf("history not ordered by trial: %+v", r.OptimizationHistory)
		}
		if r.Direction == models.Maximize && h.Value > *r.BestValue {
			t.Fatalf("trial %d beats best value %v", h.Trial, *r.BestValue)
		}
	}
	if len(events.events) != 4 {
		t.Fatalf("expected 4 events despite publish failures, got %d", len(events.events))
	}
	var sum float64
	for _, v := range r.ParamImportances {
		sum += v
	}
	if len(r.ParamImportances) != 2 || sum < 0.999 || sum > 1.001 {
		t.Fatalf("importances should cover both params and sum to 1: %v", r.ParamImportances)
	}
}

func TestOptimizeExhaustsSpace(t *testing.T) {
	o, _ := newOptimizer(nil)
	p := optimizeParams("", 20)
	p.Sampler = models.SamplerGrid
	r, err := o.Optimize(context.Background(), p)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if r.Statistics.TotalTrials != 6 || len(r.Warnings) != 1 {
		t.Fatalf("expected 6 trials and an exhaustion warning, got %d %v", r.Statistics.TotalTrials, r.Warnings)
	}
	seen := map[string]bool{}
	for _, h := range r.OptimizationHistory {
		k := optimize.Key(h.Params)
		if seen[k] {
			t.Fatalf("duplicate assignment %s", k)
		}
		seen[k] = true
	}
}

func TestOptimizeValidatesBeforeTrials(t *testing.T) {
	events := &recordingPublisher{}
	o, store := newOptimizer(events)

	cases := []struct {
		name  string
		edit  func(*OptimizeParams)
		field string
	}{
		{"trials", func(p *OptimizeParams) { p.NTrials = 0 }, "nTrials"},
		{"too many trials", func(p *OptimizeParams) { p.NTrials = 51 }, "nTrials"},
		{"sampler", func(p *OptimizeParams) { p.Sampler = "Bayes" }, "sampler"},
		{"pruner", func(p *OptimizeParams) { p.Pruner = "Always" }, "pruner"},
		{"corner", func(p *OptimizeParams) {
			p.SearchSpace = map[string]interface{}{
				"signals.m.params.windowSize": map[string]interface{}{"type": "int", "low": float64(0), "high": float64(4)},
			}
		}, "searchSpace"},
		{"dates", func(p *OptimizeParams) { p.Backtest.DataConfig.StartDate = "2025-01-01" }, "dataConfig.endDate"},
	}
	for _, tc := range cases {
		p := optimizeParams("validated", 3)
		tc.edit(&p)
		_, err := o.Optimize(context.Background(), p)
		assertKind(t, err, adapter.KindValidationFailed, tc.field)
	}
	if len(events.events) != 0 {
		t.Fatalf("no trial should run on invalid input, got %d events", len(events.events))
	}
	if ok, _ := store.Exists(context.Background(), "validated"); ok {
		t.Fatalf("invalid request must not create the study")
	}
}

func TestOptimizeNamedStudyConflicts(t *testing.T) {
	o, store := newOptimizer(nil)
	ctx := context.Background()
	if _, err := o.Optimize(ctx, optimizeParams("alpha", 2)); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	st, err := store.Load(ctx, "alpha")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.Trials) != 2 || st.Sampler != models.SamplerRandom {
		t.Fatalf("unexpected stored study: %+v", st)
	}

	_, err = o.Optimize(ctx, optimizeParams("alpha", 2))
	assertKind(t, err, adapter.KindConflict, "studyName")

	lease, err := store.Lock(ctx, "beta")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lease.Release()
	_, err = o.Optimize(ctx, optimizeParams("beta", 2))
	assertKind(t, err, adapter.KindConflict, "studyName")
}

// clockPublisher advances a shared cache clock after every trial and runs
// onTrial, standing in for time passing and other processes acting.
type clockPublisher struct {
	now     time.Time
	step    time.Duration
	trials  int
	onTrial func(n int)
}

func (p *clockPublisher) clock() time.Time { return p.now }

func (p *clockPublisher) PublishTrial(context.Context, models.TrialEvent) error {
	p.now = p.now.Add(p.step)
	p.trials++
	if p.onTrial != nil {
		p.onTrial(p.trials)
	}
	return nil
}

func (p *clockPublisher) Close() error { return nil }

func TestOptimizeRenewsStudyLock(t *testing.T) {
	ctx := context.Background()
	pub := &clockPublisher{now: time.Unix(1_700_000_000, 0), step: 40 * time.Second}
	c := cache.NewMemoryCache(cache.WithMemoryClock(pub.clock))
	store := repository.NewCacheStudyStore(c, time.Minute)
	rival := repository.NewCacheStudyStore(c, time.Minute)
	pub.onTrial = func(int) {
		if lease, err := rival.Lock(ctx, "long"); err == nil {
			lease.Release()
			t.Errorf("lock was free %v into a run with a 1m ttl", time.Duration(pub.trials)*pub.step)
		}
	}

	o := NewOptimizer(newRunner(), store, WithMaxTrials(50), WithEvents(pub))
	if _, err := o.Optimize(ctx, optimizeParams("long", 5)); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	st, err := store.Load(ctx, "long")
	if err != nil || len(st.Trials) != 5 {
		t.Fatalf("expected 5 saved trials, got %v %v", st, err)
	}
}

func TestOptimizeFailsWhenLockIsTaken(t *testing.T) {
	ctx := context.Background()
	pub := &clockPublisher{now: time.Unix(1_700_000_000, 0)}
	c := cache.NewMemoryCache(cache.WithMemoryClock(pub.clock))
	store := repository.NewCacheStudyStore(c, time.Minute)
	rival := repository.NewCacheStudyStore(c, time.Minute)
	pub.onTrial = func(n int) {
		if n != 2 {
			return
		}
		// The second trial outlives the ttl and another writer steps in.
		pub.now = pub.now.Add(2 * time.Minute)
		if _, err := rival.Lock(ctx, "stolen"); err != nil {
			t.Errorf("rival lock: %v", err)
		}
	}

	o := NewOptimizer(newRunner(), store, WithMaxTrials(50), WithEvents(pub))
	_, err := o.Optimize(ctx, optimizeParams("stolen", 5))
	assertKind(t, err, adapter.KindConflict, "studyName")
	if pub.trials != 2 {
		t.Fatalf("run should stop at the first trial after losing the lock, ran %d", pub.trials)
	}
	st, err := store.Load(ctx, "stolen")
	if err != nil || len(st.Trials) != 2 {
		t.Fatalf("trial 3 must not be saved without the lock, got %v %v", st, err)
	}
}

func TestContinueStudy(t *testing.T) {
	o, store := newOptimizer(nil)
	ctx := context.Background()
	if _, err := o.Optimize(ctx, optimizeParams("gamma", 2)); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	before, _ := store.Load(ctx, "gamma")
	prevBest, _ := before.Best()

	uc := NewStudyContinuation(o)
	r, err := uc.Continue(ctx, ContinueParams{Action: ActionContinue, StudyName: "gamma", NTrials: 3})
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if r.TrialsAdded != 3 || r.TotalTrials != 5 {
		t.Fatalf("unexpected counts: %+v", r)
	}
	if r.Message != "Added 3 trials to study 'gamma'" {
		t.Fatalf("unexpected message %q", r.Message)
	}
	if r.BestValue == nil || (r.Improved != (*r.BestValue > prevBest.Value)) {
		t.Fatalf("improved flag inconsistent: best %v prev %v improved %v", r.BestValue, prevBest.Value, r.Improved)
	}

	after, _ := store.Load(ctx, "gamma")
	if len(after.Trials) != 5 {
		t.Fatalf("expected 5 stored trials, got %d", len(after.Trials))
	}
	for i, tr := range after.Trials {
		if tr.Number != i {
			t.Fatalf("trial numbers must continue the sequence: %+v", after.Trials)
		}
	}
	seen := map[string]bool{}
	for _, tr := range after.Trials {
		k := optimize.Key(tr.Params)
		if seen[k] {
			t.Fatalf("continuation repeated assignment %s", k)
		}
		seen[k] = true
	}
}

func TestContinueRejects(t *testing.T) {
	o, _ := newOptimizer(nil)
	uc := NewStudyContinuation(o)
	ctx := context.Background()

	_, err := uc.Continue(ctx, ContinueParams{Action: "delete", StudyName: "x", NTrials: 1})
	assertKind(t, err, adapter.KindValidationFailed, "action")

	_, err = uc.Continue(ctx, ContinueParams{Action: ActionContinue, StudyName: "missing", NTrials: 1})
	assertKind(t, err, adapter.KindNotFound, "studyName")

	_, err = uc.Continue(ctx, ContinueParams{Action: ActionContinue, StudyName: "x", NTrials: 0})
	assertKind(t, err, adapter.KindValidationFailed, "nTrials")
}

func TestDataFetcherWritesCSV(t *testing.T) {
	sources := marketdata.NewRegistry(marketdata.NewSyntheticSource(0))
	uc := NewDataFetcher(sources, marketdata.NewSinks(nil), nil, nil)
	out := filepath.Join(t.TempDir(), "bars.csv")
	p := FetchParams{
		Source: "synthetic", Instrument: "SYNTH-USD", DataType: "bars",
		StartDate: "2024-01-01", EndDate: "2024-01-02", OutputPath: out, Interval: "1h", Seed: 42,
	}
	r, err := uc.Fetch(context.Background(), p)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if r.RecordsCount == 0 || r.OutputPath != out || r.Status != adapter.StatusSuccess {
		t.Fatalf("unexpected report: %+v", r)
	}
	again, err := uc.Fetch(context.Background(), p)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if again.RecordsCount != r.RecordsCount {
		t.Fatalf("refetch must not duplicate rows: %d vs %d", again.RecordsCount, r.RecordsCount)
	}
}

func TestDataFetcherRejects(t *testing.T) {
	sources := marketdata.NewRegistry(marketdata.NewSyntheticSource(0))
	uc := NewDataFetcher(sources, marketdata.NewSinks(nil), nil, nil)
	base := FetchParams{
		Source: "synthetic", Instrument: "SYNTH-USD", DataType: "trades",
		StartDate: "2024-01-01", EndDate: "2024-01-02", Interval: "1m",
	}

	p := base
	p.DataType = "ticks"
	_, err := uc.Fetch(context.Background(), p)
	assertKind(t, err, adapter.KindValidationFailed, "dataType")

	p = base
	p.EndDate = "2023-01-01"
	_, err = uc.Fetch(context.Background(), p)
	assertKind(t, err, adapter.KindValidationFailed, "endDate")

	p = base
	p.OutputPath = "clickhouse://market.trades"
	_, err = uc.Fetch(context.Background(), p)
	assertKind(t, err, adapter.KindValidationFailed, "outputPath")

	p = base
	p.Source = "nowhere"
	_, err = uc.Fetch(context.Background(), p)
	if err == nil || !strings.Contains(err.Error(), "nowhere") {
		t.Fatalf("expected unknown source error, got %v", err)
	}
}
