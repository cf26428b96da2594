package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/internal/services/backtest"
	"hfttools/internal/services/optimize"
	"hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
)

// OptimizeParams is a decoded optimizer request.
type OptimizeParams struct {
	Strategy    map[string]interface{}
	SearchSpace map[string]interface{}
	NTrials     int
	StudyName   string
	Sampler     string
	Pruner      string
	Backtest    BacktestConfigInput
	Seed        int64
}

// Optimizer searches strategy parameters by running backtests per trial.
type Optimizer struct {
	runner    *BacktestRunner
	store     repository.StudyStore
	events    repository.EventPublisher
	metrics   repository.Metrics
	settings  optimize.Settings
	maxTrials int
	l         *applogger.Logger
	now       func() time.Time
}

// OptimizerOption configures Optimizer.
type OptimizerOption func(*Optimizer)

// WithEvents publishes every finished trial.
func WithEvents(p repository.EventPublisher) OptimizerOption {
	return func(o *Optimizer) {
		o.events = p
	}
}

// WithOptimizerMetrics records trial counters.
func WithOptimizerMetrics(m repository.Metrics) OptimizerOption {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// WithSettings tunes samplers and pruners.
func WithSettings(s optimize.Settings) OptimizerOption {
	return func(o *Optimizer) {
		o.settings = s
	}
}

// WithMaxTrials caps nTrials per request.
func WithMaxTrials(n int) OptimizerOption {
	return func(o *Optimizer) {
		o.maxTrials = n
	}
}

// WithOptimizerLogger sets the logger.
func WithOptimizerLogger(l *applogger.Logger) OptimizerOption {
	return func(o *Optimizer) {
		o.l = l
	}
}

// NewOptimizer creates the optimizer over runner and store.
func NewOptimizer(runner *BacktestRunner, store repository.StudyStore, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		runner:    runner,
		store:     store,
		settings:  optimize.DefaultSettings(),
		maxTrials: 10000,
		l:         applogger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Optimizer) checkTrials(n int) error {
	if n < 1 || n > o.maxTrials {
		return adapter.ValidationFailedf("nTrials must be between 1 and %d, got %d", o.maxTrials, n).WithField("nTrials")
	}
	return nil
}

// trialPlan is a validated study ready to run.
type trialPlan struct {
	sampler  repository.TrialSampler
	pruner   repository.Pruner
	evaluate optimize.Evaluator
}

// plan binds a study to the sampler, pruner and evaluator it runs with.
// Everything is validated here, before any trial.
func (o *Optimizer) plan(study *models.Study, strategy map[string]interface{}, bt BacktestConfigInput) (*trialPlan, error) {
	if err := optimize.CheckObjective(study.Objective); err != nil {
		return nil, err
	}
	if err := optimize.CheckPaths(strategy, study.SearchSpace); err != nil {
		return nil, err
	}
	sampler, err := optimize.NewSampler(study.Sampler, study.Seed, study.Objective, o.settings)
	if err != nil {
		return nil, err
	}
	pruner, err := optimize.NewPruner(study.Pruner, study.Objective, o.settings)
	if err != nil {
		return nil, err
	}
	prep, err := o.runner.Prepare(BacktestParams{Strategy: strategy, Data: bt.DataConfig, Config: bt.Config})
	if err != nil {
		return nil, err
	}
	if err := checkCorners(strategy, study.SearchSpace); err != nil {
		return nil, err
	}
	return &trialPlan{sampler: sampler, pruner: pruner, evaluate: o.runner.Evaluator(prep)}, nil
}

// newRunner builds the trial loop for pl. With a lease every trial renews
// the study lock and saves the study.
func (o *Optimizer) newRunner(pl *trialPlan, lease repository.StudyLease) *optimize.Runner {
	opts := []optimize.RunnerOption{optimize.WithRunnerLogger(o.l)}
	if lease != nil {
		opts = append(opts, optimize.WithTrialHook(o.persist(lease)))
	}
	opts = append(opts, optimize.WithTrialHook(o.observe))
	return optimize.NewRunner(pl.sampler, pl.pruner, pl.evaluate, opts...)
}

// persist saves the study after each trial, but only while lease is still
// ours.
func (o *Optimizer) persist(lease repository.StudyLease) optimize.TrialHook {
	return func(ctx context.Context, s *models.Study, _ models.Trial) error {
		if err := lease.Refresh(ctx); err != nil {
			if errors.Is(err, repository.ErrStudyLockLost) {
				return adapter.Conflictf("lock on study %q lapsed and may be held by another process", s.Name).WithField("studyName")
			}
			return adapter.Unavailable(err, "renew lock on study %q", s.Name)
		}
		if err := o.store.Save(ctx, s); err != nil {
			return adapter.Unavailable(err, "save study %q", s.Name)
		}
		return nil
	}
}

// checkCorners parses the strategy at the lower and upper end of every
// range so an impossible space fails before trial 0.
func checkCorners(strategy map[string]interface{}, space models.SearchSpace) error {
	lo, hi := models.Params{}, models.Params{}
	for name, p := range space {
		switch p.Type {
		case models.ParamCategorical:
			lo[name], hi[name] = p.Choices[0], p.Choices[len(p.Choices)-1]
		case models.ParamInt:
			lo[name], hi[name] = int64(p.Low), int64(p.High)
		default:
			lo[name], hi[name] = p.Low, p.High
		}
	}
	for _, corner := range []models.Params{lo, hi} {
		if _, err := backtest.ParseStrategy(optimize.Apply(strategy, corner)); err != nil {
			return adapter.ValidationFailedf("search space yields an invalid strategy: %v", err).WithField("searchSpace")
		}
	}
	return nil
}

// observe publishes and counts a finished trial. Event delivery is best
// effort.
func (o *Optimizer) observe(ctx context.Context, s *models.Study, t models.Trial) error {
	best, _ := s.Best()
	name := s.Name
	if name == "" {
		name = models.DefaultStudyName
	}
	if o.metrics != nil {
		o.metrics.RecordTrial(name, t.State)
		o.metrics.RecordBestValue(name, s.Objective.Metric, best.Value)
	}
	if o.events != nil {
		ev := models.TrialEvent{
			Study:     name,
			Trial:     t.Number,
			State:     t.State,
			Value:     t.Value,
			Params:    t.Params,
			BestValue: best.Value,
			Metric:    s.Objective.Metric,
			Timestamp: o.now().UTC().Format(time.RFC3339Nano),
		}
		if err := o.events.PublishTrial(ctx, ev); err != nil {
			o.l.Warn("publish trial event failed",
				applogger.String("study", name),
				applogger.Int("trial", t.Number),
				applogger.Error(err),
			)
		}
	}
	return nil
}

// lock takes the study lock and maps store failures to error kinds.
func (o *Optimizer) lock(ctx context.Context, name string) (repository.StudyLease, error) {
	lease, err := o.store.Lock(ctx, name)
	switch {
	case err == nil:
		return lease, nil
	case errors.Is(err, repository.ErrStudyLocked):
		return nil, adapter.Conflictf("study %q is in use by another process", name).WithField("studyName")
	default:
		return nil, adapter.Unavailable(err, "lock study %q", name)
	}
}

// Optimize validates p, runs the trials and reports the study.
func (o *Optimizer) Optimize(ctx context.Context, p OptimizeParams) (*models.OptimizeReport, error) {
	space, obj, err := optimize.ParseSearchSpace(p.SearchSpace)
	if err != nil {
		return nil, err
	}
	if err := o.checkTrials(p.NTrials); err != nil {
		return nil, err
	}
	if p.StudyName != "" && !validStudyName(p.StudyName) {
		return nil, adapter.ValidationFailedf("studyName %q is not a valid name", p.StudyName).WithField("studyName")
	}

	strategyRaw, err := json.Marshal(p.Strategy)
	if err != nil {
		return nil, adapter.Wrap(adapter.KindInvalidInput, err, "encode strategy")
	}
	btRaw, err := json.Marshal(p.Backtest)
	if err != nil {
		return nil, adapter.Wrap(adapter.KindInvalidInput, err, "encode backtestConfig")
	}
	now := o.now().UTC()
	study := &models.Study{
		Version:        models.StudyVersion,
		Name:           p.StudyName,
		Objective:      obj,
		Sampler:        p.Sampler,
		Pruner:         p.Pruner,
		Seed:           p.Seed,
		Strategy:       strategyRaw,
		SearchSpace:    space,
		BacktestConfig: btRaw,
		Trials:         []models.Trial{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	pl, err := o.plan(study, p.Strategy, p.Backtest)
	if err != nil {
		return nil, err
	}

	var lease repository.StudyLease
	if p.StudyName != "" {
		lease, err = o.lock(ctx, p.StudyName)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
		exists, err := o.store.Exists(ctx, p.StudyName)
		if err != nil {
			return nil, adapter.Unavailable(err, "check study %q", p.StudyName)
		}
		if exists {
			return nil, adapter.Conflictf("study %q already exists; continue it instead", p.StudyName).WithField("studyName")
		}
		if err := o.store.Save(ctx, study); err != nil {
			return nil, adapter.Unavailable(err, "create study %q", p.StudyName)
		}
	}

	start := time.Now()
	out, err := o.newRunner(pl, lease).Run(ctx, study, p.NTrials)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordLatency("optimize", time.Since(start))
	}

	report := buildOptimizeReport(study, p.NTrials)
	if out.Exhausted {
		report.Warnings = append(report.Warnings, fmt.Sprintf("search space exhausted after %d trials", len(study.Trials)))
	}
	o.l.Info("optimization complete",
		applogger.String("study", report.StudyName),
		applogger.Int("trials", out.Added),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return report, nil
}

func validStudyName(name string) bool {
	if name == "." || name == ".." || len(name) > 256 {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func buildOptimizeReport(s *models.Study, requested int) *models.OptimizeReport {
	trials := append([]models.Trial(nil), s.Trials...)
	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Number < trials[j].Number })

	name := s.Name
	if name == "" {
		name = models.DefaultStudyName
	}
	r := &models.OptimizeReport{
		Status:              adapter.StatusSuccess,
		StudyName:           name,
		NTrials:             requested,
		Sampler:             s.Sampler,
		Pruner:              s.Pruner,
		Direction:           s.Objective.Direction,
		Metric:              s.Objective.Metric,
		BestParams:          models.Params{},
		OptimizationHistory: make([]models.HistoryEntry, 0, len(trials)),
		ParamImportances:    optimize.Importances(s.SearchSpace, trials),
	}
	for _, t := range trials {
		r.OptimizationHistory = append(r.OptimizationHistory, models.HistoryEntry{
			Trial: t.Number, Value: t.Value, Params: t.Params, State: t.State,
		})
	}
	complete, pruned := s.Counts()
	r.Statistics = models.OptimizeStatistics{TotalTrials: len(trials), CompleteTrials: complete, PrunedTrials: pruned}
	if best, ok := s.Best(); ok {
		v, n := best.Value, best.Number
		r.BestParams = best.Params
		r.BestValue = &v
		r.Statistics.BestTrialNumber = &n
	}
	return r
}
