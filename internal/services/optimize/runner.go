package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
)

// Evaluator runs one backtest of a parameterised strategy document.
type Evaluator func(ctx context.Context, strategy map[string]interface{}, progress repository.ProgressFunc) (*models.Report, error)

// TrialHook observes every recorded trial. A returned error stops the run.
type TrialHook func(ctx context.Context, study *models.Study, trial models.Trial) error

// Outcome summarises one Run call.
type Outcome struct {
	Added     int
	Exhausted bool
}

// Runner drives the trial loop of a study: suggest, apply, evaluate with
// pruning, record.
type Runner struct {
	sampler  repository.TrialSampler
	pruner   repository.Pruner
	evaluate Evaluator
	hooks    []TrialHook
	l        *applogger.Logger
	now      func() time.Time
}

// RunnerOption configures Runner.
type RunnerOption func(*Runner)

// WithTrialHook adds a hook called after each trial is appended.
func WithTrialHook(h TrialHook) RunnerOption {
	return func(r *Runner) {
		r.hooks = append(r.hooks, h)
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *applogger.Logger) RunnerOption {
	return func(r *Runner) {
		r.l = l
	}
}

// NewRunner creates a trial loop.
func NewRunner(sampler repository.TrialSampler, pruner repository.Pruner, evaluate Evaluator, opts ...RunnerOption) *Runner {
	r := &Runner{sampler: sampler, pruner: pruner, evaluate: evaluate, l: applogger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates up to n more trials of study, appending each to
// study.Trials. It stops early when the sampler runs out of unseen
// assignments. Cancellation is honoured between trials; trials recorded
// before it stay in the study.
func (r *Runner) Run(ctx context.Context, study *models.Study, n int) (Outcome, error) {
	var out Outcome
	var base map[string]interface{}
	if len(study.Strategy) > 0 {
		if err := json.Unmarshal(study.Strategy, &base); err != nil {
			return out, adapter.Wrap(adapter.KindInternalFailure, err, "decode study strategy")
		}
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, adapter.Wrap(adapter.KindCancelled, err, fmt.Sprintf("optimization cancelled after %d trials", out.Added))
		}

		number := study.NextTrialNumber()
		params, ok, err := r.sampler.Suggest(study.SearchSpace, study.Trials, number)
		if err != nil {
			return out, fmt.Errorf("suggest trial %d: %w", number, err)
		}
		if !ok {
			out.Exhausted = true
			r.l.Info("search space exhausted",
				applogger.String("study", study.Name),
				applogger.Int("trials", len(study.Trials)),
			)
			return out, nil
		}

		trial, err := r.trial(ctx, study, base, number, params)
		if err != nil {
			return out, err
		}
		study.Trials = append(study.Trials, trial)
		study.UpdatedAt = r.now().UTC()
		out.Added++

		r.l.Debug("trial finished",
			applogger.String("study", study.Name),
			applogger.Int("trial", trial.Number),
			applogger.String("state", trial.State),
			applogger.Float64("value", trial.Value),
			applogger.Int64("duration_ms", trial.DurationMS),
		)
		for _, h := range r.hooks {
			if err := h(ctx, study, trial); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (r *Runner) trial(ctx context.Context, study *models.Study, base map[string]interface{}, number int, params models.Params) (models.Trial, error) {
	start := r.now()
	metric := study.Objective.Metric
	t := models.Trial{Number: number, State: models.TrialComplete, Params: params}

	progress := func(step int, metrics func(string) (float64, bool)) bool {
		v, ok := metrics(metric)
		if !ok {
			return true
		}
		if t.Intermediate == nil {
			t.Intermediate = make(map[int]float64)
		}
		t.Intermediate[step] = v
		if r.pruner.ShouldPrune(number, step, v, study.Trials) {
			t.State = models.TrialPruned
			return false
		}
		return true
	}

	report, err := r.evaluate(ctx, Apply(base, params), progress)
	if err != nil {
		if adapter.IsKind(err, adapter.KindCancelled) || ctx.Err() != nil {
			return t, adapter.Wrap(adapter.KindCancelled, err, fmt.Sprintf("trial %d cancelled", number))
		}
		return t, fmt.Errorf("trial %d: %w", number, err)
	}
	v, ok := report.Metric(metric)
	if !ok {
		return t, adapter.ValidationFailedf("report has no metric %q", metric)
	}
	t.Value = v
	t.DurationMS = r.now().Sub(start).Milliseconds()
	return t, nil
}
