package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
	applogger "hfttools/pkg/logger"
)

// ActionContinue is the only supported continuation action.
const ActionContinue = "continue"

// ContinueParams is a decoded study continuation request.
type ContinueParams struct {
	Action    string
	StudyName string
	NTrials   int
}

// StudyContinuation resumes persisted studies with their stored settings.
type StudyContinuation struct {
	opt *Optimizer
}

// NewStudyContinuation creates the usecase over an optimizer.
func NewStudyContinuation(opt *Optimizer) *StudyContinuation {
	return &StudyContinuation{opt: opt}
}

// Continue runs p.NTrials more trials on a stored study under its lock.
func (uc *StudyContinuation) Continue(ctx context.Context, p ContinueParams) (*models.ContinueReport, error) {
	o := uc.opt
	if p.Action != ActionContinue {
		return nil, adapter.ValidationFailedf("unsupported action %q (known: %s)", p.Action, ActionContinue).WithField("action")
	}
	if !validStudyName(p.StudyName) || p.StudyName == "" {
		return nil, adapter.ValidationFailedf("studyName %q is not a valid name", p.StudyName).WithField("studyName")
	}
	if err := o.checkTrials(p.NTrials); err != nil {
		return nil, err
	}

	lease, err := o.lock(ctx, p.StudyName)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	study, err := o.store.Load(ctx, p.StudyName)
	if errors.Is(err, repository.ErrStudyNotFound) {
		return nil, adapter.NotFoundf("study %q does not exist", p.StudyName).WithField("studyName")
	}
	if err != nil {
		return nil, adapter.Unavailable(err, "load study %q", p.StudyName)
	}

	var strategy map[string]interface{}
	if err := json.Unmarshal(study.Strategy, &strategy); err != nil {
		return nil, adapter.Wrap(adapter.KindInternalFailure, err, "stored strategy is corrupt")
	}
	var bt BacktestConfigInput
	if err := json.Unmarshal(study.BacktestConfig, &bt); err != nil {
		return nil, adapter.Wrap(adapter.KindInternalFailure, err, "stored backtest config is corrupt")
	}
	pl, err := o.plan(study, strategy, bt)
	if err != nil {
		return nil, fmt.Errorf("restore study %q: %w", p.StudyName, err)
	}
	runner := o.newRunner(pl, lease)

	prev, hadPrev := study.Best()
	out, err := runner.Run(ctx, study, p.NTrials)
	if err != nil {
		return nil, err
	}

	r := &models.ContinueReport{
		Status:      adapter.StatusSuccess,
		StudyName:   study.Name,
		TrialsAdded: out.Added,
		TotalTrials: len(study.Trials),
		Message:     fmt.Sprintf("Added %d trials to study '%s'", out.Added, study.Name),
	}
	if best, ok := study.Best(); ok {
		v := best.Value
		r.BestValue = &v
		r.Improved = out.Added > 0 && (!hadPrev || study.Objective.Better(best.Value, prev.Value))
	}
	if out.Exhausted {
		r.Message += "; search space exhausted"
	}
	o.l.Info("study continued",
		applogger.String("study", study.Name),
		applogger.Int("added", out.Added),
		applogger.Int("total", r.TotalTrials),
		applogger.Bool("improved", r.Improved),
	)
	return r, nil
}
