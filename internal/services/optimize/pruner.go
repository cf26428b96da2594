package optimize

import (
	"math"
	"sort"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
)

// PrunerNames lists the accepted pruner names.
var PrunerNames = []string{models.PrunerHyperband, models.PrunerMedian, models.PrunerNone}

// NewPruner builds the pruner called name.
func NewPruner(name string, obj models.Objective, s Settings) (repository.Pruner, error) {
	switch name {
	case models.PrunerNone:
		return NopPruner{}, nil
	case models.PrunerMedian:
		return &MedianPruner{objective: obj, startup: max(s.MedianStartup, 1), warmup: max(s.MedianWarmupSteps, 0)}, nil
	case models.PrunerHyperband:
		return &HyperbandPruner{objective: obj, eta: max(s.HyperbandEta, 2), minStep: max(s.HyperbandMinStep, 1)}, nil
	default:
		return nil, adapter.ValidationFailedf("unknown pruner %q (known: %v)", name, PrunerNames).WithField("pruner")
	}
}

// NopPruner never prunes.
type NopPruner struct{}

func (NopPruner) Name() string { return models.PrunerNone }

func (NopPruner) ShouldPrune(_, _ int, _ float64, _ []models.Trial) bool { return false }

// valuesAt collects the intermediate values other trials reported at step.
func valuesAt(history []models.Trial, number, step int) []float64 {
	var out []float64
	for _, t := range history {
		if t.Number == number {
			continue
		}
		if v, ok := t.Intermediate[step]; ok && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// MedianPruner stops a trial whose intermediate value is worse than the
// median of earlier trials at the same step.
type MedianPruner struct {
	objective models.Objective
	startup   int
	warmup    int
}

func (p *MedianPruner) Name() string { return models.PrunerMedian }

func (p *MedianPruner) ShouldPrune(number, step int, value float64, history []models.Trial) bool {
	if step < p.warmup {
		return false
	}
	others := valuesAt(history, number, step)
	if len(others) < p.startup {
		return false
	}
	sort.Float64s(others)
	n := len(others)
	median := others[n/2]
	if n%2 == 0 {
		median = (others[n/2-1] + others[n/2]) / 2
	}
	return p.objective.Better(median, value)
}

// HyperbandPruner runs successive halving with rungs at minStep*eta^k: at a
// rung a trial continues only while it ranks in the top 1/eta of the values
// earlier trials reported there.
type HyperbandPruner struct {
	objective models.Objective
	eta       int
	minStep   int
}

func (p *HyperbandPruner) Name() string { return models.PrunerHyperband }

func (p *HyperbandPruner) isRung(step int) bool {
	for r := p.minStep; r <= step; r *= p.eta {
		if r == step {
			return true
		}
	}
	return false
}

func (p *HyperbandPruner) ShouldPrune(number, step int, value float64, history []models.Trial) bool {
	if !p.isRung(step) {
		return false
	}
	others := valuesAt(history, number, step)
	if len(others) < p.eta {
		return false
	}
	keep := int(math.Ceil(float64(len(others)+1) / float64(p.eta)))
	better := 0
	for _, v := range others {
		if p.objective.Better(v, value) {
			better++
		}
	}
	return better >= keep
}
