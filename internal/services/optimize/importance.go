package optimize

import (
	"sort"

	"hfttools/internal/domain/models"
)

// importanceBins is how many rank buckets a numeric parameter is split into.
const importanceBins = 4

// Importances attributes objective variance to each parameter as the share
// of variance explained by grouping trials on that parameter alone. Numeric
// values are bucketed into quartiles by rank. Shares are normalised to sum
// to 1; without any explained variance every parameter gets an equal share.
func Importances(space models.SearchSpace, trials []models.Trial) map[string]float64 {
	names := Names(space)
	out := make(map[string]float64, len(names))
	if len(names) == 0 {
		return out
	}

	var total float64
	for _, name := range names {
		v := explained(space[name], name, trials)
		out[name] = v
		total += v
	}
	for _, name := range names {
		if total > 0 {
			out[name] /= total
		} else {
			out[name] = 1 / float64(len(names))
		}
	}
	return out
}

// explained is between-group variance over total variance.
func explained(p models.ParamSpec, name string, trials []models.Trial) float64 {
	if len(trials) < 2 {
		return 0
	}
	groups := groupTrials(p, name, trials)

	var mean float64
	for _, t := range trials {
		mean += t.Value
	}
	mean /= float64(len(trials))

	var totalSS, betweenSS float64
	for _, t := range trials {
		d := t.Value - mean
		totalSS += d * d
	}
	if totalSS == 0 {
		return 0
	}
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		var gm float64
		for _, v := range g {
			gm += v
		}
		gm /= float64(len(g))
		betweenSS += float64(len(g)) * (gm - mean) * (gm - mean)
	}
	return betweenSS / totalSS
}

func groupTrials(p models.ParamSpec, name string, trials []models.Trial) [][]float64 {
	if p.Type == models.ParamCategorical {
		idx := make(map[string]int)
		var groups [][]float64
		for _, t := range trials {
			k := valueKey(t.Params[name])
			i, ok := idx[k]
			if !ok {
				i = len(groups)
				idx[k] = i
				groups = append(groups, nil)
			}
			groups[i] = append(groups[i], t.Value)
		}
		return groups
	}

	type obs struct{ x, y float64 }
	pts := make([]obs, 0, len(trials))
	for _, t := range trials {
		if x, ok := toFloat(t.Params[name]); ok {
			pts = append(pts, obs{x, t.Value})
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].x < pts[j].x })
	groups := make([][]float64, importanceBins)
	for i := 0; i < len(pts); {
		// equal x values stay in one bucket
		j := i
		for j < len(pts) && pts[j].x == pts[i].x {
			j++
		}
		b := i * importanceBins / len(pts)
		for ; i < j; i++ {
			groups[b] = append(groups[b], pts[i].y)
		}
	}
	return groups
}
