package optimize

import (
	"math"
	"math/rand/v2"
	"sort"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
)

// maxDrawAttempts bounds rejection sampling of unseen assignments.
const maxDrawAttempts = 64

// Settings tune the samplers and pruners.
type Settings struct {
	TPEStartupTrials  int
	TPEGamma          float64
	TPECandidates     int
	MedianStartup     int
	MedianWarmupSteps int
	HyperbandEta      int
	HyperbandMinStep  int
}

// DefaultSettings mirrors the deployment config defaults.
func DefaultSettings() Settings {
	return Settings{
		TPEStartupTrials:  10,
		TPEGamma:          0.25,
		TPECandidates:     24,
		MedianStartup:     5,
		MedianWarmupSteps: 1,
		HyperbandEta:      3,
		HyperbandMinStep:  1,
	}
}

// SamplerNames lists the accepted sampler names.
var SamplerNames = []string{models.SamplerTPE, models.SamplerRandom, models.SamplerGrid}

// NewSampler builds the sampler called name.
func NewSampler(name string, seed int64, obj models.Objective, s Settings) (repository.TrialSampler, error) {
	switch name {
	case models.SamplerRandom:
		return &RandomSampler{seed: seed}, nil
	case models.SamplerGrid:
		return &GridSampler{}, nil
	case models.SamplerTPE:
		return &TPESampler{
			seed:       seed,
			objective:  obj,
			startup:    max(s.TPEStartupTrials, 1),
			gamma:      s.TPEGamma,
			candidates: max(s.TPECandidates, 1),
		}, nil
	default:
		return nil, adapter.ValidationFailedf("unknown sampler %q (known: %v)", name, SamplerNames).WithField("sampler")
	}
}

func rngFor(seed int64, number int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(number)*0x9e3779b97f4a7c15+1))
}

func seenKeys(history []models.Trial) map[string]bool {
	seen := make(map[string]bool, len(history))
	for _, t := range history {
		seen[Key(t.Params)] = true
	}
	return seen
}

// exhausted reports whether every assignment of a finite space was tried.
// The walk only runs once seen is as large as the space, so it stays small.
func exhausted(space models.SearchSpace, seen map[string]bool) bool {
	card := Cardinality(space)
	return card >= 0 && card <= maxEnumerate && len(seen) >= card && firstUnseen(space, seen, values) == nil
}

// draw samples every parameter independently.
func draw(rng *rand.Rand, space models.SearchSpace) models.Params {
	params := make(models.Params, len(space))
	for _, name := range Names(space) {
		params[name] = drawParam(rng, space[name])
	}
	return params
}

func drawParam(rng *rand.Rand, p models.ParamSpec) interface{} {
	if p.Type == models.ParamCategorical {
		return p.Choices[rng.IntN(len(p.Choices))]
	}
	lo, hi := bounds(p)
	return fromInternal(p, lo+rng.Float64()*(hi-lo))
}

// bounds is the sampling interval in internal (possibly log) units. Int
// ranges are widened by half a step so the end points are as likely as the
// interior.
func bounds(p models.ParamSpec) (float64, float64) {
	lo, hi := p.Low, p.High
	if st := step(p); st > 0 {
		lo -= st / 2
		hi += st / 2
		if p.Log && lo <= 0 {
			lo = p.Low
		}
	}
	if p.Log {
		return math.Log(lo), math.Log(hi)
	}
	return lo, hi
}

func toInternal(p models.ParamSpec, v float64) float64 {
	if p.Log {
		return math.Log(v)
	}
	return v
}

// fromInternal maps x back to a parameter value snapped to its step.
func fromInternal(p models.ParamSpec, x float64) interface{} {
	v := x
	if p.Log {
		v = math.Exp(x)
	}
	if st := step(p); st > 0 {
		k := math.Round((v - p.Low) / st)
		v = p.Low + k*st
		for v > p.High+st*1e-9 {
			v -= st
		}
		if v < p.Low {
			v = p.Low
		}
		v = roundTo(v, st)
	} else {
		v = math.Min(math.Max(v, p.Low), p.High)
	}
	if p.Type == models.ParamInt {
		return int64(math.Round(v))
	}
	return v
}

// firstUnseen walks the grid in mixed-radix order and returns the first
// assignment not in seen.
func firstUnseen(space models.SearchSpace, seen map[string]bool, enum func(models.ParamSpec) []interface{}) models.Params {
	names := Names(space)
	axes := make([][]interface{}, len(names))
	for i, n := range names {
		axes[i] = enum(space[n])
		if len(axes[i]) == 0 {
			return nil
		}
	}
	idx := make([]int, len(names))
	for {
		params := make(models.Params, len(names))
		for i, n := range names {
			params[n] = axes[i][idx[i]]
		}
		if !seen[Key(params)] {
			return params
		}
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i]) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}

// unseenDraw rejection-samples an unseen assignment, falling back to grid
// order once a finite space gets crowded.
func unseenDraw(rng *rand.Rand, space models.SearchSpace, seen map[string]bool) (models.Params, bool) {
	for i := 0; i < maxDrawAttempts; i++ {
		p := draw(rng, space)
		if !seen[Key(p)] {
			return p, true
		}
	}
	if card := Cardinality(space); card < 0 || card > maxEnumerate {
		return nil, false
	}
	if p := firstUnseen(space, seen, values); p != nil {
		return p, true
	}
	return nil, false
}

// RandomSampler draws every parameter uniformly (log-uniformly when Log).
type RandomSampler struct {
	seed int64
}

func (s *RandomSampler) Name() string { return models.SamplerRandom }

func (s *RandomSampler) Suggest(space models.SearchSpace, history []models.Trial, number int) (models.Params, bool, error) {
	seen := seenKeys(history)
	if exhausted(space, seen) {
		return nil, false, nil
	}
	p, ok := unseenDraw(rngFor(s.seed, number), space, seen)
	return p, ok, nil
}

// GridSampler enumerates the space in a fixed order. Unstepped float ranges
// contribute evenly spaced points.
type GridSampler struct{}

func (s *GridSampler) Name() string { return models.SamplerGrid }

func (s *GridSampler) Suggest(space models.SearchSpace, history []models.Trial, _ int) (models.Params, bool, error) {
	p := firstUnseen(space, seenKeys(history), gridValues)
	return p, p != nil, nil
}

// TPESampler is a tree-structured Parzen estimator: past trials are split
// into the best gamma fraction and the rest, and each parameter is drawn
// from candidates maximising l(x)/g(x) of the two kernel densities.
type TPESampler struct {
	seed       int64
	objective  models.Objective
	startup    int
	gamma      float64
	candidates int
}

func (s *TPESampler) Name() string { return models.SamplerTPE }

func (s *TPESampler) Suggest(space models.SearchSpace, history []models.Trial, number int) (models.Params, bool, error) {
	seen := seenKeys(history)
	if exhausted(space, seen) {
		return nil, false, nil
	}
	rng := rngFor(s.seed, number)
	if len(history) < s.startup {
		p, ok := unseenDraw(rng, space, seen)
		return p, ok, nil
	}

	ranked := append([]models.Trial(nil), history...)
	sort.SliceStable(ranked, func(i, j int) bool { return s.objective.Better(ranked[i].Value, ranked[j].Value) })
	nGood := int(math.Ceil(s.gamma * float64(len(ranked))))
	nGood = min(max(nGood, 1), len(ranked)-1)
	good, bad := ranked[:nGood], ranked[nGood:]

	params := make(models.Params, len(space))
	for _, name := range Names(space) {
		p := space[name]
		if p.Type == models.ParamCategorical {
			params[name] = s.categorical(rng, p, name, good, bad)
		} else {
			params[name] = s.numeric(rng, p, name, good, bad)
		}
	}
	if !seen[Key(params)] {
		return params, true, nil
	}
	p, ok := unseenDraw(rng, space, seen)
	return p, ok, nil
}

func observed(p models.ParamSpec, name string, trials []models.Trial) []float64 {
	out := make([]float64, 0, len(trials))
	for _, t := range trials {
		if v, ok := toFloat(t.Params[name]); ok && (!p.Log || v > 0) {
			out = append(out, toInternal(p, v))
		}
	}
	return out
}

// parzen is a Gaussian kernel density mixed with a uniform prior.
type parzen struct {
	points []float64
	sigma  float64
	lo, hi float64
}

func newParzen(points []float64, lo, hi float64) parzen {
	width := hi - lo
	sigma := width
	if n := len(points); n > 0 {
		sigma = width * 1.06 * math.Pow(float64(n), -0.2)
	}
	sigma = math.Min(math.Max(sigma, width/100), width)
	if sigma <= 0 {
		sigma = 1
	}
	return parzen{points: points, sigma: sigma, lo: lo, hi: hi}
}

func (d parzen) pdf(x float64) float64 {
	width := d.hi - d.lo
	prior := 1.0
	if width > 0 {
		prior = 1 / width
	}
	sum := prior
	for _, m := range d.points {
		z := (x - m) / d.sigma
		sum += math.Exp(-z*z/2) / (d.sigma * math.Sqrt(2*math.Pi))
	}
	return sum / float64(len(d.points)+1)
}

func (d parzen) sample(rng *rand.Rand) float64 {
	k := rng.IntN(len(d.points) + 1)
	if k == len(d.points) {
		return d.lo + rng.Float64()*(d.hi-d.lo)
	}
	x := d.points[k] + rng.NormFloat64()*d.sigma
	return math.Min(math.Max(x, d.lo), d.hi)
}

func (s *TPESampler) numeric(rng *rand.Rand, p models.ParamSpec, name string, good, bad []models.Trial) interface{} {
	lo, hi := bounds(p)
	l := newParzen(observed(p, name, good), lo, hi)
	g := newParzen(observed(p, name, bad), lo, hi)
	best, bestScore := lo, math.Inf(-1)
	for i := 0; i < s.candidates; i++ {
		x := l.sample(rng)
		score := math.Log(l.pdf(x)) - math.Log(g.pdf(x))
		if score > bestScore {
			best, bestScore = x, score
		}
	}
	return fromInternal(p, best)
}

func (s *TPESampler) categorical(rng *rand.Rand, p models.ParamSpec, name string, good, bad []models.Trial) interface{} {
	weights := func(trials []models.Trial) []float64 {
		w := make([]float64, len(p.Choices))
		for i := range w {
			w[i] = 1
		}
		for _, t := range trials {
			k := valueKey(t.Params[name])
			for i, c := range p.Choices {
				if valueKey(c) == k {
					w[i]++
				}
			}
		}
		var total float64
		for _, x := range w {
			total += x
		}
		for i := range w {
			w[i] /= total
		}
		return w
	}
	l, g := weights(good), weights(bad)
	best, bestScore := 0, math.Inf(-1)
	for i := 0; i < s.candidates; i++ {
		u, k := rng.Float64(), 0
		for acc := l[0]; acc < u && k < len(l)-1; acc += l[k] {
			k++
		}
		if score := math.Log(l[k]) - math.Log(g[k]); score > bestScore {
			best, bestScore = k, score
		}
	}
	return p.Choices[best]
}
