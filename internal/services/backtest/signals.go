package backtest

import (
	"math"

	"hfttools/internal/domain/models"
)

// Signal votes in [-1, 1] at bar i; positive means long.
type Signal interface {
	Warmup() int
	Vote(bars []models.Record, i int) float64
}

func newSignal(spec models.SignalSpec) Signal {
	w := int(spec.Params["windowSize"])
	th := spec.Params["threshold"]
	switch spec.Type {
	case models.SignalMomentum:
		return momentum{window: w, threshold: th}
	case models.SignalMeanReversion:
		return meanReversion{window: w, threshold: th}
	case models.SignalBreakout:
		return breakout{window: w}
	case models.SignalOFI:
		return orderFlow{window: w, threshold: th}
	default:
		// ParseStrategy rejects unknown types before this point.
		return flat{}
	}
}

type flat struct{}

func (flat) Warmup() int                           { return 0 }
func (flat) Vote(_ []models.Record, _ int) float64 { return 0 }

// momentum follows the return over the window.
type momentum struct {
	window    int
	threshold float64
}

func (s momentum) Warmup() int { return s.window }

func (s momentum) Vote(bars []models.Record, i int) float64 {
	base := bars[i-s.window].Close
	if base <= 0 {
		return 0
	}
	ret := bars[i].Close/base - 1
	switch {
	case ret > s.threshold:
		return 1
	case ret < -s.threshold:
		return -1
	default:
		return 0
	}
}

// meanReversion fades closes that stray threshold standard deviations from
// the window mean.
type meanReversion struct {
	window    int
	threshold float64
}

func (s meanReversion) Warmup() int { return s.window }

func (s meanReversion) Vote(bars []models.Record, i int) float64 {
	var sum, sumSq float64
	for j := i - s.window; j < i; j++ {
		c := bars[j].Close
		sum += c
		sumSq += c * c
	}
	n := float64(s.window)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance <= 0 {
		return 0
	}
	z := (bars[i].Close - mean) / math.Sqrt(variance)
	switch {
	case z > s.threshold:
		return -1
	case z < -s.threshold:
		return 1
	default:
		return 0
	}
}

// breakout goes with a close beyond the prior window's range.
type breakout struct {
	window int
}

func (s breakout) Warmup() int { return s.window }

func (s breakout) Vote(bars []models.Record, i int) float64 {
	hi, lo := math.Inf(-1), math.Inf(1)
	for j := i - s.window; j < i; j++ {
		hi = math.Max(hi, bars[j].High)
		lo = math.Min(lo, bars[j].Low)
	}
	c := bars[i].Close
	switch {
	case c > hi:
		return 1
	case c < lo:
		return -1
	default:
		return 0
	}
}

// orderFlow approximates order flow imbalance from bars: each bar's body
// relative to its range, weighted by volume.
type orderFlow struct {
	window    int
	threshold float64
}

func (s orderFlow) Warmup() int { return s.window - 1 }

func (s orderFlow) Vote(bars []models.Record, i int) float64 {
	var flow, vol float64
	for j := i - s.window + 1; j <= i; j++ {
		b := bars[j]
		rng := b.High - b.Low
		if rng <= 0 {
			continue
		}
		flow += (b.Close - b.Open) / rng * b.Volume
		vol += b.Volume
	}
	if vol <= 0 {
		return 0
	}
	imb := flow / vol
	switch {
	case imb > s.threshold:
		return 1
	case imb < -s.threshold:
		return -1
	default:
		return 0
	}
}
