package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
)

const (
	defaultSyntheticLimit = 5_000_000

	syntheticStartPrice = 100.0
	quoteStep           = time.Second
	bookStep            = 10 * time.Second
	bookLevels          = 5
	meanTradeGap        = 2 * time.Second
)

// SyntheticSource generates a seeded random walk for every data type. The
// same request always yields the same records.
type SyntheticSource struct {
	limit int
}

// NewSyntheticSource creates a generator that refuses requests larger than
// limit records (0 selects the default).
func NewSyntheticSource(limit int) *SyntheticSource {
	if limit <= 0 {
		limit = defaultSyntheticLimit
	}
	return &SyntheticSource{limit: limit}
}

func (s *SyntheticSource) Name() string { return SourceSynthetic }

func (s *SyntheticSource) Supports(t models.DataType) bool { return t.Valid() }

func (s *SyntheticSource) Fetch(ctx context.Context, req models.FetchRequest) ([]models.Record, error) {
	step := s.step(req)
	span := req.End.Sub(req.Start)
	if span <= 0 {
		return nil, nil
	}
	estimate := int64(span / step)
	if req.DataType == models.DataOrderbook {
		estimate *= bookLevels
	}
	if estimate > int64(s.limit) {
		return nil, adapter.ValidationFailedf("range too large for synthetic %s data: about %d records, limit %d", req.DataType, estimate, s.limit).WithField("endDate")
	}

	g := &walk{
		rng:   rand.New(rand.NewPCG(uint64(req.Seed), salt(req.Instrument, req.DataType))),
		price: syntheticStartPrice,
		inst:  req.Instrument,
	}
	out := make([]models.Record, 0, estimate)
	n := 0
	emit := func(r models.Record) error {
		n++
		if n%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		out = append(out, r)
		return nil
	}

	var err error
	switch req.DataType {
	case models.DataBars:
		err = g.bars(req.Start, req.End, step, emit)
	case models.DataTrades:
		err = g.trades(req.Start, req.End, emit)
	case models.DataQuotes:
		err = g.quotes(req.Start, req.End, emit)
	case models.DataOrderbook:
		err = g.book(req.Start, req.End, emit)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SyntheticSource) step(req models.FetchRequest) time.Duration {
	switch req.DataType {
	case models.DataBars:
		if req.Interval > 0 {
			return req.Interval
		}
		return time.Minute
	case models.DataQuotes:
		return quoteStep
	case models.DataOrderbook:
		return bookStep
	default:
		return meanTradeGap
	}
}

func salt(instrument string, t models.DataType) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(instrument))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(t))
	return h.Sum64()
}

type walk struct {
	rng   *rand.Rand
	price float64
	inst  string
}

// move advances the mid price by a normal log return with the given sigma.
func (w *walk) move(sigma float64) float64 {
	w.price *= math.Exp(w.rng.NormFloat64() * sigma)
	return w.price
}

func firstAligned(from time.Time, step time.Duration) time.Time {
	t := from.Truncate(step)
	if t.Before(from) {
		t = t.Add(step)
	}
	return t
}

func (w *walk) bars(from, to time.Time, step time.Duration, emit func(models.Record) error) error {
	sigma := 0.001 * math.Sqrt(step.Minutes())
	for t := firstAligned(from, step); t.Before(to); t = t.Add(step) {
		o := w.price
		c := w.move(sigma)
		hi := math.Max(o, c) * (1 + math.Abs(w.rng.NormFloat64())*sigma/2)
		lo := math.Min(o, c) * (1 - math.Abs(w.rng.NormFloat64())*sigma/2)
		err := emit(models.Record{
			Timestamp: t, Instrument: w.inst,
			Open: round8(o), High: round8(hi), Low: round8(lo), Close: round8(c),
			Volume: round8(1 + w.rng.ExpFloat64()*10),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) trades(from, to time.Time, emit func(models.Record) error) error {
	var seq int64
	t := from
	for {
		t = t.Add(time.Duration(w.rng.ExpFloat64() * float64(meanTradeGap)))
		if !t.Before(to) {
			return nil
		}
		p := w.move(0.0002)
		side := "buy"
		if w.rng.IntN(2) == 0 {
			side = "sell"
		}
		err := emit(models.Record{
			Timestamp: t.Truncate(time.Millisecond), Seq: seq, Instrument: w.inst,
			Price: round8(p), Size: round8(0.001 + w.rng.ExpFloat64()*0.5), Side: side,
		})
		if err != nil {
			return err
		}
		seq++
	}
}

func (w *walk) quotes(from, to time.Time, emit func(models.Record) error) error {
	for t := firstAligned(from, quoteStep); t.Before(to); t = t.Add(quoteStep) {
		mid := w.move(0.0001)
		half := mid * 0.0001 * (1 + w.rng.Float64())
		err := emit(models.Record{
			Timestamp: t, Instrument: w.inst,
			BidPrice: round8(mid - half), BidSize: round8(w.rng.ExpFloat64() * 2),
			AskPrice: round8(mid + half), AskSize: round8(w.rng.ExpFloat64() * 2),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) book(from, to time.Time, emit func(models.Record) error) error {
	var seq int64
	for t := firstAligned(from, bookStep); t.Before(to); t = t.Add(bookStep) {
		mid := w.move(0.0003)
		half := mid * 0.0001 * (1 + w.rng.Float64())
		tick := mid * 0.0001
		for lvl := 0; lvl < bookLevels; lvl++ {
			err := emit(models.Record{
				Timestamp: t, Seq: seq, Level: lvl, Instrument: w.inst,
				BidPrice: round8(mid - half - float64(lvl)*tick), BidSize: round8(w.rng.ExpFloat64() * float64(lvl+1)),
				AskPrice: round8(mid + half + float64(lvl)*tick), AskSize: round8(w.rng.ExpFloat64() * float64(lvl+1)),
			})
			if err != nil {
				return err
			}
		}
		seq++
	}
	return nil
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
