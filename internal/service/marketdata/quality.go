package marketdata

import (
	"sort"
	"strconv"
	"time"

	"hfttools/internal/domain/models"
)

// maxReportedGaps bounds the gap list; missing points still count every gap.
const maxReportedGaps = 100

// Clean sorts records by key, drops duplicate keys (first wins) and profiles
// the result. expected is the nominal spacing; zero means the median spacing
// of the series.
func Clean(records []models.Record, dataType models.DataType, expected time.Duration) ([]models.Record, models.DataQuality, models.DataSummary) {
	q := models.DataQuality{Gaps: []models.Gap{}}
	sum := models.DataSummary{Coverage: "0%"}

	sorted := append([]models.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key().Less(sorted[j].Key()) })

	clean := sorted[:0]
	for _, r := range sorted {
		if n := len(clean); n > 0 && r.Key() == clean[n-1].Key() {
			q.DuplicatesRemoved++
			continue
		}
		if anomalous(dataType, r) {
			q.Anomalies++
		}
		clean = append(clean, r)
	}
	if len(clean) == 0 {
		return clean, q, sum
	}

	stamps := distinctTimes(clean)
	if expected <= 0 {
		expected = medianSpacing(stamps)
	}
	if expected > 0 {
		for i := 1; i < len(stamps); i++ {
			d := stamps[i].Sub(stamps[i-1])
			if d <= 2*expected {
				continue
			}
			missing := int(d/expected) - 1
			q.MissingDataPoints += missing
			if len(q.Gaps) < maxReportedGaps {
				q.Gaps = append(q.Gaps, models.Gap{
					Start:         stamps[i-1].UTC().Format(time.RFC3339Nano),
					End:           stamps[i].UTC().Format(time.RFC3339Nano),
					MissingPoints: missing,
				})
			}
		}
	}

	first := clean[0].Timestamp.UTC().Format(time.RFC3339Nano)
	last := clean[len(clean)-1].Timestamp.UTC().Format(time.RFC3339Nano)
	sum.FirstTimestamp = &first
	sum.LastTimestamp = &last
	sum.Coverage = coverage(len(stamps), q.MissingDataPoints)
	return clean, q, sum
}

func anomalous(t models.DataType, r models.Record) bool {
	switch t {
	case models.DataBars:
		return r.Open <= 0 || r.High <= 0 || r.Low <= 0 || r.Close <= 0 || r.Volume < 0 ||
			r.High < r.Low || r.High < max(r.Open, r.Close) || r.Low > min(r.Open, r.Close)
	case models.DataTrades:
		return r.Price <= 0 || r.Size <= 0
	case models.DataQuotes, models.DataOrderbook:
		return r.BidPrice <= 0 || r.AskPrice <= 0 || r.BidSize < 0 || r.AskSize < 0 || r.BidPrice > r.AskPrice
	}
	return false
}

func distinctTimes(recs []models.Record) []time.Time {
	out := make([]time.Time, 0, len(recs))
	for i, r := range recs {
		if i > 0 && r.Timestamp.Equal(recs[i-1].Timestamp) {
			continue
		}
		out = append(out, r.Timestamp)
	}
	return out
}

func medianSpacing(stamps []time.Time) time.Duration {
	if len(stamps) < 2 {
		return 0
	}
	deltas := make([]time.Duration, 0, len(stamps)-1)
	for i := 1; i < len(stamps); i++ {
		deltas = append(deltas, stamps[i].Sub(stamps[i-1]))
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return deltas[len(deltas)/2]
}

// coverage renders present/(present+missing) as a percentage with at most
// one decimal, e.g. "100%" or "97.5%".
func coverage(present, missing int) string {
	if present == 0 {
		return "0%"
	}
	pct := float64(present) / float64(present+missing) * 100
	pct = float64(int64(pct*10+0.5)) / 10
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%"
}
