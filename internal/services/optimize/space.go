package optimize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
)

const (
	// gridPoints is how many values a continuous or very wide range
	// contributes to a grid.
	gridPoints = 5

	// maxEnumerate bounds how many values one range is expanded into.
	maxEnumerate = 1 << 16

	// maxCardinality caps Cardinality; larger spaces count as unbounded.
	maxCardinality = 1 << 30
)

// ParseSearchSpace reads {searchSpace: {...}, objective: {...}} or a flat map
// of parameter specs. A missing objective means maximize sharpe_ratio.
func ParseSearchSpace(doc map[string]interface{}) (models.SearchSpace, models.Objective, error) {
	obj := models.Objective{Metric: "sharpe_ratio", Direction: models.Maximize}
	params := doc
	if inner, ok := doc["searchSpace"]; ok {
		m, ok := inner.(map[string]interface{})
		if !ok {
			return nil, obj, adapter.ValidationFailedf("searchSpace.searchSpace must be an object").WithField("searchSpace.searchSpace")
		}
		params = m
		if raw, ok := doc["objective"]; ok && raw != nil {
			o, ok := raw.(map[string]interface{})
			if !ok {
				return nil, obj, adapter.ValidationFailedf("searchSpace.objective must be an object").WithField("searchSpace.objective")
			}
			if s, ok := o["metric"].(string); ok && s != "" {
				obj.Metric = s
			}
			if s, ok := o["direction"].(string); ok && s != "" {
				obj.Direction = s
			}
		}
	}
	if err := CheckObjective(obj); err != nil {
		return nil, obj, err
	}
	if len(params) == 0 {
		return nil, obj, adapter.ValidationFailedf("search space has no parameters").WithField("searchSpace")
	}

	space := make(models.SearchSpace, len(params))
	for name, raw := range params {
		field := "searchSpace." + name
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, obj, adapter.ValidationFailedf("%s: %v", field, err).WithField(field)
		}
		var spec models.ParamSpec
		dec := json.NewDecoder(strings.NewReader(string(b)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, obj, adapter.ValidationFailedf("%s: %v", field, err).WithField(field)
		}
		if err := checkParam(name, spec); err != nil {
			return nil, obj, err
		}
		space[name] = spec
	}
	return space, obj, nil
}

// CheckObjective validates the metric name and direction.
func CheckObjective(obj models.Objective) error {
	if !models.IsObjectiveMetric(obj.Metric) {
		return adapter.ValidationFailedf("unknown objective metric %q (known: %s)", obj.Metric, strings.Join(models.ObjectiveMetrics, ", ")).WithField("searchSpace.objective.metric")
	}
	if obj.Direction != models.Maximize && obj.Direction != models.Minimize {
		return adapter.ValidationFailedf("objective direction must be maximize or minimize, got %q", obj.Direction).WithField("searchSpace.objective.direction")
	}
	return nil
}

func checkParam(name string, p models.ParamSpec) error {
	field := "searchSpace." + name
	bad := func(format string, args ...interface{}) error {
		return adapter.ValidationFailedf(field+": "+format, args...).WithField(field)
	}
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return bad("invalid parameter path")
	}
	switch p.Type {
	case models.ParamInt, models.ParamFloat:
		if math.IsNaN(p.Low) || math.IsNaN(p.High) || p.Low > p.High {
			return bad("low must not exceed high (low=%v, high=%v)", p.Low, p.High)
		}
		if p.Step < 0 {
			return bad("step must be positive")
		}
		if p.Log && p.Low <= 0 {
			return bad("log scale needs low > 0")
		}
		if p.Type == models.ParamInt {
			if p.Low != math.Trunc(p.Low) || p.High != math.Trunc(p.High) || p.Step != math.Trunc(p.Step) {
				return bad("int bounds and step must be whole numbers")
			}
		}
		if len(p.Choices) > 0 {
			return bad("choices only apply to categorical parameters")
		}
	case models.ParamCategorical:
		if len(p.Choices) == 0 {
			return bad("categorical parameter needs choices")
		}
		seen := make(map[string]bool, len(p.Choices))
		for _, c := range p.Choices {
			k := valueKey(c)
			if seen[k] {
				return bad("duplicate choice %v", c)
			}
			seen[k] = true
		}
	default:
		return bad("unknown type %q (known: int, float, categorical)", p.Type)
	}
	return nil
}

// Names returns the parameter paths in stable order.
func Names(space models.SearchSpace) []string {
	out := make([]string, 0, len(space))
	for n := range space {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// step returns the effective grid step; zero means continuous.
func step(p models.ParamSpec) float64 {
	if p.Type == models.ParamInt && p.Step == 0 {
		return 1
	}
	return p.Step
}

// count returns how many values p can take without expanding them, or -1
// for a continuous range. Counts past maxCardinality are clamped to
// maxCardinality+1.
func count(p models.ParamSpec) int {
	if p.Type == models.ParamCategorical {
		return len(p.Choices)
	}
	st := step(p)
	if st == 0 {
		return -1
	}
	n := math.Floor((p.High-p.Low)/st+1e-9) + 1
	if n > maxCardinality {
		return maxCardinality + 1
	}
	return int(n)
}

// values enumerates the finite values of p. It returns nil for a continuous
// range and for one wider than maxEnumerate.
func values(p models.ParamSpec) []interface{} {
	if p.Type == models.ParamCategorical {
		return p.Choices
	}
	n := count(p)
	if n < 0 || n > maxEnumerate {
		return nil
	}
	st := step(p)
	out := make([]interface{}, 0, n)
	for k := 0; k < n; k++ {
		v := p.Low + float64(k)*st
		if p.Type == models.ParamInt {
			out = append(out, int64(v))
		} else {
			out = append(out, roundTo(v, st))
		}
	}
	return out
}

// gridValues is values, with continuous and very wide ranges sampled at
// gridPoints evenly spaced points snapped to their step.
func gridValues(p models.ParamSpec) []interface{} {
	if vs := values(p); vs != nil {
		return vs
	}
	lo, hi := p.Low, p.High
	if p.Log {
		lo, hi = math.Log(lo), math.Log(hi)
	}
	out := make([]interface{}, 0, gridPoints)
	for i := 0; i < gridPoints; i++ {
		frac := float64(i) / float64(gridPoints-1)
		out = append(out, fromInternal(p, lo+frac*(hi-lo)))
	}
	return out
}

// Cardinality returns the number of distinct assignments, or -1 when a
// parameter is continuous or the product exceeds maxCardinality.
func Cardinality(space models.SearchSpace) int {
	n := 1
	for _, p := range space {
		c := count(p)
		if c <= 0 || c > maxCardinality || n > maxCardinality/c {
			return -1
		}
		n *= c
	}
	return n
}

// Key is the canonical identity of an assignment. Numbers compare by value,
// so an int sampled now matches the float64 it becomes after persistence.
func Key(params models.Params) string {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(valueKey(params[n]))
		b.WriteByte(';')
	}
	return b.String()
}

func valueKey(v interface{}) string {
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func roundTo(v, st float64) float64 {
	digits := 0
	for s := st; s != math.Trunc(s) && digits < 12; s *= 10 {
		digits++
	}
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
