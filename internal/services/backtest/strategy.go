package backtest

import (
	"fmt"
	"math"
	"sort"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
)

// paramDef declares one signal parameter and its default.
type paramDef struct {
	def     float64
	integer bool
	min     float64
}

var signalParams = map[string]map[string]paramDef{
	models.SignalMomentum: {
		"windowSize": {def: 20, integer: true, min: 1},
		"threshold":  {def: 0, min: 0},
	},
	models.SignalMeanReversion: {
		"windowSize": {def: 20, integer: true, min: 2},
		"threshold":  {def: 2, min: 0},
	},
	models.SignalBreakout: {
		"windowSize": {def: 20, integer: true, min: 1},
	},
	models.SignalOFI: {
		"windowSize": {def: 10, integer: true, min: 1},
		"threshold":  {def: 0.3, min: 0},
	},
}

var exitRules = map[string]bool{"stopLoss": true, "takeProfit": true, "maxHoldingBars": true}

// SignalTypes lists the recognised signal types in stable order.
func SignalTypes() []string {
	out := make([]string, 0, len(signalParams))
	for t := range signalParams {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ParseStrategy validates a strategy document and returns its engine-neutral
// form. Unknown signal types, parameters or exit rules are rejected.
func ParseStrategy(doc map[string]interface{}) (models.Strategy, error) {
	s := models.Strategy{
		Name:         "unknown",
		PositionSize: 1,
		Document:     doc,
	}
	if doc == nil {
		return s, nil
	}

	if meta, ok := doc["metadata"].(map[string]interface{}); ok {
		s.Name = mustStr(meta, "name", s.Name)
	}

	if raw, ok := doc["signals"]; ok && raw != nil {
		sigs, ok := raw.(map[string]interface{})
		if !ok {
			return s, adapter.ValidationFailedf("strategy.signals must be an object keyed by signal name").WithField("strategy.signals")
		}
		names := make([]string, 0, len(sigs))
		for name := range sigs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec, err := parseSignal(name, sigs[name])
			if err != nil {
				return s, err
			}
			s.Signals = append(s.Signals, spec)
		}
	}

	if raw, ok := doc["exit"]; ok && raw != nil {
		exit, ok := raw.(map[string]interface{})
		if !ok {
			return s, adapter.ValidationFailedf("strategy.exit must be an object").WithField("strategy.exit")
		}
		rules, err := parseExit(exit)
		if err != nil {
			return s, err
		}
		s.Exit = rules
	}

	if pos, ok := doc["position"].(map[string]interface{}); ok {
		size, err := num(pos, "size", 1)
		if err != nil {
			return s, adapter.ValidationFailedf("strategy.position.size: %v", err).WithField("strategy.position.size")
		}
		if size <= 0 || size > 10 {
			return s, adapter.ValidationFailedf("strategy.position.size must be in (0, 10], got %v", size).WithField("strategy.position.size")
		}
		s.PositionSize = size
	}

	return s, nil
}

func parseSignal(name string, raw interface{}) (models.SignalSpec, error) {
	field := "strategy.signals." + name
	m, ok := raw.(map[string]interface{})
	if !ok {
		return models.SignalSpec{}, adapter.ValidationFailedf("%s must be an object", field).WithField(field)
	}

	typ := mustStr(m, "type", "")
	defs, ok := signalParams[typ]
	if !ok {
		return models.SignalSpec{}, adapter.ValidationFailedf("%s: unknown signal type %q (known: %v)", field, typ, SignalTypes()).WithField(field + ".type")
	}

	spec := models.SignalSpec{Name: name, Type: typ, Weight: 1, Params: make(map[string]float64, len(defs))}
	for k, d := range defs {
		spec.Params[k] = d.def
	}

	if rawParams, ok := m["params"]; ok && rawParams != nil {
		params, ok := rawParams.(map[string]interface{})
		if !ok {
			return spec, adapter.ValidationFailedf("%s.params must be an object", field).WithField(field + ".params")
		}
		for k := range params {
			d, known := defs[k]
			if !known {
				return spec, adapter.ValidationFailedf("%s: unknown parameter %q for signal type %q", field, k, typ).WithField(field + ".params." + k)
			}
			v, err := num(params, k, d.def)
			if err != nil {
				return spec, adapter.ValidationFailedf("%s.params.%s: %v", field, k, err).WithField(field + ".params." + k)
			}
			if d.integer && v != math.Trunc(v) {
				return spec, adapter.ValidationFailedf("%s.params.%s must be an integer, got %v", field, k, v).WithField(field + ".params." + k)
			}
			if v < d.min {
				return spec, adapter.ValidationFailedf("%s.params.%s must be >= %v, got %v", field, k, d.min, v).WithField(field + ".params." + k)
			}
			spec.Params[k] = v
		}
	}

	if _, ok := m["weight"]; ok {
		w, err := num(m, "weight", 1)
		if err != nil || w <= 0 {
			return spec, adapter.ValidationFailedf("%s.weight must be a positive number", field).WithField(field + ".weight")
		}
		spec.Weight = w
	}

	for k := range m {
		switch k {
		case "type", "params", "weight", "description", "enabled":
		default:
			return spec, adapter.ValidationFailedf("%s: unknown key %q", field, k).WithField(field + "." + k)
		}
	}
	return spec, nil
}

func parseExit(exit map[string]interface{}) (models.ExitRules, error) {
	var rules models.ExitRules
	for k, raw := range exit {
		field := "strategy.exit." + k
		if !exitRules[k] {
			return rules, adapter.ValidationFailedf("%s: unknown exit rule (known: maxHoldingBars, stopLoss, takeProfit)", field).WithField(field)
		}
		m, ok := raw.(map[string]interface{})
		if !ok {
			return rules, adapter.ValidationFailedf("%s must be an object with a value", field).WithField(field)
		}
		v, err := num(m, "value", 0)
		if err != nil {
			return rules, adapter.ValidationFailedf("%s.value: %v", field, err).WithField(field + ".value")
		}
		if v < 0 {
			return rules, adapter.ValidationFailedf("%s.value must not be negative, got %v", field, v).WithField(field + ".value")
		}
		switch k {
		case "stopLoss":
			if v >= 1 {
				return rules, adapter.ValidationFailedf("%s.value is a fraction of entry price and must be < 1", field).WithField(field + ".value")
			}
			rules.StopLoss = v
		case "takeProfit":
			rules.TakeProfit = v
		case "maxHoldingBars":
			if v != math.Trunc(v) {
				return rules, adapter.ValidationFailedf("%s.value must be an integer", field).WithField(field + ".value")
			}
			rules.MaxHoldingBars = int(v)
		}
	}
	return rules, nil
}

// num reads a numeric key, rejecting non-numeric values rather than
// silently defaulting.
func num(m map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
}

func mustStr(m map[string]interface{}, key string, def string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}
