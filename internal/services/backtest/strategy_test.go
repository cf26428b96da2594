package backtest

import (
	"testing"

	"hfttools/pkg/adapter"
)

func TestParseStrategyDefaults(t *testing.T) {
	s, err := ParseStrategy(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "unknown" || s.PositionSize != 1 || len(s.Signals) != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestParseStrategyMomentum(t *testing.T) {
	doc := map[string]interface{}{
		"metadata": map[string]interface{}{"name": "mom"},
		"signals": map[string]interface{}{
			"fast": map[string]interface{}{
				"type":   "momentum",
				"params": map[string]interface{}{"windowSize": 5.0},
				"weight": 2.0,
			},
		},
		"exit": map[string]interface{}{
			"stopLoss":       map[string]interface{}{"value": 0.02},
			"maxHoldingBars": map[string]interface{}{"value": 12.0},
		},
		"position": map[string]interface{}{"size": 0.5},
	}
	s, err := ParseStrategy(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "mom" || s.PositionSize != 0.5 {
		t.Fatalf("unexpected strategy: %+v", s)
	}
	if len(s.Signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(s.Signals))
	}
	sig := s.Signals[0]
	if sig.Params["windowSize"] != 5 || sig.Params["threshold"] != 0 || sig.Weight != 2 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
	if s.Exit.StopLoss != 0.02 || s.Exit.MaxHoldingBars != 12 || s.Exit.TakeProfit != 0 {
		t.Fatalf("unexpected exit rules: %+v", s.Exit)
	}
}

func TestParseStrategyRejects(t *testing.T) {
	sig := func(body map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"signals": map[string]interface{}{"s": body}}
	}
	cases := []struct {
		name  string
		doc   map[string]interface{}
		field string
	}{
		{"unknown type", sig(map[string]interface{}{"type": "astrology"}), "strategy.signals.s.type"},
		{"unknown param", sig(map[string]interface{}{"type": "momentum", "params": map[string]interface{}{"lookback": 3.0}}), "strategy.signals.s.params.lookback"},
		{"fractional window", sig(map[string]interface{}{"type": "breakout", "params": map[string]interface{}{"windowSize": 2.5}}), "strategy.signals.s.params.windowSize"},
		{"window below min", sig(map[string]interface{}{"type": "mean_reversion", "params": map[string]interface{}{"windowSize": 1.0}}), "strategy.signals.s.params.windowSize"},
		{"string param", sig(map[string]interface{}{"type": "ofi", "params": map[string]interface{}{"threshold": "high"}}), "strategy.signals.s.params.threshold"},
		{"unknown key", sig(map[string]interface{}{"type": "ofi", "colour": "red"}), "strategy.signals.s.colour"},
		{"zero weight", sig(map[string]interface{}{"type": "ofi", "weight": 0.0}), "strategy.signals.s.weight"},
		{"signals not object", map[string]interface{}{"signals": []interface{}{1.0}}, "strategy.signals"},
		{"stop loss too large", map[string]interface{}{"exit": map[string]interface{}{"stopLoss": map[string]interface{}{"value": 1.5}}}, "strategy.exit.stopLoss.value"},
		{"unknown exit", map[string]interface{}{"exit": map[string]interface{}{"trailing": map[string]interface{}{"value": 0.1}}}, "strategy.exit.trailing"},
		{"position too large", map[string]interface{}{"position": map[string]interface{}{"size": 11.0}}, "strategy.position.size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStrategy(tc.doc)
			if !adapter.IsKind(err, adapter.KindValidationFailed) {
				t.Fatalf("expected ValidationFailed, got %v", err)
			}
			ae := err.(*adapter.Error)
			if ae.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, ae.Field)
			}
		})
	}
}

func TestSignalTypesSorted(t *testing.T) {
	got := SignalTypes()
	want := []string{"breakout", "mean_reversion", "momentum", "ofi"}
	if len(got) != len(want) {
		t.Fatalf("unexpected types %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected types %v", got)
		}
	}
}
