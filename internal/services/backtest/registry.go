package backtest

import (
	"sort"

	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
)

// Engines resolves backtest engines by name.
type Engines struct {
	byName map[string]repository.BacktestEngine
	def    string
}

// NewEngines registers engines; def is used when a request names none.
func NewEngines(def string, engines ...repository.BacktestEngine) *Engines {
	e := &Engines{byName: make(map[string]repository.BacktestEngine, len(engines)), def: def}
	for _, eng := range engines {
		if eng != nil {
			e.byName[eng.Name()] = eng
		}
	}
	return e
}

// Get returns the engine called name, or the default for "".
func (e *Engines) Get(name string) (repository.BacktestEngine, error) {
	if name == "" {
		name = e.def
	}
	eng, ok := e.byName[name]
	if !ok {
		return nil, adapter.ValidationFailedf("unknown engine %q (known: %v)", name, e.Names()).WithField("config.engine")
	}
	return eng, nil
}

// Names lists registered engines in stable order.
func (e *Engines) Names() []string {
	out := make([]string, 0, len(e.byName))
	for n := range e.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
