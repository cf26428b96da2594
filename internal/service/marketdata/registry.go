package marketdata

import (
	"sort"

	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
)

// Source names accepted in requests.
const (
	SourceCSV       = "csv"
	SourceBinance   = "binance"
	SourceSynthetic = "synthetic"
)

// Registry resolves market data sources by name.
type Registry struct {
	sources map[string]repository.MarketDataSource
}

// NewRegistry registers sources under their Name.
func NewRegistry(sources ...repository.MarketDataSource) *Registry {
	r := &Registry{sources: make(map[string]repository.MarketDataSource, len(sources))}
	for _, s := range sources {
		if s != nil {
			r.sources[s.Name()] = s
		}
	}
	return r
}

// Get returns the source called name.
func (r *Registry) Get(name string) (repository.MarketDataSource, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, adapter.ValidationFailedf("unknown source %q (known: %v)", name, r.Names()).WithField("source")
	}
	return s, nil
}

// Names lists registered sources in stable order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sources))
	for n := range r.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
