package strategy

import (
	"fmt"
	"sort"

	"position_trader/internal/core"
)

// Registry maps configured strategy names to instances
type Registry struct {
	strategies map[string]core.IStrategy
}

func NewRegistry(strategies ...core.IStrategy) *Registry {
	r := &Registry{strategies: make(map[string]core.IStrategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s core.IStrategy) {
	r.strategies[s.Name()] = s
}

func (r *Registry) Get(name string) (core.IStrategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, r.Names())
	}
	return s, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the strategy for every configured instrument, keyed by instrument id
func (r *Registry) Resolve(configs []core.PositionConfig) (map[string]core.IStrategy, error) {
	out := make(map[string]core.IStrategy, len(configs))
	for _, cfg := range configs {
		s, err := r.Get(cfg.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.ProductID, err)
		}
		out[cfg.ProductID] = s
	}
	return out, nil
}
