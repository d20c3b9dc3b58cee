package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a named strategy instance from numeric parameters.
type Factory func(name string, params map[string]float64) (Strategy, error)

// Registry holds strategy factories by kind for selection by config.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add kinds.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtins returns a registry preloaded with the bundled strategies.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register("buy_and_hold", NewBuyAndHold)
	r.Register("ma_crossover", NewMACrossover)
	r.Register("bollinger_reversion", NewBollingerReversion)
	return r
}

// Register adds a factory under the given kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New instantiates a strategy of the given kind.
func (r *Registry) New(kind, name string, params map[string]float64) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy kind %q not found", kind)
	}
	if name == "" {
		name = kind
	}
	return f(name, params)
}

// List returns all registered kinds, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}
