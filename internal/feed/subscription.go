package feed

import "sort"

// Subscriptions is one consumer's filter over scoped market events.
// An empty set means every symbol; Reset runs at every market open.
type Subscriptions struct {
	universe []string
	symbols  map[string]struct{}
	none     bool
}

func NewSubscriptions(universe []string) *Subscriptions {
	return &Subscriptions{universe: universe, symbols: make(map[string]struct{})}
}

// Reset drops every subscription so all symbols are delivered again.
func (s *Subscriptions) Reset() {
	s.symbols = make(map[string]struct{})
	s.none = false
}

func (s *Subscriptions) Subscribe(symbol string) {
	s.symbols[symbol] = struct{}{}
}

// Unsubscribe removes symbol. Unsubscribing from an empty set starts from the
// whole universe; draining the set delivers every symbol again.
func (s *Subscriptions) Unsubscribe(symbol string) {
	if len(s.symbols) == 0 {
		for _, u := range s.universe {
			s.symbols[u] = struct{}{}
		}
	}
	delete(s.symbols, symbol)
}

// UnsubscribeAll mutes every symbol until the next Reset.
func (s *Subscriptions) UnsubscribeAll() {
	s.none = true
}

// Wants reports whether scoped events for symbol should be delivered.
func (s *Subscriptions) Wants(symbol string) bool {
	if s.none {
		return false
	}
	if len(s.symbols) == 0 {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// Count is the number of symbols currently delivered.
func (s *Subscriptions) Count() int {
	switch {
	case s.none:
		return 0
	case len(s.symbols) == 0:
		return len(s.universe)
	default:
		return len(s.symbols)
	}
}

// Symbols lists the explicit subscriptions, sorted.
func (s *Subscriptions) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for k := range s.symbols {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
