package models

import "time"

// Holding is the per-bar accounting snapshot of a portfolio.
type Holding struct {
	Time       time.Time          `json:"time"`
	Cash       float64            `json:"cash"`
	Commission float64            `json:"commission"`
	Total      float64            `json:"total"`
	Positions  map[string]float64 `json:"positions,omitempty"`
	Values     map[string]float64 `json:"values,omitempty"`

	OpenTrades        int `json:"open_trades"`
	SubscribedSymbols int `json:"subscribed_symbols"`
}

// Clone copies the snapshot including its maps.
func (h Holding) Clone() Holding {
	out := h
	out.Positions = cloneMap(h.Positions)
	out.Values = cloneMap(h.Values)
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
