package models

import (
	"math"
	"time"
)

// RawBar is one row as read from a bar source, before normalization.
type RawBar struct {
	Time     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	AdjClose float64
	HasAdj   bool
}

// Bar is one OHLCV record for one symbol at one timestamp.
// Filled marks a bar synthesized by forward-fill during alignment.
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Filled bool      `json:"filled,omitempty"`
}

// PriceField selects one price column of a bar.
type PriceField string

const (
	FieldOpen  PriceField = "open"
	FieldHigh  PriceField = "high"
	FieldLow   PriceField = "low"
	FieldClose PriceField = "close"
)

// Value returns the selected price. Unknown fields fall back to close.
func (b Bar) Value(f PriceField) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	default:
		return b.Close
	}
}

// Bars is a window of consecutive bars, oldest first.
type Bars []Bar

// Last returns the most recent bar of the window.
func (bs Bars) Last() Bar {
	return bs[len(bs)-1]
}

// Values extracts one price column.
func (bs Bars) Values(f PriceField) []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Value(f)
	}
	return out
}

// MAvg is the simple moving average of the selected column over the window.
func (bs Bars) MAvg(f PriceField) float64 {
	if len(bs) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bs {
		sum += b.Value(f)
	}
	return sum / float64(len(bs))
}

// Bollinger returns the mean and the bands k population standard deviations away.
func (bs Bars) Bollinger(k float64, f PriceField) (mid, upper, lower float64) {
	if len(bs) == 0 {
		return 0, 0, 0
	}
	mid = bs.MAvg(f)
	var ss float64
	for _, b := range bs {
		d := b.Value(f) - mid
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(bs)))
	return mid, mid + k*sd, mid - k*sd
}
