package models

import "time"

// SubType labels one step of the per-bar replay sequence.
type SubType string

const (
	BeforeOpen SubType = "before_open"
	Open       SubType = "open"
	During     SubType = "during"
	Close      SubType = "close"
	AfterClose SubType = "after_close"
)

// Phase orders the price context of a bar. The two during steps are distinct phases.
type Phase int

const (
	PhaseBeforeOpen Phase = iota
	PhaseOpen
	PhaseDuringFirst
	PhaseDuringSecond
	PhaseClose
	PhaseAfterClose
)

// SubType maps a phase to its event label.
func (p Phase) SubType() SubType {
	switch p {
	case PhaseBeforeOpen:
		return BeforeOpen
	case PhaseOpen:
		return Open
	case PhaseDuringFirst, PhaseDuringSecond:
		return During
	case PhaseClose:
		return Close
	default:
		return AfterClose
	}
}

// MarketEvent is one sub-event of a replayed bar. Symbol is empty for
// before_open and after_close.
type MarketEvent struct {
	SubType SubType
	Phase   Phase
	Symbol  string
	Time    time.Time
}

// Scoped reports whether the event targets a single symbol.
func (e MarketEvent) Scoped() bool {
	return e.Symbol != ""
}
