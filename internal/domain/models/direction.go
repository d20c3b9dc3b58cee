package models

import "fmt"

// Direction is the side of a signal, order or fill.
type Direction string

const (
	Buy   Direction = "BUY"
	Sell  Direction = "SELL"
	Short Direction = "SHORT"
	Cover Direction = "COVER"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Buy, Sell, Short, Cover:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Opening reports whether the direction opens a position.
func (d Direction) Opening() bool {
	return d == Buy || d == Short
}

// Closing reports whether the direction closes a position.
func (d Direction) Closing() bool {
	return d == Sell || d == Cover
}

// PriceSign is +1 when paying up is adverse (BUY, COVER) and -1 otherwise.
func (d Direction) PriceSign() float64 {
	if d == Sell || d == Short {
		return -1
	}
	return 1
}

// Closes returns the direction that closes a position opened with d.
func (d Direction) Closes() Direction {
	switch d {
	case Buy:
		return Sell
	case Short:
		return Cover
	default:
		return ""
	}
}
