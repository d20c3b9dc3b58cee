// Package errs holds the error taxonomy of the replay engine.
//
// Bar validation errors (InsufficientHistory, StaleBar, NoBars) are recoverable
// and swallowed at the strategy hook boundary. Everything else terminates the
// portfolio that raised it.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTradeClosed     = errors.New("trade already closed")
	ErrEmptyHoldings   = errors.New("portfolio with empty holdings")
	ErrPortfolioFailed = errors.New("portfolio failed")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrRunNotFound     = errors.New("run not found")
	ErrInvalidRun      = errors.New("invalid run request")
)

// InsufficientHistoryError means fewer bars exist than were requested.
type InsufficientHistoryError struct {
	Symbol    string
	Requested int
	Available int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("not enough bars for %s: requested %d, have %d", e.Symbol, e.Requested, e.Available)
}

// StaleBarError means a requested bar has a zero close print.
type StaleBarError struct {
	Symbol string
	Time   time.Time
}

func (e *StaleBarError) Error() string {
	return fmt.Sprintf("bar for %s at %s has a zero close", e.Symbol, e.Time.Format(time.DateTime))
}

// NoBarsError means no bar or price has been replayed yet for the symbol.
type NoBarsError struct {
	Symbol string
}

func (e *NoBarsError) Error() string {
	if e.Symbol == "" {
		return "no bars"
	}
	return fmt.Sprintf("no bars for %s", e.Symbol)
}

// IsBarValidation reports whether err belongs to the recoverable bar family.
func IsBarValidation(err error) bool {
	var ih *InsufficientHistoryError
	var sb *StaleBarError
	var nb *NoBarsError
	return errors.As(err, &ih) || errors.As(err, &sb) || errors.As(err, &nb)
}

// BarInvariantError lists every OHLC violation found while loading.
type BarInvariantError struct {
	Violations []string
}

func (e *BarInvariantError) Error() string {
	return "possible inconsistencies in data, cancelling backtest:\n" + strings.Join(e.Violations, "\n")
}

// TimestampParseError is raised for an unparseable bar timestamp.
type TimestampParseError struct {
	Source string
	Line   int
	Value  string
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("%s:%d: unparseable timestamp %q", e.Source, e.Line, e.Value)
}

// ReservedSymbolError is raised for symbols clashing with accounting columns.
type ReservedSymbolError struct {
	Symbol string
}

func (e *ReservedSymbolError) Error() string {
	return fmt.Sprintf("symbol %q is reserved", e.Symbol)
}

// ExecutionPriceOutOfBandError is raised for a signal priced outside today's range.
type ExecutionPriceOutOfBandError struct {
	Strategy string
	Time     time.Time
	Symbol   string
	Price    float64
	High     float64
	Low      float64
}

func (e *ExecutionPriceOutOfBandError) Error() string {
	return fmt.Sprintf("execution price out of band: strategy %s, time %s, symbol %s, price %g, high %g, low %g",
		e.Strategy, e.Time.Format(time.DateTime), e.Symbol, e.Price, e.High, e.Low)
}

// NegativeExecutionPriceError is raised for a signal priced at or below zero.
type NegativeExecutionPriceError struct {
	Strategy string
	Time     time.Time
	Symbol   string
	Price    float64
}

func (e *NegativeExecutionPriceError) Error() string {
	return fmt.Sprintf("can't execute signal with non-positive price: strategy %s, time %s, symbol %s, price %g",
		e.Strategy, e.Time.Format(time.DateTime), e.Symbol, e.Price)
}

// IsSignalValidation reports whether err is a rejected execution price.
func IsSignalValidation(err error) bool {
	var ob *ExecutionPriceOutOfBandError
	var np *NegativeExecutionPriceError
	return errors.As(err, &ob) || errors.As(err, &np)
}

// NonMonotonicTimeError is raised when a bar does not advance the clock.
type NonMonotonicTimeError struct {
	Previous time.Time
	Current  time.Time
}

func (e *NonMonotonicTimeError) Error() string {
	return fmt.Sprintf("new bar at %s is not after previous snapshot at %s",
		e.Current.Format(time.DateTime), e.Previous.Format(time.DateTime))
}

// InvariantError reports a broken accounting invariant.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Reason
}

// Invariantf builds an InvariantError.
func Invariantf(format string, a ...any) error {
	return &InvariantError{Reason: fmt.Sprintf(format, a...)}
}

// DuplicateFillError is raised for a fill that does not match any outstanding quantity.
type DuplicateFillError struct {
	OrderID  string
	Symbol   string
	Quantity float64
	Reason   string
}

func (e *DuplicateFillError) Error() string {
	return fmt.Sprintf("rejected fill for order %s (%s, qty %g): %s", e.OrderID, e.Symbol, e.Quantity, e.Reason)
}

// HeartbeatLostError is the terminal error of a live broker session.
type HeartbeatLostError struct {
	Since time.Duration
}

func (e *HeartbeatLostError) Error() string {
	return fmt.Sprintf("broker heartbeat lost for %s", e.Since)
}

// IsFatal reports whether err must terminate the portfolio's run.
func IsFatal(err error) bool {
	return err != nil && !IsBarValidation(err)
}
