package models

import "time"

// Signal is a strategy's trading intent. Price zero means "at the current price".
type Signal struct {
	Symbol    string
	Direction Direction
	Price     float64
	CreatedAt time.Time
}

// Order is a sized and priced instruction pending execution.
type Order struct {
	ID            string
	Signal        Signal
	Symbol        string
	Quantity      float64
	Direction     Direction
	LimitPrice    float64
	EstimatedCost float64
	Commission    float64
	CreatedAt     time.Time

	Filled float64
}

// Remaining is the signed quantity not yet filled.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.Filled
}

// RemainingCost prorates the estimated cost over the unfilled quantity.
func (o *Order) RemainingCost() float64 {
	if o.Quantity == 0 {
		return 0
	}
	return o.EstimatedCost * (o.Remaining() / o.Quantity)
}

// Fill is the executed result of an order. Immutable once created.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	CreatedAt  time.Time `json:"created_at"`
}

// Cost is the signed notional of the fill.
func (f Fill) Cost() float64 {
	return f.Quantity * f.Price
}
