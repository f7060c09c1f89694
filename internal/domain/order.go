package domain

import (
	"fmt"
	"time"
)

// Side indicates whether an order buys or sells the base currency.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy", "Buy":
		return SideBuy, nil
	case "SELL", "sell", "Sell":
		return SideSell, nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, s)
}

// Order is a priced, sized intent or a resting venue order. Orders are
// values: derive a new one with WithPrice/WithVolume instead of mutating.
// Book levels are Orders with no side, pair or id.
type Order struct {
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Side   Side      `json:"side,omitempty"`
	Pair   Pair      `json:"pair"`
	ID     string    `json:"id,omitempty"`
	Time   time.Time `json:"time"`
}

// Level builds a bare price/volume order as used in depth ladders.
func Level(price, volume float64) Order {
	return Order{Price: price, Volume: volume}
}

// WithPrice returns a copy of o at a new price.
func (o Order) WithPrice(p float64) Order {
	o.Price = p
	return o
}

// WithVolume returns a copy of o with a new volume.
func (o Order) WithVolume(v float64) Order {
	o.Volume = v
	return o
}

// WithPair returns a copy of o bound to a market and side.
func (o Order) WithPair(p Pair, s Side) Order {
	o.Pair = p
	o.Side = s
	return o
}

// Validate enforces non-negative price and volume.
func (o Order) Validate() error {
	if o.Price < 0 || o.Volume < 0 {
		return fmt.Errorf("%w: price %v volume %v", ErrInvalidOrder, o.Price, o.Volume)
	}
	return nil
}

// Notional is price times volume, before fees.
func (o Order) Notional() float64 {
	return o.Price * o.Volume
}

// OrderRecord is the persisted shape of an order in crash and state files.
type OrderRecord struct {
	P    float64 `json:"p"`
	V    float64 `json:"v"`
	Type Side    `json:"type"`
	Pair string  `json:"pair"`
	ID   string  `json:"id"`
}

// Record converts the order to its persisted shape.
func (o Order) Record() OrderRecord {
	return OrderRecord{P: o.Price, V: o.Volume, Type: o.Side, Pair: o.Pair.String(), ID: o.ID}
}

// Order converts a persisted record back into an order.
func (r OrderRecord) Order() (Order, error) {
	pair, err := ParsePair(r.Pair)
	if err != nil {
		return Order{}, err
	}
	side, err := ParseSide(string(r.Type))
	if err != nil {
		return Order{}, err
	}
	o := Order{Price: r.P, Volume: r.V, Side: side, Pair: pair, ID: r.ID}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}
