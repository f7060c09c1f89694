package domain

import "context"

// Exchange is the capability set a venue adapter provides to its
// Controller. Any method may fail; the Controller absorbs failures.
type Exchange interface {
	Name() string
	TradingFee() float64
	// TradeablePairs lists the pairs the venue lists.
	TradeablePairs() []Pair

	// FormatPair renders a pair in the venue's symbol spelling and
	// PairFromSymbol reverses it.
	FormatPair(p Pair) string
	PairFromSymbol(symbol string) (Pair, error)

	GetDepth(ctx context.Context, p Pair) (Depth, error)
	GetTicker(ctx context.Context) (map[Pair]float64, error)
	GetBalance(ctx context.Context) (map[string]float64, error)

	// SubmitOrder places a limit order; price and volume are already
	// formatted to the venue's precision.
	SubmitOrder(ctx context.Context, p Pair, side Side, price, volume string) (Order, error)
	QueryActiveOrders(ctx context.Context) ([]Order, error)
	CancelOrders(ctx context.Context, orders []Order) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reconnect(ctx context.Context) error
}
