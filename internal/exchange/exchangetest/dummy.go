// Package exchangetest provides an in-memory domain.Exchange for tests.
package exchangetest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange"
)

// DefaultFee is the trading fee of a Dummy venue.
const DefaultFee = 0.002

// DefaultPairs are the markets a Dummy venue lists.
var DefaultPairs = []domain.Pair{
	domain.NewPair("ETH", "BTC"),
	domain.NewPair("XRP", "BTC"),
	domain.NewPair("XRP", "ETH"),
	domain.NewPair("DASH", "ETH"),
	domain.NewPair("XVG", "BTC"),
	domain.NewPair("XVG", "ETH"),
	domain.NewPair("TRX", "BTC"),
	domain.NewPair("NEO", "USDT"),
}

// ErrNotImplemented is returned by data calls the test did not stub.
var ErrNotImplemented = errors.New("exchangetest: not implemented")

// Dummy accepts every order while it has balances, remembers every order it
// accepted (cancels are no-ops) and serves stubbed depth, tickers and
// balances.
type Dummy struct {
	name    string
	fee     float64
	pairs   []domain.Pair
	symbols exchange.Symbols

	mu        sync.Mutex
	balances  map[string]float64
	orders    []domain.Order
	scaling   float64
	depth     map[domain.Pair]domain.Depth
	tickers   map[domain.Pair]float64
	failNext  map[string]error
	cancelled []domain.Order
	calls     map[string]int
}

// Option configures a Dummy.
type Option func(*Dummy)

// WithPartialFills makes QueryActiveOrders report every accepted order with
// its volume multiplied by scaling, as if partially filled.
func WithPartialFills(scaling float64) Option {
	return func(d *Dummy) { d.scaling = scaling }
}

// WithFee overrides DefaultFee.
func WithFee(fee float64) Option {
	return func(d *Dummy) { d.fee = fee }
}

// WithPairs overrides DefaultPairs.
func WithPairs(pairs ...domain.Pair) Option {
	return func(d *Dummy) { d.pairs = slices.Clone(pairs) }
}

// New creates a Dummy venue. A nil balances map makes every submission
// fail with domain.ErrNoFunds.
func New(name string, balances map[string]float64, opts ...Option) *Dummy {
	d := &Dummy{
		name:     name,
		fee:      DefaultFee,
		pairs:    DefaultPairs,
		balances: balances,
		depth:    map[domain.Pair]domain.Depth{},
		failNext: map[string]error{},
		calls:    map[string]int{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.symbols = exchange.NewSymbols(d.pairs, "", false)
	return d
}

func (d *Dummy) Name() string                  { return d.name }
func (d *Dummy) TradingFee() float64           { return d.fee }
func (d *Dummy) TradeablePairs() []domain.Pair { return slices.Clone(d.pairs) }
func (d *Dummy) FormatPair(p domain.Pair) string {
	return d.symbols.Format(p)
}
func (d *Dummy) PairFromSymbol(s string) (domain.Pair, error) {
	return d.symbols.Parse(s)
}

// SetDepth stubs the book GetDepth returns for p.
func (d *Dummy) SetDepth(p domain.Pair, depth domain.Depth) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth[p] = depth
}

// SetTickers stubs GetTicker.
func (d *Dummy) SetTickers(t map[domain.Pair]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickers = maps.Clone(t)
}

// SetBalances replaces the balances GetBalance returns.
func (d *Dummy) SetBalances(b map[string]float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances = maps.Clone(b)
}

// FailNext makes the next call of the named method return err.
func (d *Dummy) FailNext(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext[method] = err
}

// Calls returns how many times a method was invoked.
func (d *Dummy) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// Submitted returns every accepted order.
func (d *Dummy) Submitted() []domain.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.orders)
}

// Cancelled returns every order passed to CancelOrders.
func (d *Dummy) Cancelled() []domain.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.cancelled)
}

// enter records a call and pops a stubbed failure. Callers hold mu.
func (d *Dummy) enter(method string) error {
	d.calls[method]++
	if err, ok := d.failNext[method]; ok {
		delete(d.failNext, method)
		return err
	}
	return nil
}

func (d *Dummy) GetDepth(_ context.Context, p domain.Pair) (domain.Depth, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetDepth"); err != nil {
		return domain.Depth{}, err
	}
	depth, ok := d.depth[p]
	if !ok {
		return domain.Depth{}, ErrNotImplemented
	}
	return depth.Clone(), nil
}

func (d *Dummy) GetTicker(context.Context) (map[domain.Pair]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetTicker"); err != nil {
		return nil, err
	}
	if d.tickers == nil {
		return nil, ErrNotImplemented
	}
	return maps.Clone(d.tickers), nil
}

func (d *Dummy) GetBalance(context.Context) (map[string]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetBalance"); err != nil {
		return nil, err
	}
	if d.balances == nil {
		return nil, ErrNotImplemented
	}
	return maps.Clone(d.balances), nil
}

// SubmitOrder accepts the order under id "DUMMYORD<n>", n being the number
// of orders accepted before.
func (d *Dummy) SubmitOrder(_ context.Context, p domain.Pair, side domain.Side, price, volume string) (domain.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("SubmitOrder"); err != nil {
		return domain.Order{}, err
	}
	if d.balances == nil {
		return domain.Order{}, domain.ErrNoFunds
	}
	pf, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchangetest: %w: price %q", domain.ErrInvalidOrder, price)
	}
	vf, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchangetest: %w: volume %q", domain.ErrInvalidOrder, volume)
	}
	o := domain.Order{
		Price:  pf,
		Volume: vf,
		Side:   side,
		Pair:   p,
		ID:     "DUMMYORD" + strconv.Itoa(len(d.orders)),
	}
	d.orders = append(d.orders, o)
	return o, nil
}

func (d *Dummy) QueryActiveOrders(context.Context) ([]domain.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("QueryActiveOrders"); err != nil {
		return nil, err
	}
	out := slices.Clone(d.orders)
	if d.scaling != 0 {
		for i := range out {
			out[i] = out[i].WithVolume(d.scaling * out[i].Volume)
		}
	}
	return out, nil
}

func (d *Dummy) CancelOrders(_ context.Context, orders []domain.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("CancelOrders"); err != nil {
		return err
	}
	d.cancelled = append(d.cancelled, orders...)
	return nil
}

func (d *Dummy) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enter("Start")
}

func (d *Dummy) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enter("Stop")
}

func (d *Dummy) Reconnect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enter("Reconnect")
}

var _ domain.Exchange = (*Dummy)(nil)
