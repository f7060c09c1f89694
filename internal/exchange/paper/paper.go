// Package paper implements a simulated venue whose books come from the
// shared order book registry (fed by the depth stream) and whose limit
// orders fill against those books.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange"
	"github.com/alanyoungcy/xarb/internal/orderbook"
)

// Venue is a book-backed paper trading venue. Funds for a resting order are
// held at submission and released on cancel; an order fills in full once
// the opposite side of the book crosses its limit price.
type Venue struct {
	name    string
	fee     float64
	pairs   []domain.Pair
	symbols exchange.Symbols
	books   *orderbook.Registry
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	started  bool
	balances map[string]float64
	resting  map[string]domain.Order
	held     map[string]float64
}

// Option configures a Venue.
type Option func(*Venue)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Venue) { v.now = now }
}

// WithIDs replaces the uuid order id generator, for tests.
func WithIDs(next func() string) Option {
	return func(v *Venue) { v.newID = next }
}

// New creates a paper venue from its configuration. Balances seed the free
// funds.
func New(cfg config.VenueConfig, books *orderbook.Registry, logger *slog.Logger, opts ...Option) (*Venue, error) {
	pairs, err := exchange.ParsePairs(cfg.Pairs)
	if err != nil {
		return nil, fmt.Errorf("paper: venue %s: %w", cfg.Name, err)
	}
	name := strings.ToUpper(cfg.Name)
	v := &Venue{
		name:     name,
		fee:      cfg.Fee,
		pairs:    pairs,
		symbols:  exchange.NewSymbols(pairs, cfg.SymbolSeparator, cfg.SymbolUpper),
		books:    books,
		logger:   logger.With(slog.String("component", "paper"), slog.String("venue", name)),
		now:      time.Now,
		newID:    uuid.NewString,
		balances: maps.Clone(cfg.Balances),
		resting:  map[string]domain.Order{},
		held:     map[string]float64{},
	}
	if v.balances == nil {
		v.balances = map[string]float64{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Venue) Name() string                  { return v.name }
func (v *Venue) TradingFee() float64           { return v.fee }
func (v *Venue) TradeablePairs() []domain.Pair { return slices.Clone(v.pairs) }

func (v *Venue) FormatPair(p domain.Pair) string { return v.symbols.Format(p) }

func (v *Venue) PairFromSymbol(s string) (domain.Pair, error) { return v.symbols.Parse(s) }

func (v *Venue) listed(p domain.Pair) bool { return slices.Contains(v.pairs, p) }

func (v *Venue) checkStarted() error {
	if !v.started {
		return fmt.Errorf("paper: %s: %w", v.name, domain.ErrConnectionLost)
	}
	return nil
}

func (v *Venue) depth(p domain.Pair) domain.Depth {
	b, ok := v.books.Lookup(v.name, p)
	if !ok {
		return domain.Depth{}
	}
	return b.Snapshot()
}

// GetDepth returns the current book of p and fills resting orders it
// crosses.
func (v *Venue) GetDepth(ctx context.Context, p domain.Pair) (domain.Depth, error) {
	if err := ctx.Err(); err != nil {
		return domain.Depth{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStarted(); err != nil {
		return domain.Depth{}, err
	}
	if !v.listed(p) {
		return domain.Depth{}, fmt.Errorf("paper: %s: %w", p, domain.ErrInvalidPair)
	}
	d := v.depth(p)
	v.matchPair(p, d)
	return d, nil
}

// GetTicker reports the mid price of every listed pair with a two sided
// book.
func (v *Venue) GetTicker(ctx context.Context) (map[domain.Pair]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStarted(); err != nil {
		return nil, err
	}
	out := make(map[domain.Pair]float64, len(v.pairs))
	for _, p := range v.pairs {
		if d := v.depth(p); !d.Empty() {
			out[p] = d.Mid()
		}
	}
	return out, nil
}

// GetBalance returns the free funds; amounts held by resting orders are
// excluded.
func (v *Venue) GetBalance(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStarted(); err != nil {
		return nil, err
	}
	v.matchAll()
	return maps.Clone(v.balances), nil
}

// SubmitOrder holds the funds of a limit order and fills it at once when
// the book already crosses.
func (v *Venue) SubmitOrder(ctx context.Context, p domain.Pair, side domain.Side, price, volume string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	pf, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("paper: %w: price %q", domain.ErrInvalidOrder, price)
	}
	vf, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("paper: %w: volume %q", domain.ErrInvalidOrder, volume)
	}
	if pf <= 0 || vf <= 0 {
		return domain.Order{}, fmt.Errorf("paper: %w: price %v volume %v", domain.ErrInvalidOrder, pf, vf)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStarted(); err != nil {
		return domain.Order{}, err
	}
	if !v.listed(p) {
		return domain.Order{}, fmt.Errorf("paper: %s: %w", p, domain.ErrInvalidPair)
	}

	ccy, amount := v.holdFor(p, side, pf, vf)
	if v.balances[ccy] < amount {
		return domain.Order{}, fmt.Errorf("paper: %s needs %v %s, has %v: %w", side, amount, ccy, v.balances[ccy], domain.ErrNoFunds)
	}
	v.balances[ccy] -= amount

	o := domain.Order{Price: pf, Volume: vf, Side: side, Pair: p, ID: v.newID(), Time: v.now()}
	v.resting[o.ID] = o
	v.held[o.ID] = amount
	v.logger.DebugContext(ctx, "paper: order accepted",
		slog.String("id", o.ID),
		slog.String("pair", p.String()),
		slog.String("side", string(side)),
		slog.Float64("price", pf),
		slog.Float64("volume", vf),
	)
	v.matchPair(p, v.depth(p))
	return o, nil
}

// holdFor is the currency and amount reserved by an order.
func (v *Venue) holdFor(p domain.Pair, side domain.Side, price, volume float64) (string, float64) {
	if side == domain.SideBuy {
		return p.Alt, float64(price*volume) * (1 + v.fee)
	}
	return p.Base, volume
}

// QueryActiveOrders returns resting orders, oldest first.
func (v *Venue) QueryActiveOrders(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStarted(); err != nil {
		return nil, err
	}
	v.matchAll()
	out := slices.Collect(maps.Values(v.resting))
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// CancelOrders releases the funds of every listed resting order. Unknown
// or already filled ids are ignored.
func (v *Venue) CancelOrders(ctx context.Context, orders []domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkStarted(); err != nil {
		return err
	}
	for _, o := range orders {
		r, ok := v.resting[o.ID]
		if !ok {
			continue
		}
		ccy, _ := v.holdFor(r.Pair, r.Side, r.Price, r.Volume)
		v.balances[ccy] += v.held[o.ID]
		delete(v.resting, o.ID)
		delete(v.held, o.ID)
	}
	return nil
}

func (v *Venue) matchAll() {
	for _, p := range v.pairs {
		v.matchPair(p, v.depth(p))
	}
}

// matchPair fills resting orders of p crossed by d. Callers hold mu.
func (v *Venue) matchPair(p domain.Pair, d domain.Depth) {
	for id, o := range v.resting {
		if o.Pair != p {
			continue
		}
		switch {
		case o.Side == domain.SideBuy && len(d.Asks) > 0 && d.Asks[0].Price <= o.Price:
			v.balances[p.Base] += o.Volume
		case o.Side == domain.SideSell && len(d.Bids) > 0 && d.Bids[0].Price >= o.Price:
			v.balances[p.Alt] += float64(o.Price*o.Volume) * (1 - v.fee)
		default:
			continue
		}
		delete(v.resting, id)
		delete(v.held, id)
		v.logger.Info("paper: order filled",
			slog.String("id", id),
			slog.String("pair", p.String()),
			slog.String("side", string(o.Side)),
			slog.Float64("price", o.Price),
			slog.Float64("volume", o.Volume),
		)
	}
}

func (v *Venue) Start(context.Context) error {
	v.mu.Lock()
	v.started = true
	v.mu.Unlock()
	v.logger.Info("paper: started")
	return nil
}

// Stop disconnects the venue and drops its books until the feed refills
// them.
func (v *Venue) Stop(context.Context) error {
	v.mu.Lock()
	v.started = false
	v.mu.Unlock()
	v.books.ClearVenue(v.name)
	return nil
}

func (v *Venue) Reconnect(ctx context.Context) error {
	return v.Start(ctx)
}

var _ domain.Exchange = (*Venue)(nil)
