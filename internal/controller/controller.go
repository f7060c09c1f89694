// Package controller tracks the tradable state of one venue: live and
// self-tracked balances, the open-order registry, the cached order books and
// the stale-order resubmission protocol.
package controller

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/domain"
)

// OrderState is the order-tracking state of a venue.
type OrderState int

const (
	// StateIdle: no resting order is known.
	StateIdle OrderState = iota
	// StateTracking: resting orders exist and are checked against the book.
	StateTracking
	// StateResubmitting: stale orders were cancelled and wait for
	// resubmission at the current mid price.
	StateResubmitting
)

func (s OrderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateResubmitting:
		return "resubmitting"
	}
	return "unknown"
}

// MarshalText renders the state name.
func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const defaultCallTimeout = 10 * time.Second

// Controller owns the session state of one venue. Ledger fields are guarded
// by mu; depth has its own lock because the depth phase refreshes pairs of
// the same venue in parallel.
type Controller struct {
	xchg        domain.Exchange
	name        string
	fee         float64
	params      *config.Engine
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time
	sim         *simulation

	mu               sync.Mutex
	balances         map[string]float64
	previousBalances map[string]float64
	offline          map[string]float64
	initial          map[string]float64
	orders           map[string]domain.Order
	resubmit         []domain.Order
	state            OrderState
	badPrices        map[domain.Pair]int
	poorCcy          map[string]float64
	connectionLost   bool
	reconnecting     bool
	newBalance       bool
	pendingNoticeAt  time.Time
	spreadNoticeAt   map[domain.Pair]time.Time

	depthMu sync.RWMutex
	depth   map[domain.Pair]domain.Depth
}

// Option configures a Controller.
type Option func(*Controller)

// WithCallTimeout bounds every Exchange call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithBalances seeds live, previous, offline and initial balances, as if a
// first balance poll had returned b.
func WithBalances(b map[string]float64) Option {
	return func(c *Controller) {
		c.balances = maps.Clone(b)
		c.previousBalances = maps.Clone(b)
		c.offline = maps.Clone(b)
		c.initial = maps.Clone(b)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates the controller of one venue.
func New(xchg domain.Exchange, params *config.Engine, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		xchg:             xchg,
		name:             xchg.Name(),
		fee:              xchg.TradingFee(),
		params:           params,
		callTimeout:      defaultCallTimeout,
		now:              time.Now,
		balances:         map[string]float64{},
		previousBalances: map[string]float64{},
		offline:          map[string]float64{},
		initial:          map[string]float64{},
		orders:           map[string]domain.Order{},
		badPrices:        map[domain.Pair]int{},
		poorCcy:          map[string]float64{},
		spreadNoticeAt:   map[domain.Pair]time.Time{},
		depth:            map[domain.Pair]domain.Depth{},
	}
	for _, p := range xchg.TradeablePairs() {
		c.badPrices[p] = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With(slog.String("component", "controller"), slog.String("venue", c.name))
	// The pending-order notice is due as soon as an order becomes active.
	c.pendingNoticeAt = c.now().Add(-params.PendingNotice.Duration)
	return c
}

// Name is the venue name.
func (c *Controller) Name() string { return c.name }

// Fee is the venue trading fee as a fraction.
func (c *Controller) Fee() float64 { return c.fee }

// Exchange returns the wrapped adapter.
func (c *Controller) Exchange() domain.Exchange { return c.xchg }

// SupportedPairs filters pairs down to the ones the venue lists.
func (c *Controller) SupportedPairs(pairs []domain.Pair) []domain.Pair {
	listed := c.xchg.TradeablePairs()
	out := make([]domain.Pair, 0, len(pairs))
	for _, p := range pairs {
		if slices.Contains(listed, p) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Controller) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// Balance returns the live balance of a currency (0 when unknown).
func (c *Controller) Balance(ccy string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[ccy]
}

// Balances returns a copy of the live balances.
func (c *Controller) Balances() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.balances)
}

// OfflineBalances returns a copy of the self-tracked balances.
func (c *Controller) OfflineBalances() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.offline)
}

// InitialBalances returns a copy of the baseline balances.
func (c *Controller) InitialBalances() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.initial)
}

// Orders returns the open-order registry sorted by id.
func (c *Controller) Orders() []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedOrders(c.orders)
}

// PendingResubmits returns the resubmission queue.
func (c *Controller) PendingResubmits() []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.resubmit)
}

// State returns the order-tracking state.
func (c *Controller) State() OrderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionLost reports whether the last venue call failed.
func (c *Controller) ConnectionLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionLost
}

// BadPrices returns the consecutive bad-price counter of each pair.
func (c *Controller) BadPrices() map[domain.Pair]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.badPrices)
}

// TakeNewBalance reports and resets the new-balance flag.
func (c *Controller) TakeNewBalance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.newBalance
	c.newBalance = false
	return v
}

// MarkBusy records that orders are about to be placed, blocking further
// trades on this venue until the order poll finds none resting.
func (c *Controller) MarkBusy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		c.state = StateTracking
	}
}

// CheckActiveOrders reports whether a resting order blocks new trades. The
// "pending order" notice is logged at most once per pending-notice interval.
func (c *Controller) CheckActiveOrders() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	interval := c.params.PendingNotice.Duration
	now := c.now()
	if c.state == StateIdle {
		c.pendingNoticeAt = now.Add(-interval)
		return false
	}
	if !now.Before(c.pendingNoticeAt.Add(interval)) {
		c.pendingNoticeAt = now
		c.logger.Info("controller: trade aborted, venue has a pending order")
	}
	return true
}

// ShouldReportSpread rate-limits the wide bid-ask spread notice per pair.
func (c *Controller) ShouldReportSpread(p domain.Pair) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if last, ok := c.spreadNoticeAt[p]; ok && !now.After(last.Add(c.params.SpreadNotice.Duration)) {
		return false
	}
	c.spreadNoticeAt[p] = now
	return true
}

// Reconnect restarts the venue session. Concurrent calls while a reconnect
// is pending are ignored; the next balance poll clears the flag.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	for p := range c.badPrices {
		c.badPrices[p] = 0
	}
	c.mu.Unlock()

	c.clear()
	c.logger.WarnContext(ctx, "controller: reconnecting")
	if err := restartExchange(ctx, c.xchg, c.callTimeout); err != nil {
		c.logger.ErrorContext(ctx, "controller: reconnect failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Shutdown clears cached state and stops the venue session.
func (c *Controller) Shutdown(ctx context.Context) {
	c.clear()
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.xchg.Stop(cctx); err != nil {
		c.logger.WarnContext(ctx, "controller: stop failed", slog.String("error", err.Error()))
	}
}

// clear drops live balances and cached books.
func (c *Controller) clear() {
	c.mu.Lock()
	c.balances = map[string]float64{}
	c.mu.Unlock()
	c.clearDepth()
}

// Status is a point-in-time view of a venue for status reporting.
type Status struct {
	Venue            string             `json:"venue"`
	State            OrderState         `json:"state"`
	ConnectionLost   bool               `json:"connection_lost"`
	Reconnecting     bool               `json:"reconnecting"`
	Balances         map[string]float64 `json:"balances"`
	OfflineBalances  map[string]float64 `json:"offline_balances"`
	InitialBalances  map[string]float64 `json:"initial_balances"`
	OpenOrders       []domain.Order     `json:"open_orders"`
	PendingResubmits int                `json:"pending_resubmits"`
	BadPrices        map[string]int     `json:"bad_prices"`
}

// Status copies the public state of the venue.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	bad := make(map[string]int, len(c.badPrices))
	for p, n := range c.badPrices {
		if n > 0 {
			bad[p.String()] = n
		}
	}
	return Status{
		Venue:            c.name,
		State:            c.state,
		ConnectionLost:   c.connectionLost,
		Reconnecting:     c.reconnecting,
		Balances:         maps.Clone(c.balances),
		OfflineBalances:  maps.Clone(c.offline),
		InitialBalances:  maps.Clone(c.initial),
		OpenOrders:       sortedOrders(c.orders),
		PendingResubmits: len(c.resubmit),
		BadPrices:        bad,
	}
}

func sortedOrders(m map[string]domain.Order) []domain.Order {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b domain.Order) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// nonZero filters out zero balances for logging.
func nonZero(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
