// Package scheduler drives the trading loop: a tick counter gates the depth
// refresh, trade evaluation and reconciliation phases, each fanned out to a
// bounded worker pool and joined before the next phase starts.
package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/controller"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
	"github.com/alanyoungcy/xarb/internal/state"
)

const defaultWorkers = 8

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of concurrent tasks per phase.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithFiles enables the crash, state and target files.
func WithFiles(f *state.Files) Option {
	return func(s *Scheduler) { s.files = f }
}

// WithJournal records every submitted trade.
func WithJournal(j domain.TradeJournal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// WithAudit records aborts, leg failures and fatal halts.
func WithAudit(a domain.AuditLog) Option {
	return func(s *Scheduler) { s.audit = a }
}

// WithNotifier sends trade, abort and fatal alerts.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithMetrics publishes scheduler and venue metrics.
func WithMetrics(m *metrics.Engine) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithBookMirror copies every refreshed book to an external cache.
func WithBookMirror(c domain.OrderbookCache) Option {
	return func(s *Scheduler) { s.mirror = c }
}

// WithSignalBus publishes submitted trades on channel and appends them to
// stream. Either name may be empty.
func WithSignalBus(bus domain.SignalBus, channel, stream string) Option {
	return func(s *Scheduler) {
		s.bus = bus
		s.channel = channel
		s.stream = stream
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler owns the tick loop over a fixed set of venue controllers.
type Scheduler struct {
	params      *config.Live
	controllers []*controller.Controller
	pairs       map[*controller.Controller][]domain.Pair
	workers     int

	files    *state.Files
	journal  domain.TradeJournal
	audit    domain.AuditLog
	notifier Notifier
	metrics  *metrics.Engine
	mirror   domain.OrderbookCache
	bus      domain.SignalBus
	channel  string
	stream   string
	now      func() time.Time
	logger   *slog.Logger

	// tradeMu serialises the decision to trade across pairs and venues.
	tradeMu sync.Mutex

	// tick and initialized are only touched by the coordinating goroutine.
	tick        int
	initialized bool

	errMu sync.Mutex
	fatal error

	status atomic.Pointer[Status]
}

// New creates a scheduler. Each controller trades the configured pairs its
// venue lists.
func New(params *config.Live, controllers []*controller.Controller, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		params:      params,
		controllers: controllers,
		pairs:       make(map[*controller.Controller][]domain.Pair, len(controllers)),
		workers:     defaultWorkers,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	traded := params.Load().TradedPairs()
	for _, c := range controllers {
		s.pairs[c] = c.SupportedPairs(traded)
	}
	s.publishStatus()
	return s
}

// Run restores any saved session, then ticks every tick interval until ctx
// is cancelled or a fatal error halts trading. On a fatal error the crash
// file is written and the fatal error returned. On cancellation the session
// is saved to the state file and ctx.Err() returned. Either way every
// controller is shut down.
func (s *Scheduler) Run(ctx context.Context) error {
	s.restore()

	interval := s.params.Load().TickInterval.Duration
	s.logger.InfoContext(ctx, "scheduler: started",
		slog.Int("venues", len(s.controllers)),
		slog.Duration("tick_interval", interval),
		slog.Int("workers", s.workers),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			s.halt(ctx, err)
			return err
		}
		select {
		case <-ctx.Done():
			s.stop(ctx)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one iteration of the loop and returns the fatal error, if any.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := time.Now()
	params := s.params.Load()
	defer func() {
		s.readTarget()
		s.tick++
		s.metrics.ObserveTick(time.Since(start))
		s.publishStatus()
	}()

	if s.tick >= params.TickWrap {
		s.logger.Info("scheduler: tick counter wrapped", slog.Int("ticks", s.tick))
		s.tick = 0
	}

	if s.tick > params.DepthWarmup || s.initialized {
		s.phase("depth", func() { s.refreshDepth(ctx) })
		if err := s.Err(); err != nil {
			return err
		}
	}

	if s.tick > params.TradeWarmup || s.initialized {
		if !s.initialized {
			s.initialized = true
			s.logger.InfoContext(ctx, "scheduler: initialized")
		}
		s.phase("trade", func() { s.evaluateTrades(ctx, params) })
		if err := s.Err(); err != nil {
			return err
		}
	}

	if s.initialized && s.tick%params.ReconcileEvery == 0 {
		if err := s.checkBadPrices(params); err != nil {
			s.fail(err)
			return err
		}
		s.phase("reconcile", func() { s.reconcile(ctx, params) })
		if err := s.Err(); err != nil {
			return err
		}
		s.logNewBalances(ctx)
	}
	return nil
}

// Err returns the error that halted trading, if any.
func (s *Scheduler) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.fatal
}

// fail records the first fatal error.
func (s *Scheduler) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.fatal == nil {
		s.fatal = err
	}
}

func (s *Scheduler) phase(name string, fn func()) {
	start := time.Now()
	fn()
	s.metrics.ObservePhase(name, time.Since(start))
}

// pool returns a fresh bounded pool; Wait is the phase barrier.
func (s *Scheduler) pool() *pool.Pool {
	return pool.New().WithMaxGoroutines(s.workers)
}

// refreshDepth fetches every traded book of every venue.
func (s *Scheduler) refreshDepth(ctx context.Context) {
	p := s.pool()
	for _, c := range s.controllers {
		for _, pair := range s.pairs[c] {
			p.Go(func() {
				c.UpdateDepth(ctx, pair)
				s.mirrorDepth(ctx, c, pair)
			})
		}
	}
	p.Wait()
}

func (s *Scheduler) mirrorDepth(ctx context.Context, c *controller.Controller, pair domain.Pair) {
	if s.mirror == nil {
		return
	}
	d, ok := c.Depth(pair)
	if !ok || d.Empty() {
		return
	}
	if err := s.mirror.SetDepth(ctx, c.Name(), pair, d); err != nil {
		s.logger.DebugContext(ctx, "scheduler: book mirror failed",
			slog.String("venue", c.Name()),
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
	}
}

// evaluateTrades runs one profit evaluation per configured pair.
func (s *Scheduler) evaluateTrades(ctx context.Context, params *config.Engine) {
	p := s.pool()
	for _, pair := range params.TradedPairs() {
		p.Go(func() { s.tradePair(ctx, params, pair) })
	}
	p.Wait()
}

// checkBadPrices turns a persistent ticker divergence into a fatal error.
func (s *Scheduler) checkBadPrices(params *config.Engine) error {
	for _, c := range s.controllers {
		bad := c.BadPrices()
		for _, pair := range s.pairs[c] {
			if n := bad[pair]; n >= params.BadPriceLimit {
				return &venueError{venue: c.Name(), pair: pair, err: domain.ErrBadPrice}
			}
		}
	}
	return nil
}

// reconcile runs the ticker cross-check, the balance poll or the order
// poll depending on the tick.
func (s *Scheduler) reconcile(ctx context.Context, params *config.Engine) {
	switch {
	case s.tick%params.TickerEvery == 0:
		tickers := make([]map[domain.Pair]float64, len(s.controllers))
		p := s.pool()
		for i, c := range s.controllers {
			p.Go(func() { tickers[i] = c.FetchTickers(ctx) })
		}
		p.Wait()

		p = s.pool()
		for i, c := range s.controllers {
			for _, pair := range s.pairs[c] {
				p.Go(func() { c.ValidateOrderBook(ctx, pair, tickers[i]) })
			}
		}
		p.Wait()
	case s.tick%params.BalanceEvery == 0:
		p := s.pool()
		for _, c := range s.controllers {
			p.Go(func() {
				if c.ConnectionLost() {
					_ = c.Reconnect(ctx)
				}
				c.UpdateAllBalances(ctx)
			})
		}
		p.Wait()
	default:
		p := s.pool()
		for _, c := range s.controllers {
			p.Go(func() { c.QueryActiveOrders(ctx) })
		}
		p.Wait()
	}
}

func (s *Scheduler) logNewBalances(ctx context.Context) {
	detected := false
	for _, c := range s.controllers {
		if c.TakeNewBalance() {
			detected = true
		}
	}
	if detected {
		s.logger.InfoContext(ctx, "scheduler: portfolio balances",
			slog.Any("balances", sumBalances(s.controllers, (*controller.Controller).Balances)))
	}
}

// sumBalances adds up a balance table across venues. A currency first seen
// with a zero amount is left out.
func sumBalances(controllers []*controller.Controller, pick func(*controller.Controller) map[string]float64) map[string]float64 {
	out := map[string]float64{}
	for _, c := range controllers {
		for ccy, v := range pick(c) {
			if _, ok := out[ccy]; ok {
				out[ccy] += v
			} else if v != 0 {
				out[ccy] = v
			}
		}
	}
	return out
}

// venueError ties a fatal condition to the venue and pair that raised it.
type venueError struct {
	venue string
	pair  domain.Pair
	err   error
}

func (e *venueError) Error() string {
	return "scheduler: " + e.venue + " " + e.pair.String() + ": " + e.err.Error()
}

func (e *venueError) Unwrap() error { return e.err }

// tradeVenues returns the venues that may trade pair under params.
func (s *Scheduler) tradeVenues(params *config.Engine, pair domain.Pair) []*controller.Controller {
	out := make([]*controller.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		if params.IsBlacklisted(c.Name()) || !slices.Contains(s.pairs[c], pair) {
			continue
		}
		out = append(out, c)
	}
	return out
}
