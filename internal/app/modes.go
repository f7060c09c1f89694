package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/controller"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange/paper"
	"github.com/alanyoungcy/xarb/internal/exchange/ratelimit"
	"github.com/alanyoungcy/xarb/internal/feed"
	"github.com/alanyoungcy/xarb/internal/orderbook"
	"github.com/alanyoungcy/xarb/internal/scheduler"
	"github.com/alanyoungcy/xarb/internal/server"
	"github.com/alanyoungcy/xarb/internal/server/handler"
	"github.com/alanyoungcy/xarb/internal/server/ws"
	"github.com/alanyoungcy/xarb/internal/state"
)

// LiveMode trades with the balances the venues report.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting live mode")
	return a.runEngine(ctx, deps, false)
}

// SimulateMode trades against the configured simulation balances and books
// every order locally.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting simulate mode")
	return a.runEngine(ctx, deps, true)
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, simulate bool) error {
	lease, err := a.acquireLease(ctx, deps)
	if err != nil {
		return err
	}
	if lease != nil {
		defer lease.Release()
	}

	live := config.NewLive(a.cfg.Engine)
	params := live.Load()
	books := orderbook.NewRegistry(params.BookDepth, params.MinOrderbookVolume)

	controllers, err := a.buildControllers(ctx, deps, params, books, simulate)
	if err != nil {
		return err
	}
	if len(controllers) == 0 {
		return errors.New("app: no tradable venue configured")
	}
	if len(controllers) < 2 {
		a.logger.WarnContext(ctx, "app: a single venue cannot arbitrage", slog.String("venue", controllers[0].Name()))
	}

	sched := scheduler.New(live, controllers, a.logger, a.schedulerOptions(deps, params)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	if lease != nil {
		g.Go(func() error { return a.refreshLease(gctx, lease) })
	}
	a.startFeed(gctx, g, deps, books, controllers)
	a.startServer(gctx, g, deps, sched, params)
	return g.Wait()
}

// buildControllers creates a controller for every configured venue that is
// not blacklisted and starts its adapter.
func (a *App) buildControllers(ctx context.Context, deps *Dependencies, params *config.Engine, books *orderbook.Registry, simulate bool) ([]*controller.Controller, error) {
	var out []*controller.Controller
	for _, vc := range a.cfg.Venues {
		if params.IsBlacklisted(vc.Name) {
			a.logger.InfoContext(ctx, "app: venue blacklisted", slog.String("venue", vc.Name))
			continue
		}

		var xchg domain.Exchange
		switch vc.Kind {
		case config.VenueKindPaper:
			v, err := paper.New(vc, books, a.logger)
			if err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
			xchg = v
		default:
			return nil, fmt.Errorf("app: venue %s: unsupported kind %q", vc.Name, vc.Kind)
		}
		xchg = a.throttle(xchg, vc, deps)

		opts := []controller.Option{controller.WithCallTimeout(params.CallTimeout.Duration)}
		if simulate {
			opts = append(opts, controller.WithSimulation(params.SimulationBalances))
		}
		c := controller.New(xchg, params, a.logger, opts...)
		if err := xchg.Start(ctx); err != nil {
			// The balance poll retries connection-lost venues.
			a.logger.WarnContext(ctx, "app: venue start failed",
				slog.String("venue", c.Name()),
				slog.String("error", err.Error()),
			)
		}
		out = append(out, c)
	}
	return out, nil
}

// throttle applies the venue rate limit, shared across instances when Redis
// is available.
func (a *App) throttle(x domain.Exchange, vc config.VenueConfig, deps *Dependencies) domain.Exchange {
	if vc.RateLimit <= 0 {
		return x
	}
	var opts []ratelimit.Option
	if deps.Limiter != nil {
		opts = append(opts, ratelimit.WithShared(deps.Limiter, "ratelimit:venue:"+vc.Name, int(math.Ceil(vc.RateLimit)), time.Second))
	}
	return ratelimit.Wrap(x, vc.RateLimit, opts...)
}

func (a *App) schedulerOptions(deps *Dependencies, params *config.Engine) []scheduler.Option {
	var fileOpts []state.Option
	if deps.Archiver != nil {
		fileOpts = append(fileOpts, state.WithArchiver(deps.Archiver))
	}
	opts := []scheduler.Option{
		scheduler.WithWorkers(params.Workers),
		scheduler.WithMetrics(deps.Metrics),
		scheduler.WithFiles(state.NewFiles(a.cfg.Files, a.logger, fileOpts...)),
	}
	if deps.Trades != nil {
		opts = append(opts, scheduler.WithJournal(deps.Trades))
	}
	if deps.Audit != nil {
		opts = append(opts, scheduler.WithAudit(deps.Audit))
	}
	if deps.Notifier != nil {
		opts = append(opts, scheduler.WithNotifier(deps.Notifier))
	}
	if deps.BookMirror != nil {
		opts = append(opts, scheduler.WithBookMirror(deps.BookMirror))
	}
	if deps.Bus != nil {
		opts = append(opts, scheduler.WithSignalBus(deps.Bus, a.cfg.Redis.TradeChannel, a.cfg.Redis.TradeStream))
	}
	return opts
}

// startFeed fills the paper books from the signal bus channel when one is
// configured and Redis is up, else from the websocket stream.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, books *orderbook.Registry, controllers []*controller.Controller) {
	venues := make([]string, len(controllers))
	for i, c := range controllers {
		venues[i] = c.Name()
	}
	applier := feed.NewApplier(books, venues, deps.Metrics, a.logger)

	if !a.cfg.Feed.Enabled {
		a.logger.WarnContext(ctx, "app: depth feed disabled, paper books stay empty")
		return
	}
	switch {
	case a.cfg.Feed.Channel != "" && deps.Bus != nil:
		f := feed.NewBusFeeder(deps.Bus, a.cfg.Feed.Channel, applier, a.logger)
		g.Go(func() error { return ignoreCanceled(f.Run(ctx)) })
	case a.cfg.Feed.URL != "":
		s := feed.NewStream(feed.StreamConfig{
			URL:              a.cfg.Feed.URL,
			Pairs:            a.cfg.Engine.Pairs,
			HandshakeTimeout: a.cfg.Feed.HandshakeTimeout.Duration,
			MaxReconnect:     a.cfg.Feed.MaxReconnect.Duration,
		}, applier, deps.Metrics, a.logger)
		g.Go(func() error { return ignoreCanceled(s.Run(ctx)) })
	default:
		a.logger.WarnContext(ctx, "app: depth feed has no source", slog.String("channel", a.cfg.Feed.Channel))
	}
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *scheduler.Scheduler, params *config.Engine) {
	if !a.cfg.Server.Enabled {
		return
	}

	hubOpts := []ws.Option{
		ws.WithStatus(func() any { return sched.Status() }, max(params.TickInterval.Duration, time.Second)),
		ws.WithAllowedOrigins(a.cfg.Server.CORSOrigins),
	}
	if deps.Bus != nil && a.cfg.Redis.TradeChannel != "" {
		hubOpts = append(hubOpts, ws.WithBus(deps.Bus, a.cfg.Redis.TradeChannel))
	}
	hub := ws.NewHub(a.logger, hubOpts...)

	var (
		journal domain.TradeJournal
		audit   handler.AuditReader
		limiter ratelimit.Shared
	)
	if deps.Trades != nil {
		journal = deps.Trades
	}
	if deps.Audit != nil {
		audit = deps.Audit
	}
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}

	srv := server.NewServer(a.cfg.Server, server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks(), a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, sched, time.Now()),
		Journal:  handler.NewJournalHandler(journal, audit, a.logger),
		Hub:      hub,
		Gatherer: deps.Registry,
	}, limiter, a.logger)

	g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })
	g.Go(func() error { return srv.Run(ctx) })
}

// acquireLease takes the single-instance lease. It returns nil when Redis
// or the instance key is not configured.
func (a *App) acquireLease(ctx context.Context, deps *Dependencies) (domain.Lease, error) {
	if deps.Locks == nil || a.cfg.Redis.InstanceKey == "" {
		return nil, nil
	}
	lease, err := deps.Locks.Acquire(ctx, a.cfg.Redis.InstanceKey, a.cfg.Redis.LeaseTTL.Duration)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("app: another instance is running (%s): %w", a.cfg.Redis.InstanceKey, err)
	}
	if err != nil {
		return nil, fmt.Errorf("app: acquire lease: %w", err)
	}
	a.logger.InfoContext(ctx, "app: instance lease acquired",
		slog.String("key", a.cfg.Redis.InstanceKey),
		slog.Duration("ttl", a.cfg.Redis.LeaseTTL.Duration),
	)
	return lease, nil
}

// refreshLease extends the lease every third of its TTL. Losing it stops
// the engine.
func (a *App) refreshLease(ctx context.Context, lease domain.Lease) error {
	ttl := a.cfg.Redis.LeaseTTL.Duration
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Refresh(ctx, ttl); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("app: instance lease lost: %w", err)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
