// Package ratelimit wraps a venue adapter so its network calls respect a
// per-venue request rate, optionally shared across processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// Shared is a cross-process limiter, e.g. the Redis sliding window.
type Shared interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

const defaultPoll = 50 * time.Millisecond

// Exchange throttles the data and trading calls of the wrapped venue.
// Lifecycle calls pass through unthrottled.
type Exchange struct {
	domain.Exchange
	local  *rate.Limiter
	shared Shared
	key    string
	limit  int
	window time.Duration
	poll   time.Duration
}

// Option configures the decorator.
type Option func(*Exchange)

// WithShared additionally admits at most limit calls per window across
// every process using the same key.
func WithShared(s Shared, key string, limit int, window time.Duration) Option {
	return func(e *Exchange) {
		e.shared, e.key, e.limit, e.window = s, key, limit, window
	}
}

// WithPollInterval sets how often a denied shared admission is retried.
func WithPollInterval(d time.Duration) Option {
	return func(e *Exchange) { e.poll = d }
}

// Wrap returns x throttled to rps requests per second. A non-positive rate
// disables local limiting; x is returned as is when no limit applies.
func Wrap(x domain.Exchange, rps float64, opts ...Option) domain.Exchange {
	e := &Exchange{Exchange: x, poll: defaultPoll}
	if rps > 0 {
		e.local = rate.NewLimiter(rate.Limit(rps), 1)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.local == nil && e.shared == nil {
		return x
	}
	return e
}

func (e *Exchange) wait(ctx context.Context) error {
	if e.local != nil {
		if err := e.local.Wait(ctx); err != nil {
			return fmt.Errorf("ratelimit: %s: %w: %w", e.Name(), domain.ErrRateLimited, err)
		}
	}
	if e.shared == nil {
		return nil
	}
	for {
		ok, err := e.shared.Allow(ctx, e.key, e.limit, e.window)
		if err != nil {
			return fmt.Errorf("ratelimit: %s: %w", e.Name(), err)
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(e.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: %s: %w: %w", e.Name(), domain.ErrRateLimited, ctx.Err())
		case <-timer.C:
		}
	}
}

func (e *Exchange) GetDepth(ctx context.Context, p domain.Pair) (domain.Depth, error) {
	if err := e.wait(ctx); err != nil {
		return domain.Depth{}, err
	}
	return e.Exchange.GetDepth(ctx, p)
}

func (e *Exchange) GetTicker(ctx context.Context) (map[domain.Pair]float64, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.Exchange.GetTicker(ctx)
}

func (e *Exchange) GetBalance(ctx context.Context) (map[string]float64, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.Exchange.GetBalance(ctx)
}

func (e *Exchange) SubmitOrder(ctx context.Context, p domain.Pair, side domain.Side, price, volume string) (domain.Order, error) {
	if err := e.wait(ctx); err != nil {
		return domain.Order{}, err
	}
	return e.Exchange.SubmitOrder(ctx, p, side, price, volume)
}

func (e *Exchange) QueryActiveOrders(ctx context.Context) ([]domain.Order, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return e.Exchange.QueryActiveOrders(ctx)
}

func (e *Exchange) CancelOrders(ctx context.Context, orders []domain.Order) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	return e.Exchange.CancelOrders(ctx, orders)
}

var _ domain.Exchange = (*Exchange)(nil)
