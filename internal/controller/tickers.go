package controller

import (
	"context"
	"log/slog"
	"maps"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// FetchTickers returns the venue's last-trade prices. A failure marks the
// connection lost and yields nil.
func (c *Controller) FetchTickers(ctx context.Context) map[domain.Pair]float64 {
	if c.sim != nil {
		return nil
	}
	cctx, cancel := c.callCtx(ctx)
	t, err := c.xchg.GetTicker(cctx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.markConnection(err, "get_tickers")
	if err != nil {
		return nil
	}
	return maps.Clone(t)
}

// ValidateOrderBook cross-checks a fresh book against the venue's ticker.
// A ticker outside the top of book by more than the configured tolerance
// increments the pair's bad-price counter; a consistent book resets it.
// Nothing is checked while reconnecting, after a lost connection, or when
// the pair has no ticker.
func (c *Controller) ValidateOrderBook(ctx context.Context, p domain.Pair, tickers map[domain.Pair]float64) {
	if c.sim != nil {
		return
	}
	c.mu.Lock()
	skip := c.reconnecting || c.connectionLost
	c.mu.Unlock()
	ticker, ok := tickers[p]
	if skip || !ok {
		return
	}

	cctx, cancel := c.callCtx(ctx)
	d, err := c.xchg.GetDepth(cctx, p)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && d.Empty() {
		err = domain.ErrCorruptedBook
	}
	c.markConnection(err, "validate_order_book")
	if err != nil {
		return
	}

	tol := c.params.TickerTolerance
	bid, ask := d.Bids[0].Price, d.Asks[0].Price
	if bid-ticker > tol*bid || ticker-ask > tol*ask {
		attrs := []any{
			slog.String("pair", p.String()),
			slog.Float64("ticker", ticker),
			slog.Float64("bid", bid),
			slog.Float64("ask", ask),
		}
		limit := c.params.BadPriceLimit
		switch n := c.badPrices[p]; {
		case n == limit:
			c.logger.ErrorContext(ctx, "controller: bad price detected", attrs...)
		case n < limit:
			c.logger.WarnContext(ctx, "controller: price not within top of book", attrs...)
		}
		c.badPrices[p]++
		return
	}
	c.badPrices[p] = 0
}
