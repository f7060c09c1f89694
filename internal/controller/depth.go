package controller

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// UpdateDepth refreshes the cached book of a pair. Any failure leaves an
// empty book so the pair is not priced on stale data.
func (c *Controller) UpdateDepth(ctx context.Context, p domain.Pair) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	d, err := c.xchg.GetDepth(cctx, p)
	if err != nil {
		c.logger.DebugContext(ctx, "controller: depth fetch failed",
			slog.String("pair", p.String()),
			slog.String("error", err.Error()),
		)
		d = domain.Depth{}
	}
	c.SetDepth(p, d)
}

// SetDepth replaces the cached book of a pair.
func (c *Controller) SetDepth(p domain.Pair, d domain.Depth) {
	c.depthMu.Lock()
	c.depth[p] = d
	c.depthMu.Unlock()
}

// Depth returns the cached book of a pair; ok is false when none was
// fetched.
func (c *Controller) Depth(p domain.Pair) (d domain.Depth, ok bool) {
	c.depthMu.RLock()
	defer c.depthMu.RUnlock()
	d, ok = c.depth[p]
	return d, ok
}

func (c *Controller) clearDepth() {
	c.depthMu.Lock()
	c.depth = map[domain.Pair]domain.Depth{}
	c.depthMu.Unlock()
}

// HighestBid returns the top bid price; ok is false for an empty side.
func (c *Controller) HighestBid(p domain.Pair) (float64, bool) {
	d, _ := c.Depth(p)
	if len(d.Bids) == 0 {
		return 0, false
	}
	return d.Bids[0].Price, true
}

// LowestAsk returns the top ask price; ok is false for an empty side.
func (c *Controller) LowestAsk(p domain.Pair) (float64, bool) {
	d, _ := c.Depth(p)
	if len(d.Asks) == 0 {
		return 0, false
	}
	return d.Asks[0].Price, true
}

// BestBidMinVol walks the bids until the accumulated volume reaches the
// base currency's minimum volume. The result carries the price of the last
// level consumed and the accumulated volume.
func (c *Controller) BestBidMinVol(p domain.Pair) domain.Order {
	d, _ := c.Depth(p)
	return accumulate(d.Bids, c.params.MinVolume(p.Base))
}

// BestAskMinVol is BestBidMinVol on the ask side.
func (c *Controller) BestAskMinVol(p domain.Pair) domain.Order {
	d, _ := c.Depth(p)
	return accumulate(d.Asks, c.params.MinVolume(p.Base))
}

func accumulate(levels []domain.Order, minVol float64) domain.Order {
	var acc domain.Order
	for _, o := range levels {
		acc = domain.Level(o.Price, acc.Volume+o.Volume)
		if acc.Volume >= minVol {
			break
		}
	}
	return acc
}
