package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// SubmitOrder places a limit order with already formatted price and volume,
// registers it and books its effect on the live and offline balances.
// Buys debit price*volume*(1+fee) of the alt currency; sells credit
// price*volume*(1-fee).
func (c *Controller) SubmitOrder(ctx context.Context, p domain.Pair, side domain.Side, price, volume string) (domain.Order, error) {
	pf, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("controller: submit: %w: price %q", domain.ErrInvalidOrder, price)
	}
	vf, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return domain.Order{}, fmt.Errorf("controller: submit: %w: volume %q", domain.ErrInvalidOrder, volume)
	}

	cctx, cancel := c.callCtx(ctx)
	order, err := c.xchg.SubmitOrder(cctx, p, side, price, volume)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.sim == nil {
			return domain.Order{}, fmt.Errorf("controller: submit %s %s: %w", side, p, err)
		}
		order = c.sim.nextOrder(p, side, pf, vf)
	} else {
		c.orders[order.ID] = order
		if c.state == StateIdle {
			c.state = StateTracking
		}
		c.book(p, side, vf, pf)
	}
	if c.sim != nil {
		c.sim.book(c.offline, p, side, vf, pf)
	}
	c.logger.Info("controller: offline balances", slog.Any("balances", nonZero(c.offline)))
	return order, nil
}

// book applies a placed order to the ledgers. Callers hold mu.
func (c *Controller) book(p domain.Pair, side domain.Side, v, price float64) {
	if side == domain.SideBuy {
		cost := float64(v * price * (1 + c.fee))
		c.balances[p.Alt] -= cost
		c.offline[p.Base] += v
		c.offline[p.Alt] -= cost
		return
	}
	proceeds := float64(v * price * (1 - c.fee))
	c.balances[p.Base] -= v
	c.offline[p.Base] -= v
	c.offline[p.Alt] += proceeds
}

// unbook reverses book for the unfilled part of a cancelled order. Callers
// hold mu.
func (c *Controller) unbook(o domain.Order) {
	p := o.Pair
	if o.Side == domain.SideSell {
		c.balances[p.Base] += o.Volume
		c.offline[p.Base] += o.Volume
		c.offline[p.Alt] -= float64(o.Volume * o.Price * (1 - c.fee))
		return
	}
	cost := float64(o.Volume * o.Price * (1 + c.fee))
	c.balances[p.Alt] += cost
	c.offline[p.Base] -= o.Volume
	c.offline[p.Alt] += cost
}

// SubmitLeg formats and submits one side of an arbitrage. Failures are
// logged and returned; nothing is registered on failure.
func (c *Controller) SubmitLeg(ctx context.Context, p domain.Pair, side domain.Side, price, volume float64) (domain.Order, error) {
	attrs := []any{
		slog.String("side", string(side)),
		slog.String("pair", p.String()),
		slog.Float64("volume", volume),
		slog.String("price", strconv.FormatFloat(price, 'g', 8, 64)),
	}
	vol, err := c.FormatVolume(p, volume)
	var order domain.Order
	if err == nil {
		order, err = c.SubmitOrder(ctx, p, side, c.FormatPrice(p, price), vol)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "controller: failed to process order", append(attrs, slog.String("error", err.Error()))...)
		return domain.Order{}, err
	}
	c.logger.InfoContext(ctx, "controller: trade submitted", attrs...)
	return order, nil
}

// CancelOrder cancels a registered order and reverses its ledger effect
// using the volume and price of o, which is the venue's view of the order
// (the remaining volume of a partial fill). It returns the registry entry,
// or ok=false when the id is unknown.
func (c *Controller) CancelOrder(ctx context.Context, o domain.Order) (orig domain.Order, ok bool, err error) {
	c.mu.Lock()
	_, known := c.orders[o.ID]
	c.mu.Unlock()
	if !known {
		return domain.Order{}, false, nil
	}

	cctx, cancel := c.callCtx(ctx)
	err = c.xchg.CancelOrders(cctx, []domain.Order{o})
	cancel()
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("controller: cancel %s: %w", o.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	orig, ok = c.orders[o.ID]
	if !ok {
		return domain.Order{}, false, nil
	}
	c.unbook(o)
	delete(c.orders, o.ID)
	c.logger.Info("controller: offline balances", slog.Any("balances", nonZero(c.offline)))
	return orig, true, nil
}

// QueryActiveOrders runs one step of the stale-order protocol. With an
// empty resubmission queue it polls the venue's resting orders and cancels
// those whose price drifted behind the mid; cancelled orders are queued
// with their remaining volume. With a non-empty queue it resubmits every
// queued order at the current mid and empties the queue. Any venue error
// marks the connection lost and drops the queue.
func (c *Controller) QueryActiveOrders(ctx context.Context) {
	if c.sim != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	queue := slices.Clone(c.resubmit)
	c.mu.Unlock()

	var err error
	if len(queue) == 0 {
		err = c.trackOrders(ctx)
	} else {
		err = c.resubmitOrders(ctx, queue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.resubmit = nil
		if c.state == StateResubmitting {
			c.state = StateTracking
		}
	}
	c.markConnection(err, "query_active_orders")
}

func (c *Controller) trackOrders(ctx context.Context) error {
	cctx, cancel := c.callCtx(ctx)
	orders, err := c.xchg.QueryActiveOrders(cctx)
	cancel()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.resubmit = nil
	if len(orders) == 0 {
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}
	c.state = StateTracking
	c.mu.Unlock()

	var queue []domain.Order
	for _, o := range orders {
		c.mu.Lock()
		_, known := c.orders[o.ID]
		c.mu.Unlock()
		if !known {
			c.logger.ErrorContext(ctx, "controller: detected an order which is not in the registry",
				slog.String("pair", c.xchg.FormatPair(o.Pair)),
				slog.String("id", o.ID),
			)
			continue
		}
		d, _ := c.Depth(o.Pair)
		if d.Empty() {
			c.logger.ErrorContext(ctx, "controller: cannot read order book while updating active orders",
				slog.String("pair", o.Pair.String()))
			continue
		}
		if !stale(o, d) {
			continue
		}
		orig, ok, err := c.CancelOrder(ctx, o)
		if err != nil {
			return err
		}
		if !ok {
			c.logger.ErrorContext(ctx, "controller: price update failed, order vanished from the registry",
				slog.String("pair", o.Pair.String()),
				slog.String("id", o.ID),
			)
			continue
		}
		c.logger.WarnContext(ctx, "controller: price update, cancelled order",
			slog.String("pair", o.Pair.String()),
			slog.String("order", describe(orig)),
		)
		queue = append(queue, orig.WithVolume(o.Volume))
	}

	c.mu.Lock()
	c.resubmit = queue
	if len(queue) > 0 {
		c.state = StateResubmitting
	}
	c.mu.Unlock()
	return nil
}

// stale reports whether a resting order has fallen behind the book: a buy
// whose price is below the midpoint between itself and the best ask is no
// longer competitive once the mid moves above that point, and
// symmetrically for sells.
func stale(o domain.Order, d domain.Depth) bool {
	mid := d.Mid()
	switch o.Side {
	case domain.SideBuy:
		return mid > (o.Price+d.Asks[0].Price)/2
	case domain.SideSell:
		return mid < (o.Price+d.Bids[0].Price)/2
	}
	return false
}

func (c *Controller) resubmitOrders(ctx context.Context, queue []domain.Order) error {
	for _, o := range queue {
		p := o.Pair
		d, _ := c.Depth(p)
		if d.Empty() {
			c.logger.ErrorContext(ctx, "controller: cannot read order book while updating active orders",
				slog.String("pair", p.String()))
			continue
		}
		mid := (d.Bids[0].Price + d.Asks[0].Price) / 2.0
		volume := o.Volume
		if o.Side == domain.SideBuy {
			balance := c.Balance(p.Alt)
			residual := c.params.Residual(p.Alt)
			cost := float64(volume * mid * (1 + c.fee))
			if balance-cost < residual {
				volume = (balance - residual) / (mid * (1 + c.fee))
				c.logger.WarnContext(ctx, "controller: price update, shrinking order volume",
					slog.String("pair", p.String()),
					slog.Float64("from", o.Volume),
					slog.Float64("to", volume),
				)
			}
		}
		if c.params.FloorVolume(p, volume) <= 0 {
			c.logger.ErrorContext(ctx, "controller: price update dropped, balance too low to resubmit",
				slog.String("pair", p.String()),
				slog.String("order", describe(o)),
			)
			continue
		}
		vol, err := c.FormatVolume(p, volume)
		if err != nil {
			return err
		}
		placed, err := c.SubmitOrder(ctx, p, o.Side, c.FormatPrice(p, mid), vol)
		if err != nil {
			return err
		}
		c.logger.WarnContext(ctx, "controller: price update, updated order",
			slog.String("pair", p.String()),
			slog.String("order", describe(placed)),
		)
	}

	c.mu.Lock()
	c.resubmit = nil
	if c.state == StateResubmitting {
		c.state = StateTracking
	}
	c.mu.Unlock()
	return nil
}

// markConnection records the outcome of a venue call, logging the
// transition to lost. Callers hold mu.
func (c *Controller) markConnection(err error, api string) {
	if err != nil && !c.connectionLost {
		attrs := []any{slog.String("api", api), slog.String("error", err.Error())}
		if errors.Is(err, context.DeadlineExceeded) {
			attrs = append(attrs, slog.Bool("timeout", true))
		}
		c.logger.Warn("controller: connection lost", attrs...)
	}
	c.connectionLost = err != nil
}

func describe(o domain.Order) string {
	return fmt.Sprintf("%s %s%s at %s%s, ID: %s",
		o.Side,
		strconv.FormatFloat(o.Volume, 'f', -1, 64), o.Pair.Base,
		strconv.FormatFloat(o.Price, 'f', -1, 64), o.Pair.Alt,
		o.ID,
	)
}
