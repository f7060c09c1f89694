package controller

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// UpdateAllBalances polls the venue balances. Cached books are dropped and
// a pending reconnect is considered complete. The first non-empty result
// seeds the offline and initial balances; later results only add
// currencies seen for the first time. On failure the last known balances
// are kept and the connection is marked lost.
func (c *Controller) UpdateAllBalances(ctx context.Context) {
	if c.sim != nil {
		return
	}
	c.clearDepth()

	cctx, cancel := c.callCtx(ctx)
	bal, err := c.xchg.GetBalance(cctx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnecting = false
	if err == nil && len(bal) == 0 {
		err = fmt.Errorf("controller: %w: empty balance response", domain.ErrConnectionLost)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "controller: balance update failed", slog.String("error", err.Error()))
		c.markConnection(err, "update_all_balances")
		return
	}

	diff := map[string]float64{}
	for ccy, v := range bal {
		if prev, ok := c.previousBalances[ccy]; ok {
			if v != prev {
				diff[ccy] = v - prev
			}
		} else if v > 0 {
			diff[ccy] = v
		}
	}
	detected := len(diff) > 0
	for ccy, d := range diff {
		if len(c.resubmit) == 0 {
			c.logger.InfoContext(ctx, "controller: new balance", slog.String("ccy", ccy), slog.Float64("amount", d))
		}
		c.logger.InfoContext(ctx, "controller: updated online balance",
			slog.String("ccy", ccy),
			slog.Float64("balance", bal[ccy]),
			slog.Float64("diff", d),
		)
	}

	c.balances = maps.Clone(bal)
	c.previousBalances = maps.Clone(bal)
	if len(c.offline) == 0 {
		c.offline = maps.Clone(bal)
		c.initial = maps.Clone(bal)
		if detected {
			c.logger.InfoContext(ctx, "controller: offline balances", slog.Any("balances", nonZero(c.offline)))
		}
	} else {
		for ccy, v := range bal {
			if _, ok := c.offline[ccy]; ok {
				continue
			}
			c.offline[ccy] = v
			c.initial[ccy] = v
			if detected && v != 0 {
				c.logger.InfoContext(ctx, "controller: offline balance", slog.String("ccy", ccy), slog.Float64("balance", v))
			}
		}
	}
	c.newBalance = detected
	c.markConnection(nil, "update_all_balances")
	c.warnPoorCurrencies(ctx, bal)
}

// warnPoorCurrencies logs, once per change of the shortfall, every capped
// currency whose balance is below its maximum trade volume. Callers hold
// mu.
func (c *Controller) warnPoorCurrencies(ctx context.Context, bal map[string]float64) {
	for ccy, v := range bal {
		required, ok := c.params.MaxVolume(ccy)
		if !ok {
			continue
		}
		if required == 0 {
			required = c.params.MinVolume(ccy)
		}
		if required <= 0 || v >= required {
			c.poorCcy[ccy] = 0
			continue
		}
		missing := (required - v) / required
		if c.poorCcy[ccy] != missing {
			c.logger.InfoContext(ctx, "controller: insufficient balance",
				slog.String("ccy", ccy),
				slog.Float64("need", required-v),
			)
			c.poorCcy[ccy] = missing
		}
	}
}

// Reserve debits the live balance of ccy ahead of an order submission so
// concurrent evaluations see the reduced amount. The next balance poll
// restores the venue's figure.
func (c *Controller) Reserve(ccy string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[ccy] -= amount
}
