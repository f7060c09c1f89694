package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/controller"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/profit"
)

// tradePair prices pair across venues and, when the best trade is
// profitable and neither venue has a resting order, books and submits it.
func (s *Scheduler) tradePair(ctx context.Context, params *config.Engine, pair domain.Pair) {
	if s.Err() != nil {
		return
	}
	venues := s.tradeVenues(params, pair)
	if len(venues) < 2 {
		return
	}
	calc := profit.New(pair, venues, params, s.logger)
	if !calc.CheckProfits() {
		if err := calc.Err(); err != nil {
			s.fail(fmt.Errorf("scheduler: %s: %w", pair, err))
		}
		return
	}
	t := calc.BestTrade()
	if t == nil || busy(t) {
		return
	}

	s.tradeMu.Lock()
	if busy(t) {
		s.tradeMu.Unlock()
		return
	}
	t.Bidder.MarkBusy()
	t.Asker.MarkBusy()
	err := s.performArbitrage(ctx, params, t)
	s.tradeMu.Unlock()

	if err != nil {
		s.abort(ctx, t, err)
		return
	}
	s.submit(ctx, t)
}

func busy(t *profit.Trade) bool {
	return t.Asker.CheckActiveOrders() || t.Bidder.CheckActiveOrders()
}

// performArbitrage runs the pre-trade safety checks and reserves the
// balances the two legs will spend. Callers hold tradeMu.
func (s *Scheduler) performArbitrage(ctx context.Context, params *config.Engine, t *profit.Trade) error {
	base, alt := t.Pair.Base, t.Pair.Alt
	bidder, asker := t.Bidder, t.Asker
	sold := t.BidderOrder.Volume
	spend := t.AskerOrder.Notional()

	if left := bidder.Balance(base) - sold; left < 0 {
		return fmt.Errorf("scheduler: %s: %w: %.8g%s", bidder.Name(), domain.ErrInsufficientBalance, left, base)
	}
	if left := asker.Balance(alt) - spend; left < 0 {
		return fmt.Errorf("scheduler: %s: %w: %.8g%s", asker.Name(), domain.ErrInsufficientBalance, left, alt)
	}

	initial := sumBalances(s.controllers, (*controller.Controller).InitialBalances)
	offline := sumBalances(s.controllers, (*controller.Controller).OfflineBalances)
	bands := params.PortfolioBands
	checks := []struct {
		breached bool
		venue    string
		level    string
		ccy      string
	}{
		{offline[base] < bands.BaseLow*initial[base], bidder.Name(), "low", base},
		{offline[alt] > bands.AltHigh*initial[alt], asker.Name(), "high", alt},
		{offline[alt] < bands.AltLow*initial[alt], asker.Name(), "low", alt},
		{offline[base] > bands.BaseHigh*initial[base], bidder.Name(), "high", base},
	}
	for _, c := range checks {
		if c.breached {
			return fmt.Errorf("scheduler: %s: %w: %s balance %.8g%s, initial balance %.8g",
				c.venue, domain.ErrPortfolioBand, c.level, offline[c.ccy], c.ccy, initial[c.ccy])
		}
	}

	bidder.Reserve(base, sold)
	asker.Reserve(alt, spend)

	kind := "arbitrage"
	if t.Rebalancing {
		kind = "rebalancing"
	}
	s.logger.InfoContext(ctx, "scheduler: trade booked",
		slog.String("type", kind),
		slog.String("pair", t.Pair.String()),
		slog.String("asker", asker.Name()),
		slog.Float64("bought", t.AskerOrder.Volume),
		slog.String("cost", strconv.FormatFloat(spend, 'g', 8, 64)),
		slog.String("bidder", bidder.Name()),
		slog.Float64("sold", sold),
		slog.String("proceeds", strconv.FormatFloat(t.BidderOrder.Notional(), 'g', 8, 64)),
		slog.String("profit", strconv.FormatFloat(t.Profit, 'g', 8, 64)),
		slog.Float64("profit_pct", t.ProfitPct),
	)
	for _, c := range []*controller.Controller{bidder, asker} {
		s.logger.InfoContext(ctx, "scheduler: updated balances",
			slog.String("venue", c.Name()),
			slog.Any("balances", nonZero(c.Balances())),
			slog.Any("offline_balances", nonZero(c.OfflineBalances())),
		)
	}
	return nil
}

// abort reports a trade rejected by a safety check.
func (s *Scheduler) abort(ctx context.Context, t *profit.Trade, err error) {
	reason := "other"
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		reason = "insufficient_balance"
	case errors.Is(err, domain.ErrPortfolioBand):
		reason = "portfolio_band"
	}
	s.logger.ErrorContext(ctx, "scheduler: arbitrage aborted",
		slog.String("pair", t.Pair.String()),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	s.metrics.ObserveAbort(reason)
	s.auditEvent(ctx, "trade_aborted", map[string]any{
		"pair":   t.Pair.String(),
		"bidder": t.Bidder.Name(),
		"asker":  t.Asker.Name(),
		"reason": reason,
		"error":  err.Error(),
	})
	s.notify(ctx, config.EventAbort, "Trade aborted", fmt.Sprintf("%s %s -> %s: %v", t.Pair, t.Asker.Name(), t.Bidder.Name(), err))
}

// submit places both legs concurrently and records the outcome.
func (s *Scheduler) submit(ctx context.Context, t *profit.Trade) {
	var buyErr, sellErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		_, buyErr = t.Asker.SubmitLeg(ctx, t.Pair, domain.SideBuy, t.AskerOrder.Price, t.AskerOrder.Volume)
	})
	wg.Go(func() {
		_, sellErr = t.Bidder.SubmitLeg(ctx, t.Pair, domain.SideSell, t.BidderOrder.Price, t.BidderOrder.Volume)
	})
	wg.Wait()

	rec := domain.TradeRecord{
		ID:           uuid.NewString(),
		Pair:         t.Pair.String(),
		Bidder:       t.Bidder.Name(),
		Asker:        t.Asker.Name(),
		BidderPrice:  t.BidderOrder.Price,
		BidderVolume: t.BidderOrder.Volume,
		AskerPrice:   t.AskerOrder.Price,
		AskerVolume:  t.AskerOrder.Volume,
		Profit:       t.Profit,
		ProfitPct:    t.ProfitPct,
		Rebalancing:  t.Rebalancing,
		Status:       legStatus(buyErr, sellErr),
		CreatedAt:    s.now().UTC(),
	}
	if err := errors.Join(buyErr, sellErr); err != nil {
		s.auditEvent(ctx, "trade_leg_failed", map[string]any{
			"trade_id": rec.ID,
			"pair":     rec.Pair,
			"status":   string(rec.Status),
			"error":    err.Error(),
		})
	}
	s.record(ctx, rec)
}

func legStatus(buyErr, sellErr error) domain.TradeStatus {
	switch {
	case buyErr == nil && sellErr == nil:
		return domain.TradeStatusSubmitted
	case buyErr != nil && sellErr != nil:
		return domain.TradeStatusFailed
	}
	return domain.TradeStatusPartial
}

// record journals, publishes and announces a trade. Every sink is best
// effort.
func (s *Scheduler) record(ctx context.Context, rec domain.TradeRecord) {
	s.metrics.ObserveTrade(rec.Pair, string(rec.Status), rec.ProfitPct)

	if s.journal != nil {
		if err := s.journal.RecordTrade(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "scheduler: journal trade failed",
				slog.String("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduler: encode trade failed", slog.String("error", err.Error()))
		} else {
			if s.channel != "" {
				if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
					s.logger.WarnContext(ctx, "scheduler: publish trade failed", slog.String("error", err.Error()))
				}
			}
			if s.stream != "" {
				if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
					s.logger.WarnContext(ctx, "scheduler: append trade failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	if rec.Status != domain.TradeStatusFailed {
		s.notify(ctx, config.EventTrade, "Trade submitted", fmt.Sprintf(
			"%s: bought %g on %s at %.8g, sold %g on %s at %.8g, profit %.8g%s (%.4f%%)",
			rec.Pair, rec.AskerVolume, rec.Asker, rec.AskerPrice,
			rec.BidderVolume, rec.Bidder, rec.BidderPrice,
			rec.Profit, domain.MustParsePair(rec.Pair).Alt, rec.ProfitPct,
		))
	}
}

func (s *Scheduler) auditEvent(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "scheduler: audit failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "scheduler: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func nonZero(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
