package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/state"
)

// Persist captures the session data needed to resume after a crash.
func (c *Controller) Persist() state.VenueState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := state.VenueState{
		OfflineBalances: maps.Clone(c.offline),
		InitialBalances: maps.Clone(c.initial),
	}
	if s.OfflineBalances == nil {
		s.OfflineBalances = map[string]float64{}
	}
	if s.InitialBalances == nil {
		s.InitialBalances = map[string]float64{}
	}
	for _, o := range sortedOrders(c.orders) {
		s.Orders = append(s.Orders, o.Record())
	}
	for _, o := range c.resubmit {
		s.ToResubmitOrders = append(s.ToResubmitOrders, o.Record())
	}
	return s
}

// Restore loads a persisted session. Fields absent from s are left as
// they are. Malformed order records are skipped and reported together.
func (c *Controller) Restore(s state.VenueState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if s.OfflineBalances != nil {
		c.offline = maps.Clone(s.OfflineBalances)
		c.logger.Info("controller: recovering state", slog.String("key", "offline_balances"), slog.Any("value", s.OfflineBalances))
	}
	if s.InitialBalances != nil {
		c.initial = maps.Clone(s.InitialBalances)
		c.logger.Info("controller: recovering state", slog.String("key", "initial_balances"), slog.Any("value", s.InitialBalances))
	}
	if s.Orders != nil {
		c.orders = make(map[string]domain.Order, len(s.Orders))
		for _, r := range s.Orders {
			o, err := r.Order()
			if err != nil {
				errs = append(errs, fmt.Errorf("order %s: %w", r.ID, err))
				continue
			}
			c.orders[o.ID] = o
			c.logger.Info("controller: recovering a trade from previous crash", slog.String("order", describe(o)))
		}
	}
	if s.ToResubmitOrders != nil {
		c.resubmit = c.resubmit[:0]
		for _, r := range s.ToResubmitOrders {
			o, err := r.Order()
			if err != nil {
				errs = append(errs, fmt.Errorf("pending order %s: %w", r.ID, err))
				continue
			}
			c.resubmit = append(c.resubmit, o)
			c.logger.Info("controller: recovering a pending trade from previous crash", slog.String("order", describe(o)))
		}
	}
	switch {
	case len(c.resubmit) > 0:
		c.state = StateResubmitting
	case len(c.orders) > 0:
		c.state = StateTracking
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("controller: restore %s: %w", c.name, err)
	}
	return nil
}
