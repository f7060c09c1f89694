package controller

import (
	"strconv"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// simulation turns a controller into a paper ledger: orders the venue
// rejects are booked locally under SIMUL ids and the balance polls become
// no-ops.
type simulation struct {
	trades int
}

// WithSimulation seeds the controller with fixed balances and books every
// order locally in addition to whatever the venue accepts.
func WithSimulation(balances map[string]float64) Option {
	return func(c *Controller) {
		WithBalances(balances)(c)
		c.sim = &simulation{}
	}
}

// Simulated reports whether the controller runs in simulation mode.
func (c *Controller) Simulated() bool { return c.sim != nil }

func (s *simulation) nextOrder(p domain.Pair, side domain.Side, price, volume float64) domain.Order {
	o := domain.Order{
		Price:  price,
		Volume: volume,
		Side:   side,
		Pair:   p,
		ID:     "SIMUL" + strconv.Itoa(s.trades),
	}
	s.trades++
	return o
}

// book applies the fee-free effect of a fill to the offline balances.
func (s *simulation) book(offline map[string]float64, p domain.Pair, side domain.Side, v, price float64) {
	notional := float64(v * price)
	if side == domain.SideBuy {
		offline[p.Base] += v
		offline[p.Alt] -= notional
		return
	}
	offline[p.Base] -= v
	offline[p.Alt] += notional
}
