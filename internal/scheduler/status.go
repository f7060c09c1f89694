package scheduler

import (
	"slices"
	"time"

	"github.com/alanyoungcy/xarb/internal/controller"
)

// Status is a point-in-time view of the engine, published after every
// tick.
type Status struct {
	Tick        int                 `json:"tick"`
	Initialized bool                `json:"initialized"`
	Halted      bool                `json:"halted"`
	Error       string              `json:"error,omitempty"`
	MinProfit   float64             `json:"min_profit"`
	Blacklist   []string            `json:"blacklist"`
	Portfolio   map[string]float64  `json:"portfolio"`
	Venues      []controller.Status `json:"venues"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Status returns the latest published snapshot.
func (s *Scheduler) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

func (s *Scheduler) publishStatus() {
	params := s.params.Load()
	st := &Status{
		Tick:        s.tick,
		Initialized: s.initialized,
		MinProfit:   params.MinProfit,
		Blacklist:   slices.Clone(params.Blacklist),
		Portfolio:   sumBalances(s.controllers, (*controller.Controller).OfflineBalances),
		Venues:      make([]controller.Status, 0, len(s.controllers)),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.Err(); err != nil {
		st.Halted = true
		st.Error = err.Error()
	}
	for _, c := range s.controllers {
		vs := c.Status()
		st.Venues = append(st.Venues, vs)

		bad := make(map[string]int, len(s.pairs[c]))
		counts := c.BadPrices()
		for _, p := range s.pairs[c] {
			bad[p.String()] = counts[p]
		}
		s.metrics.SetVenue(vs.Venue, !vs.ConnectionLost, bad, vs.OfflineBalances)
	}
	s.status.Store(st)
}
