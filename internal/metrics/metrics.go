// Package metrics defines the Prometheus instruments of the engine. Every
// method is safe on a nil *Engine so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xarb"

// Engine holds the engine instruments.
type Engine struct {
	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	phaseDuration  *prometheus.HistogramVec
	trades         *prometheus.CounterVec
	aborts         *prometheus.CounterVec
	profitPct      *prometheus.HistogramVec
	venueConnected *prometheus.GaugeVec
	badPrices      *prometheus.GaugeVec
	balances       *prometheus.GaugeVec
	feedFrames     *prometheus.CounterVec
	feedReconnects prometheus.Counter
	fatal          prometheus.Counter
}

// New registers the instruments against reg, or the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Engine {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Engine{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_seconds",
			Help:      "Histogram of tick durations.",
			Buckets:   prometheus.DefBuckets,
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "phase_seconds",
			Help:      "Histogram of tick phase durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Total number of arbitrage trades by outcome.",
		}, []string{"pair", "status"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "aborts_total",
			Help:      "Total number of trades aborted before submission.",
		}, []string{"reason"}),
		profitPct: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "profit_pct",
			Help:      "Expected profit percentage of submitted trades.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"pair"}),
		venueConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "connected",
			Help:      "1 when the last venue call succeeded, 0 when the connection is lost.",
		}, []string{"venue"}),
		badPrices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "bad_prices",
			Help:      "Consecutive order book validations that disagreed with the ticker.",
		}, []string{"venue", "pair"}),
		balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "offline_balance",
			Help:      "Self-tracked balance per venue and currency.",
		}, []string{"venue", "currency"}),
		feedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "frames_total",
			Help:      "Depth stream frames by type; rejected frames use type \"invalid\".",
		}, []string{"type"}),
		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of depth stream reconnections.",
		}),
		fatal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "fatal_total",
			Help:      "Total number of fatal halts.",
		}),
	}
	reg.MustRegister(m.ticks, m.tickDuration, m.phaseDuration, m.trades, m.aborts, m.profitPct,
		m.venueConnected, m.badPrices, m.balances, m.feedFrames, m.feedReconnects, m.fatal)
	return m
}

// ObserveTick counts a tick and its duration.
func (m *Engine) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// ObservePhase records the duration of a tick phase.
func (m *Engine) ObservePhase(phase string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveTrade counts a trade by outcome and records its expected profit.
func (m *Engine) ObserveTrade(pair, status string, profitPct float64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(pair, status).Inc()
	m.profitPct.WithLabelValues(pair).Observe(profitPct)
}

// ObserveAbort counts a trade aborted by a safety check.
func (m *Engine) ObserveAbort(reason string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(reason).Inc()
}

// SetVenue publishes the connection state, bad price counters and offline
// balances of a venue.
func (m *Engine) SetVenue(venue string, connected bool, badPrices map[string]int, offline map[string]float64) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.venueConnected.WithLabelValues(venue).Set(v)
	for pair, n := range badPrices {
		m.badPrices.WithLabelValues(venue, pair).Set(float64(n))
	}
	for ccy, bal := range offline {
		m.balances.WithLabelValues(venue, ccy).Set(bal)
	}
}

// ObserveFrame counts a depth stream frame.
func (m *Engine) ObserveFrame(kind string) {
	if m == nil {
		return
	}
	m.feedFrames.WithLabelValues(kind).Inc()
}

// ObserveReconnect counts a depth stream reconnection.
func (m *Engine) ObserveReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

// ObserveFatal counts a fatal halt.
func (m *Engine) ObserveFatal() {
	if m == nil {
		return
	}
	m.fatal.Inc()
}

// TradesCounter exposes the trade counter for testing and diagnostics.
func (m *Engine) TradesCounter(pair, status string) prometheus.Counter {
	return m.trades.WithLabelValues(pair, status)
}

// AbortsCounter exposes the abort counter for testing and diagnostics.
func (m *Engine) AbortsCounter(reason string) prometheus.Counter {
	return m.aborts.WithLabelValues(reason)
}

// FramesCounter exposes the feed frame counter for testing and diagnostics.
func (m *Engine) FramesCounter(kind string) prometheus.Counter {
	return m.feedFrames.WithLabelValues(kind)
}

// TicksCounter exposes the tick counter for testing and diagnostics.
func (m *Engine) TicksCounter() prometheus.Counter { return m.ticks }

// FatalCounter exposes the fatal halt counter for testing and diagnostics.
func (m *Engine) FatalCounter() prometheus.Counter { return m.fatal }

// ConnectedGauge exposes the venue connection gauge for testing and
// diagnostics.
func (m *Engine) ConnectedGauge(venue string) prometheus.Gauge {
	return m.venueConnected.WithLabelValues(venue)
}
