package config

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// DefaultKey is the fallback entry in per-venue and per-pair tables.
const DefaultKey = "DEFAULT"

// Engine holds the trading parameters shared by the scheduler, controllers
// and profit calculators. An Engine is never mutated after Load; overrides
// produce a copy (see Live).
type Engine struct {
	TickInterval duration `toml:"tick_interval"`
	CallTimeout  duration `toml:"call_timeout"`
	Workers      int      `toml:"workers"`
	Pairs        []string `toml:"pairs"`
	Blacklist    []string `toml:"blacklist"`
	BookDepth    int      `toml:"book_depth"`

	// Tick cadence.
	DepthWarmup     int      `toml:"depth_warmup"`
	TradeWarmup     int      `toml:"trade_warmup"`
	ReconcileEvery  int      `toml:"reconcile_every"`
	BalanceEvery    int      `toml:"balance_every"`
	TickerEvery     int      `toml:"ticker_every"`
	TickWrap        int      `toml:"tick_wrap"`
	BadPriceLimit   int      `toml:"bad_price_limit"`
	TickerTolerance float64  `toml:"ticker_tolerance"`
	PendingNotice   duration `toml:"pending_notice"`
	SpreadNotice    duration `toml:"spread_notice"`

	// MaxBidAskSpreadPct maps venue -> pair|DEFAULT -> percent. The DEFAULT
	// venue maps alt currency -> percent for venues without an entry.
	MaxBidAskSpreadPct map[string]map[string]float64 `toml:"max_bidask_spread_pct"`
	// PriceDecimals maps pair -> venue|DEFAULT -> digits.
	PriceDecimals        map[string]map[string]int `toml:"price_decimals"`
	DefaultPriceDecimals int                       `toml:"default_price_decimals"`
	// VolumeDecimals maps pair|DEFAULT -> digits.
	VolumeDecimals map[string]int `toml:"volume_decimals"`

	MinVol         map[string]float64 `toml:"min_vol"`
	MaxVol         map[string]float64 `toml:"max_vol"`
	TradingUnit    map[string]float64 `toml:"trading_unit"`
	ResidualAmount map[string]float64 `toml:"residual_amount"`
	LargeUnit      []string           `toml:"large_unit"`

	MinProfit                   float64  `toml:"min_profit"`
	MinRebalancingProfit        float64  `toml:"min_rebalancing_profit"`
	MinOrderbookVolume          float64  `toml:"min_orderbook_volume"`
	ProfitAdjustment            float64  `toml:"profit_adjustment"`
	ProfitAdjustmentRebalancing float64  `toml:"profit_adjustment_rebalancing"`
	NoRebalancingVenues         []string `toml:"no_rebalancing_venues"`

	SimulationBalances map[string]float64 `toml:"simulation_balances"`
	PortfolioBands     PortfolioBands     `toml:"portfolio_bands"`
}

// PortfolioBands bound the summed offline balances of a pair's currencies
// relative to their summed initial balances.
type PortfolioBands struct {
	BaseLow  float64 `toml:"base_low"`
	BaseHigh float64 `toml:"base_high"`
	AltLow   float64 `toml:"alt_low"`
	AltHigh  float64 `toml:"alt_high"`
}

const maxFee = 0.0025

// DefaultEngine returns the production trading parameters.
func DefaultEngine() Engine {
	maxVol := map[string]float64{
		"BTC": 0.3, "ETH": 4.0, "LTC": 3.0, "USDT": 2000, "XVG": 22000, "XRP": 3000, "IOTA": 2000,
		"TRX": 22000, "NEO": 20, "DASH": 3, "EOS": 300, "XLM": 2000, "XMR": 4,
	}
	return Engine{
		TickInterval: duration{time.Second},
		CallTimeout:  duration{10 * time.Second},
		Workers:      8,
		Pairs: []string{
			"ETH_BTC", "XRP_BTC", "LTC_BTC", "XVG_BTC", "IOTA_BTC", "TRX_BTC", "NEO_BTC", "DASH_BTC", "EOS_BTC", "XLM_BTC", "XMR_BTC",
			"XRP_ETH", "LTC_ETH", "XVG_ETH", "IOTA_ETH", "TRX_ETH", "NEO_ETH", "DASH_ETH", "EOS_ETH", "XLM_ETH", "XMR_ETH",
			"BTC_USDT", "ETH_USDT", "XRP_USDT", "LTC_USDT", "XVG_USDT", "IOTA_USDT", "TRX_USDT", "NEO_USDT", "DASH_USDT", "EOS_USDT", "XLM_USDT", "XMR_USDT",
		},
		BookDepth: 10,

		DepthWarmup:     5,
		TradeWarmup:     10,
		ReconcileEvery:  25,
		BalanceEvery:    50,
		TickerEvery:     100,
		TickWrap:        5000,
		BadPriceLimit:   3,
		TickerTolerance: 0.01,
		PendingNotice:   duration{60 * time.Second},
		SpreadNotice:    duration{300 * time.Second},

		MaxBidAskSpreadPct: map[string]map[string]float64{
			"BINANCE":  {DefaultKey: 0.5, "XVG_BTC": 1.0},
			"HITBTC":   {DefaultKey: 0.75, "XVG_BTC": 5.0, "XRP_ETH": 2.5, "TRX_BTC": 1.5, "XRP_BTC": 1.5},
			"CEX":      {DefaultKey: 1.5},
			DefaultKey: {"BTC": 0.5, "ETH": 1.0, "USDT": 0.75},
		},
		DefaultPriceDecimals: 8,
		PriceDecimals: map[string]map[string]int{
			"ETH_BTC":   {DefaultKey: 6, "BITTREX": 8},
			"LTC_BTC":   {DefaultKey: 5, "BINANCE": 6, "BITTREX": 8},
			"NEO_BTC":   {DefaultKey: 6, "BITTREX": 8},
			"DASH_BTC":  {DefaultKey: 6, "BITTREX": 8},
			"XMR_BTC":   {DefaultKey: 6, "BITTREX": 8, "HITBTC": 8},
			"EOS_BTC":   {DefaultKey: 8, "BINANCE": 7},
			"DASH_ETH":  {DefaultKey: 6, "BINANCE": 5, "BITTREX": 8},
			"LTC_ETH":   {DefaultKey: 5, "HITBTC": 3, "BITTREX": 8},
			"EOS_ETH":   {DefaultKey: 6, "BITTREX": 8},
			"NEO_ETH":   {DefaultKey: 6, "BITFINEX": 4, "HITBTC": 4, "BITTREX": 8},
			"XVG_ETH":   {DefaultKey: 8, "BITTREX": 8, "HITBTC": 7},
			"XMR_ETH":   {DefaultKey: 8, "BINANCE": 5},
			"BTC_USDT":  {DefaultKey: 2, "BITTREX": 8},
			"ETH_USDT":  {DefaultKey: 2, "BITTREX": 8},
			"XRP_USDT":  {DefaultKey: 4, "BITTREX": 8},
			"LTC_USDT":  {DefaultKey: 2, "HITBTC": 3, "BITFINEX": 1, "BITTREX": 8},
			"XVG_USDT":  {DefaultKey: 6, "BITTREX": 8},
			"IOTA_USDT": {DefaultKey: 3, "BITTREX": 8},
			"TRX_USDT":  {DefaultKey: 6, "BITTREX": 8, "HITBTC": 5},
			"NEO_USDT":  {DefaultKey: 3, "BITFINEX": 2, "BITTREX": 8, "HITBTC": 2},
			"DASH_USDT": {DefaultKey: 1, "BITTREX": 8, "HITBTC": 2},
			"EOS_USDT":  {DefaultKey: 3, "BITTREX": 8, "HITBTC": 5},
			"XMR_USDT":  {DefaultKey: 2},
		},
		VolumeDecimals: map[string]int{
			DefaultKey: 2, "ETH_BTC": 3, "LTC_BTC": 1, "XMR_BTC": 3, "XMR_ETH": 3,
			"BTC_USDT": 6, "ETH_USDT": 5, "LTC_USDT": 1, "XMR_USDT": 3,
		},

		MinVol: map[string]float64{
			"BTC": 0.03, "ETH": 0.3, "LTC": 0.5, "USDT": 200, "XVG": 3000, "XRP": 300, "IOTA": 200,
			"TRX": 3000, "NEO": 2.0, "DASH": 0.5, "EOS": 30, "XLM": 500, "XMR": 0.7,
		},
		MaxVol: maxVol,
		TradingUnit: map[string]float64{
			"BTC": 0.0001, "ETH": 0.001, "LTC": 0.1, "USDT": 1, "XVG": 1000, "XRP": 1, "IOTA": 1,
			"TRX": 1000, "NEO": 0.01, "DASH": 0.01, "EOS": 1, "XLM": 1, "XMR": 0.01,
		},
		// Some venues charge the fee on the currency, others on the market:
		// keep max fee times max volume in reserve.
		ResidualAmount: map[string]float64{
			"BTC":  maxFee * maxVol["BTC"],
			"ETH":  maxFee * maxVol["ETH"],
			"USDT": maxFee * maxVol["USDT"],
		},
		LargeUnit: []string{"XVG", "TRX", "LTC"},

		MinProfit:                   0.0000002,
		MinRebalancingProfit:        0.0000001,
		MinOrderbookVolume:          0.00001,
		ProfitAdjustment:            0.001,
		ProfitAdjustmentRebalancing: 2.0,
		NoRebalancingVenues:         []string{"CEX"},

		SimulationBalances: map[string]float64{
			"BTC": 1.0, "ETH": 10.0, "LTC": 50.0, "USDT": 10000.0, "XVG": 50000, "XRP": 5000, "IOTA": 3000,
			"TRX": 50000, "NEO": 50, "DASH": 5, "EOS": 500, "XLM": 2000, "XMR": 10,
		},
		PortfolioBands: PortfolioBands{BaseLow: 0.9, BaseHigh: 1.1, AltLow: 0.85, AltHigh: 1.15},
	}
}

func (e *Engine) validate() []string {
	var errs []string
	if e.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if e.CallTimeout.Duration <= 0 {
		errs = append(errs, "engine: call_timeout must be > 0")
	}
	if e.Workers < 1 {
		errs = append(errs, "engine: workers must be >= 1")
	}
	if e.BookDepth < 1 {
		errs = append(errs, "engine: book_depth must be >= 1")
	}
	if e.ReconcileEvery < 1 || e.BalanceEvery < 1 || e.TickerEvery < 1 || e.TickWrap < 1 {
		errs = append(errs, "engine: reconcile_every, balance_every, ticker_every and tick_wrap must be >= 1")
	}
	if e.BadPriceLimit < 1 {
		errs = append(errs, "engine: bad_price_limit must be >= 1")
	}
	if e.MinProfit <= 0 {
		errs = append(errs, "engine: min_profit must be > 0")
	}
	if len(e.Pairs) == 0 {
		errs = append(errs, "engine: pairs must not be empty")
	}
	for _, s := range e.Pairs {
		p, err := domain.ParsePair(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("engine: %v", err))
			continue
		}
		if _, ok := e.MinVol[p.Base]; !ok {
			errs = append(errs, fmt.Sprintf("engine: min_vol missing for %s", p.Base))
		}
		if u, ok := e.TradingUnit[p.Base]; !ok || u <= 0 {
			errs = append(errs, fmt.Sprintf("engine: trading_unit missing or non-positive for %s", p.Base))
		}
		if _, ok := e.MaxBidAskSpreadPct[DefaultKey][p.Alt]; !ok {
			errs = append(errs, fmt.Sprintf("engine: max_bidask_spread_pct.DEFAULT missing for %s", p.Alt))
		}
	}
	return errs
}

// TradedPairs parses the configured pairs. Invalid entries are rejected by
// Validate and skipped here.
func (e *Engine) TradedPairs() []domain.Pair {
	out := make([]domain.Pair, 0, len(e.Pairs))
	for _, s := range e.Pairs {
		if p, err := domain.ParsePair(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// SpreadCap returns the maximum bid-ask spread for a venue and pair as a
// fraction.
func (e *Engine) SpreadCap(venue string, p domain.Pair) float64 {
	if spds, ok := e.MaxBidAskSpreadPct[venue]; ok {
		if v, ok := spds[p.String()]; ok {
			return v / 100
		}
		return spds[DefaultKey] / 100
	}
	return e.MaxBidAskSpreadPct[DefaultKey][p.Alt] / 100
}

// PriceDigits returns the number of price decimals for a pair on a venue.
func (e *Engine) PriceDigits(p domain.Pair, venue string) int {
	if byVenue, ok := e.PriceDecimals[p.String()]; ok {
		if n, ok := byVenue[venue]; ok {
			return n
		}
		if n, ok := byVenue[DefaultKey]; ok {
			return n
		}
	}
	return e.DefaultPriceDecimals
}

// VolumeDigits returns the number of volume decimals for a pair.
func (e *Engine) VolumeDigits(p domain.Pair) int {
	if n, ok := e.VolumeDecimals[p.String()]; ok {
		return n
	}
	return e.VolumeDecimals[DefaultKey]
}

// MinVolume is the minimum tradeable volume of a currency.
func (e *Engine) MinVolume(ccy string) float64 {
	return e.MinVol[ccy]
}

// MaxVolume is the volume cap of a currency; ok is false when uncapped.
func (e *Engine) MaxVolume(ccy string) (v float64, ok bool) {
	v, ok = e.MaxVol[ccy]
	return v, ok
}

// LotSize is the trading unit volumes are floored to.
func (e *Engine) LotSize(ccy string) float64 {
	return e.TradingUnit[ccy]
}

// Residual is the reserve kept back from a currency balance.
func (e *Engine) Residual(ccy string) float64 {
	return e.ResidualAmount[ccy]
}

// IsLargeUnit reports whether ccy trades in large, low-value units.
func (e *Engine) IsLargeUnit(ccy string) bool {
	return slices.Contains(e.LargeUnit, ccy)
}

// IsBlacklisted reports whether a venue is excluded from trading.
func (e *Engine) IsBlacklisted(venue string) bool {
	return slices.ContainsFunc(e.Blacklist, func(b string) bool {
		return strings.EqualFold(b, venue)
	})
}

// WithMinProfit returns a copy of e with a new minimum profit fraction.
func (e Engine) WithMinProfit(v float64) Engine {
	e.MinProfit = v
	return e
}

// WithBlacklist returns a copy of e with a new venue exclusion list.
func (e Engine) WithBlacklist(venues []string) Engine {
	e.Blacklist = slices.Clone(venues)
	return e
}

// FloorVolume rounds v down to the trading unit of the pair's base.
func (e *Engine) FloorVolume(p domain.Pair, v float64) float64 {
	unit := e.LotSize(p.Base)
	return math.Floor(v/unit) * unit
}

// CeilVolume rounds v up to the trading unit of the pair's base.
func (e *Engine) CeilVolume(p domain.Pair, v float64) float64 {
	unit := e.LotSize(p.Base)
	return math.Ceil(v/unit) * unit
}
