// Package profit evaluates every ordered (bidder, asker) pair of venues for a
// market and picks the most profitable arbitrage net of fees, balances and
// volume limits.
package profit

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/controller"
	"github.com/alanyoungcy/xarb/internal/domain"
)

// Trade is a priced two-legged arbitrage: the asker venue buys base at
// AskerOrder, the bidder venue sells it at BidderOrder.
type Trade struct {
	Pair        domain.Pair
	Bidder      *controller.Controller
	Asker       *controller.Controller
	BidderOrder domain.Order
	AskerOrder  domain.Order
	Profit      float64
	ProfitPct   float64
	Rebalancing bool
}

type holdings struct {
	base, alt float64
}

type quote struct {
	bid, ask       float64
	hasBid, hasAsk bool
}

type route struct {
	bidder, asker int
}

// Calculator prices one pair across venues. It snapshots balances and top of
// book at construction and is used for a single evaluation.
type Calculator struct {
	pair        domain.Pair
	controllers []*controller.Controller
	params      *config.Engine
	logger      *slog.Logger

	balances []holdings
	prices   []quote
	spread   map[route]float64
	profits  map[route]*Trade
	err      error
}

// New snapshots the venues and computes the fee-adjusted spread matrix.
func New(pair domain.Pair, controllers []*controller.Controller, params *config.Engine, logger *slog.Logger) *Calculator {
	pc := &Calculator{
		pair:        pair,
		controllers: controllers,
		params:      params,
		logger:      logger.With(slog.String("component", "profit"), slog.String("pair", pair.String())),
		balances:    make([]holdings, len(controllers)),
		prices:      make([]quote, len(controllers)),
		spread:      map[route]float64{},
		profits:     map[route]*Trade{},
	}
	for i, c := range controllers {
		b := c.Balances()
		pc.balances[i] = holdings{base: b[pair.Base], alt: b[pair.Alt]}
		var q quote
		q.bid, q.hasBid = c.HighestBid(pair)
		q.ask, q.hasAsk = c.LowestAsk(pair)
		pc.prices[i] = q
	}
	for b, bidder := range controllers {
		for a, asker := range controllers {
			if a == b || !pc.prices[b].hasBid || !pc.prices[a].hasAsk {
				continue
			}
			pc.spread[route{b, a}] = pc.prices[b].bid*(1-asker.Fee())*(1-bidder.Fee()) - pc.prices[a].ask
		}
	}
	return pc
}

// Spread returns the fee-adjusted price gap between selling on bidder and
// buying on asker; ok is false when either venue lacks the needed side.
func (pc *Calculator) Spread(bidder, asker string) (float64, bool) {
	b, a := pc.index(bidder), pc.index(asker)
	if b < 0 || a < 0 {
		return 0, false
	}
	v, ok := pc.spread[route{b, a}]
	return v, ok
}

// Err reports the corrupted book that made CheckProfits fail, if any.
func (pc *Calculator) Err() error { return pc.err }

// CheckProfits evaluates every ordered venue pair and reports whether at
// least one profitable trade was found. A crossed book on any venue aborts
// the evaluation and sets Err.
func (pc *Calculator) CheckProfits() bool {
	success := false
	for b, bidder := range pc.controllers {
		for a, asker := range pc.controllers {
			if a == b {
				continue
			}
			bd, ok := bidder.Depth(pc.pair)
			if !ok {
				continue
			}
			ad, ok := asker.Depth(pc.pair)
			if !ok {
				continue
			}
			if bd.Empty() || ad.Empty() {
				continue
			}
			pc.checkSpread(bidder, bd)
			pc.checkSpread(asker, ad)
			if err := pc.checkCrossed(bidder, bd); err != nil {
				pc.err = err
				return false
			}
			if err := pc.checkCrossed(asker, ad); err != nil {
				pc.err = err
				return false
			}
			if t := pc.calculateOrder(b, a, bd.Bids, ad.Asks); t != nil {
				pc.profits[route{b, a}] = t
				success = true
			}
		}
	}
	return success
}

// BestTrade returns the trade with the highest profit percentage found by
// CheckProfits, or nil. Ties keep the first venue pair in controller order.
func (pc *Calculator) BestTrade() *Trade {
	var best *Trade
	bestPct := 0.0
	for b := range pc.controllers {
		for a := range pc.controllers {
			t, ok := pc.profits[route{b, a}]
			if !ok {
				continue
			}
			if t.ProfitPct > bestPct {
				best, bestPct = t, t.ProfitPct
			}
		}
	}
	return best
}

func (pc *Calculator) checkSpread(c *controller.Controller, d domain.Depth) {
	bid, ask := d.Bids[0].Price, d.Asks[0].Price
	limit := pc.params.SpreadCap(c.Name(), pc.pair)
	if (ask-bid)/bid > limit && c.ShouldReportSpread(pc.pair) {
		pc.logger.Info("profit: bid-ask spread too high",
			slog.String("venue", c.Name()),
			slog.Float64("bid", bid),
			slog.Float64("ask", ask),
			slog.Float64("limit_pct", limit*100),
		)
	}
}

func (pc *Calculator) checkCrossed(c *controller.Controller, d domain.Depth) error {
	bid, ask := d.Bids[0].Price, d.Asks[0].Price
	if bid <= ask {
		return nil
	}
	pc.logger.Error("profit: corrupted order book",
		slog.String("venue", c.Name()),
		slog.Float64("bid", bid),
		slog.Float64("ask", ask),
	)
	return fmt.Errorf("profit: %s %s bid %v above ask %v: %w", c.Name(), pc.pair, bid, ask, domain.ErrCorruptedBook)
}

func (pc *Calculator) calculateOrder(b, a int, bids, asks []domain.Order) *Trade {
	bidder, asker := pc.controllers[b], pc.controllers[a]
	minVol := pc.params.MinVolume(pc.pair.Base)

	bestBid, bestAsk := bids[0], asks[0]
	if bestBid.Volume < minVol {
		bestBid = bidder.BestBidMinVol(pc.pair)
	}
	if bestAsk.Volume < minVol {
		bestAsk = asker.BestAskMinVol(pc.pair)
	}

	// Shade both prices toward each other so the legs still fill if the book
	// moves a little before they land.
	profitAdj := pc.params.ProfitAdjustment / 2
	volAdj := (bestBid.Price - bestAsk.Price) * profitAdj
	vol := min(bestBid.Volume, bestAsk.Volume)
	bestBid = domain.Level(bestBid.Price-volAdj, vol)
	bestAsk = domain.Level(bestAsk.Price+volAdj, vol)

	res, ok := pc.calcProfits(b, a, bestBid, bestAsk, minVol, volAdj)
	if !ok || res.rel < pc.params.MinProfit {
		return nil
	}
	return &Trade{
		Pair:        pc.pair,
		Bidder:      bidder,
		Asker:       asker,
		BidderOrder: res.bidder.WithPair(pc.pair, domain.SideSell),
		AskerOrder:  res.asker.WithPair(pc.pair, domain.SideBuy),
		Profit:      res.profit,
		ProfitPct:   res.rel * 100,
	}
}

type legs struct {
	bidder, asker domain.Order
	profit, rel   float64
}

// calcProfits sizes both legs against balances, fees, book volume and the
// per-currency volume cap, then rounds them to the base trading unit.
func (pc *Calculator) calcProfits(b, a int, bestBid, bestAsk domain.Order, minVol, volAdj float64) (legs, bool) {
	bidder, asker := pc.controllers[b], pc.controllers[a]
	base := pc.pair.Base
	residual := pc.params.Residual(pc.pair.Alt)

	bidderBase := max(pc.balances[b].base-residual/bestBid.Price, 0)
	askerAlt := max(pc.balances[a].alt-residual, 0)
	afford := (askerAlt / pc.prices[a].ask) * (1 - volAdj/bestAsk.Price)
	if bidderBase < minVol || afford < minVol {
		return legs{}, false
	}

	// float64(x*y) rounds the product, so it is never fused into an FMA.
	maxBook := min(bestBid.Volume, float64(bestAsk.Volume*(1-asker.Fee())))
	maxBal := min(bidderBase, afford)
	baseVol := min(maxBook, maxBal)
	if capVol, ok := pc.params.MaxVolume(base); ok {
		baseVol = min(baseVol, capVol)
	}
	baseVol *= 1 - volAdj/bestAsk.Price

	// The asker pays the fee in base, so it buys slightly more than the
	// bidder sells.
	askerTx := 1 - asker.Fee()
	var bidVol, askVol float64
	switch {
	case pc.params.IsLargeUnit(base):
		baseVol = pc.params.FloorVolume(pc.pair, baseVol*askerTx)
		if baseVol > afford {
			baseVol -= pc.params.LotSize(base)
		}
		bidVol, askVol = baseVol, baseVol
	case baseVol/askerTx > afford:
		bidVol = pc.params.FloorVolume(pc.pair, baseVol*askerTx)
		askVol = pc.params.FloorVolume(pc.pair, baseVol)
	default:
		bidVol = pc.params.FloorVolume(pc.pair, baseVol)
		askVol = pc.params.FloorVolume(pc.pair, baseVol/askerTx)
	}
	if bidVol <= 0 || askVol <= 0 || math.IsNaN(bidVol) || math.IsNaN(askVol) {
		return legs{}, false
	}

	bp, ap := bestBid.Price, bestAsk.Price
	// Round each product on its own, as above.
	sell := float64(bp * (1 - bidder.Fee()))
	buy := ap / (1 - asker.Fee())
	profit := float64(bidVol * (sell - buy))
	rel := profit / float64(ap*askVol)
	return legs{
		bidder: domain.Level(bp, bidVol),
		asker:  domain.Level(ap, askVol),
		profit: profit,
		rel:    rel,
	}, true
}

func (pc *Calculator) index(name string) int {
	for i, c := range pc.controllers {
		if c.Name() == name {
			return i
		}
	}
	return -1
}
