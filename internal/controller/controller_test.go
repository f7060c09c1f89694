package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange/exchangetest"
	"github.com/alanyoungcy/xarb/internal/state"
)

var (
	xvgBTC  = domain.NewPair("XVG", "BTC")
	iotaBTC = domain.NewPair("IOTA", "BTC")
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine() *config.Engine {
	e := config.DefaultEngine()
	return &e
}

type submission struct {
	Pair          domain.Pair
	Side          domain.Side
	Price, Volume string
}

// recorder captures every submission reaching the venue.
type recorder struct {
	*exchangetest.Dummy
	mu   sync.Mutex
	subs []submission
}

func (r *recorder) SubmitOrder(ctx context.Context, p domain.Pair, side domain.Side, price, volume string) (domain.Order, error) {
	o, err := r.Dummy.SubmitOrder(ctx, p, side, price, volume)
	if err == nil {
		r.mu.Lock()
		r.subs = append(r.subs, submission{p, side, price, volume})
		r.mu.Unlock()
	}
	return o, err
}

func (r *recorder) submissions() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

func book(bidP, bidV, askP, askV float64) domain.Depth {
	return domain.Depth{
		Bids: []domain.Order{domain.Level(bidP, bidV)},
		Asks: []domain.Order{domain.Level(askP, askV)},
	}
}

// newPartialFill builds a controller over a venue reporting resting orders
// at scaling times their volume.
func newPartialFill(t *testing.T, scaling float64, balances map[string]float64, p domain.Pair, d domain.Depth) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{Dummy: exchangetest.New("TEST1", balances, exchangetest.WithPartialFills(scaling))}
	c := New(rec, testEngine(), discard(), WithBalances(balances))
	c.SetDepth(p, d)
	return c, rec
}

func buy(price, volume string) submission {
	return submission{xvgBTC, domain.SideBuy, price, volume}
}

func TestPriceUpdate(t *testing.T) {
	ctx := context.Background()
	c, rec := newPartialFill(t, 0.5, map[string]float64{"BTC": 0.17053, "XVG": 20000},
		xvgBTC, book(0.00000775, 10000, 0.00000776, 20000))

	_, err := c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
	require.NoError(t, err)
	c.QueryActiveOrders(ctx)
	require.Len(t, rec.submissions(), 1)
	require.Equal(t, StateResubmitting, c.State())

	c.QueryActiveOrders(ctx)
	require.Equal(t, []submission{
		buy("0.00000756", "19000"),
		buy("0.00000775", "9000.00"),
	}, rec.submissions())
	require.Equal(t, StateTracking, c.State())
	require.Empty(t, c.PendingResubmits())
}

func TestVolumeUpdate(t *testing.T) {
	ctx := context.Background()
	c, rec := newPartialFill(t, 0.5, map[string]float64{"BTC": 0.1438, "XVG": 20000},
		xvgBTC, book(0.00000875, 10000, 0.00000876, 20000))

	_, err := c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
	require.NoError(t, err)
	c.QueryActiveOrders(ctx)
	require.Len(t, rec.submissions(), 1)
	c.QueryActiveOrders(ctx)
	require.Equal(t, []submission{
		buy("0.00000756", "19000"),
		buy("0.00000876", "8000.00"),
	}, rec.submissions())
}

func TestPriceUpdateChain(t *testing.T) {
	ctx := context.Background()

	t.Run("alt poor", func(t *testing.T) {
		// The price keeps running away while the wallet is short of BTC:
		// every resubmission shrinks.
		c, rec := newPartialFill(t, 0.5, map[string]float64{"BTC": 19000 * 0.00000756 * 1.001, "XVG": 0},
			xvgBTC, book(0.00000875, 10000, 0.00000876, 20000))
		_, err := c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
		require.NoError(t, err)
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 1)
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 2)

		c.SetDepth(xvgBTC, book(0.00001875, 10000, 0.00001877, 20000))
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 2)
		c.QueryActiveOrders(ctx)
		require.Equal(t, []submission{
			buy("0.00000756", "19000"),
			buy("0.00000876", "8000.00"),
			buy("0.00001876", "1000.00"),
		}, rec.submissions())
	})

	t.Run("alt rich", func(t *testing.T) {
		// Enough BTC to chase the price: only lot rounding is lost.
		c, rec := newPartialFill(t, 0.5, map[string]float64{"BTC": 1.0, "XVG": 20000},
			xvgBTC, book(0.00000875, 10000, 0.00000876, 20000))
		_, err := c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
		require.NoError(t, err)
		c.QueryActiveOrders(ctx)
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 2)

		c.SetDepth(xvgBTC, book(0.00001875, 10000, 0.00001877, 20000))
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 2)
		c.QueryActiveOrders(ctx)
		require.Equal(t, []submission{
			buy("0.00000756", "19000"),
			buy("0.00000876", "9000.00"),
			buy("0.00001876", "4000.00"),
		}, rec.submissions())
	})

	t.Run("competitive order is kept", func(t *testing.T) {
		c, rec := newPartialFill(t, 1.0, map[string]float64{"BTC": 0.11633054, "IOTA": 0},
			iotaBTC, book(0.00014861, 1000, 0.0001486225, 1000))
		_, err := c.SubmitOrder(ctx, iotaBTC, domain.SideBuy, "0.0001486225", "781.00")
		require.NoError(t, err)
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 1)
		require.Equal(t, StateTracking, c.State())

		c.SetDepth(iotaBTC, book(0.000149, 1000, 0.0001502, 1000))
		c.QueryActiveOrders(ctx)
		require.Len(t, rec.submissions(), 1)
		require.Equal(t, StateResubmitting, c.State())
		require.Len(t, c.PendingResubmits(), 1)
	})
}

func requireBalances(t *testing.T, want, got map[string]float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for ccy, v := range want {
		require.InDelta(t, v, got[ccy], 1e-12, ccy)
	}
}

func TestOfflineBalances(t *testing.T) {
	ctx := context.Background()
	c, rec := newPartialFill(t, 0.5, map[string]float64{"BTC": 0.17053, "XVG": 20000},
		xvgBTC, book(0.00000775, 10000, 0.00000776, 20000))

	_, err := c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
	require.NoError(t, err)
	requireBalances(t, map[string]float64{"BTC": 0.026602719999999996, "XVG": 39000}, c.OfflineBalances())

	c.QueryActiveOrders(ctx)
	require.Len(t, rec.submissions(), 1)
	requireBalances(t, map[string]float64{"BTC": 0.09856635999999999, "XVG": 29500}, c.OfflineBalances())

	c.QueryActiveOrders(ctx)
	require.Len(t, rec.submissions(), 2)
	requireBalances(t, map[string]float64{"BTC": 0.028676859999999985, "XVG": 38500}, c.OfflineBalances())

	_, err = c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
	require.NoError(t, err)
	requireBalances(t, map[string]float64{"BTC": -0.11525042, "XVG": 57500}, c.OfflineBalances())

	// DUMMYORD0 is no longer registered, DUMMYORD1 sits at the mid and
	// DUMMYORD2 is stale.
	c.QueryActiveOrders(ctx)
	requireBalances(t, map[string]float64{"BTC": -0.04328678000000001, "XVG": 48000}, c.OfflineBalances())
	require.Len(t, rec.submissions(), 3)
	pending := c.PendingResubmits()
	require.Len(t, pending, 1)
	require.Equal(t, "DUMMYORD2", pending[0].ID)
	require.InDelta(t, 9500.0, pending[0].Volume, 1e-9)
}

func TestSubmitCancelRoundTrip(t *testing.T) {
	ctx := context.Background()
	start := map[string]float64{"BTC": 2, "ETH": 10}
	p := domain.NewPair("ETH", "BTC")
	d := exchangetest.New("TEST1", start)
	c := New(d, testEngine(), discard(), WithBalances(start))

	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		o, err := c.SubmitOrder(ctx, p, side, "0.05", "3.5")
		require.NoError(t, err)
		require.NotEqual(t, start, c.OfflineBalances())

		orig, ok, err := c.CancelOrder(ctx, o)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, o, orig)
		requireBalances(t, start, c.OfflineBalances())
		requireBalances(t, start, c.Balances())
	}
	require.Empty(t, c.Orders())
	require.Len(t, d.Cancelled(), 2)

	_, ok, err := c.CancelOrder(ctx, domain.Order{ID: "unknown"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, d.Cancelled(), 2)
}

func TestSubmitLeg(t *testing.T) {
	ctx := context.Background()

	t.Run("no funds", func(t *testing.T) {
		c := New(exchangetest.New("FOO1", nil), testEngine(), discard())
		_, err := c.SubmitLeg(ctx, xvgBTC, domain.SideBuy, 1.0, 1510)
		require.ErrorIs(t, err, domain.ErrNoFunds)
		require.Empty(t, c.Orders())
	})

	t.Run("unknown lot size", func(t *testing.T) {
		c := New(exchangetest.New("FOO1", map[string]float64{"BTC": 1}), testEngine(), discard())
		_, err := c.SubmitLeg(ctx, domain.NewPair("FOO", "BTC"), domain.SideBuy, 0.01, 1510)
		require.ErrorIs(t, err, domain.ErrInvalidPair)
		require.Empty(t, c.Orders())
	})

	t.Run("valid orders", func(t *testing.T) {
		ask := New(exchangetest.New("FOO1", map[string]float64{"BTC": 0.17053, "XVG": 0}), testEngine(), discard())
		bid := New(exchangetest.New("FOO2", map[string]float64{"BTC": 0, "XVG": 20}), testEngine(), discard())
		_, err := ask.SubmitLeg(ctx, xvgBTC, domain.SideBuy, 0.01, 1510)
		require.NoError(t, err)
		_, err = bid.SubmitLeg(ctx, xvgBTC, domain.SideSell, 0.01, 1510)
		require.NoError(t, err)
		for _, c := range []*Controller{ask, bid} {
			orders := c.Orders()
			require.Len(t, orders, 1)
			require.Equal(t, "DUMMYORD0", orders[0].ID)
			require.Equal(t, 0.01, orders[0].Price)
			require.Equal(t, 1000.0, orders[0].Volume)
		}
	})
}

func TestFormat(t *testing.T) {
	c := New(exchangetest.New("BITTREX", nil), testEngine(), discard())
	require.Equal(t, "0.05000000", c.FormatPrice(domain.NewPair("ETH", "BTC"), 0.05))
	require.Equal(t, "0.00000756", c.FormatPrice(xvgBTC, 0.00000756))

	h := New(exchangetest.New("HITBTC", nil), testEngine(), discard())
	require.Equal(t, "123.457", h.FormatPrice(domain.NewPair("LTC", "USDT"), 123.4567))
	require.Equal(t, "0.05", h.FormatPrice(domain.NewPair("BTC", "USDT"), 0.05))

	v, err := h.FormatVolume(domain.NewPair("ETH", "BTC"), 1.23456)
	require.NoError(t, err)
	require.Equal(t, "1.234", v)
	v, err = h.FormatVolume(xvgBTC, 1510)
	require.NoError(t, err)
	require.Equal(t, "1000.00", v)
}

func TestBestMinVol(t *testing.T) {
	p := domain.NewPair("ETH", "BTC")
	c := New(exchangetest.New("TEST1", nil), testEngine(), discard())
	require.Equal(t, domain.Order{}, c.BestBidMinVol(p))

	c.SetDepth(p, domain.Depth{
		Bids: []domain.Order{domain.Level(0.05, 0.1), domain.Level(0.049, 0.25), domain.Level(0.048, 5)},
		Asks: []domain.Order{domain.Level(0.051, 1)},
	})
	bid := c.BestBidMinVol(p)
	require.Equal(t, 0.049, bid.Price)
	require.InDelta(t, 0.35, bid.Volume, 1e-12)

	ask := c.BestAskMinVol(p)
	require.Equal(t, domain.Level(0.051, 1), ask)

	hb, ok := c.HighestBid(p)
	require.True(t, ok)
	require.Equal(t, 0.05, hb)
	_, ok = c.LowestAsk(domain.NewPair("XRP", "BTC"))
	require.False(t, ok)
}

func TestUpdateDepthFailureEmptiesBook(t *testing.T) {
	ctx := context.Background()
	p := domain.NewPair("ETH", "BTC")
	d := exchangetest.New("TEST1", nil)
	d.SetDepth(p, book(0.05, 1, 0.051, 1))
	c := New(d, testEngine(), discard())

	c.UpdateDepth(ctx, p)
	got, ok := c.Depth(p)
	require.True(t, ok)
	require.False(t, got.Empty())

	d.FailNext("GetDepth", errors.New("boom"))
	c.UpdateDepth(ctx, p)
	got, ok = c.Depth(p)
	require.True(t, ok)
	require.True(t, got.Empty())
}

func TestUpdateAllBalances(t *testing.T) {
	ctx := context.Background()
	d := exchangetest.New("TEST1", map[string]float64{"BTC": 1, "ETH": 0})
	c := New(d, testEngine(), discard())
	c.SetDepth(xvgBTC, book(1, 1, 2, 1))

	c.UpdateAllBalances(ctx)
	require.False(t, c.ConnectionLost())
	require.True(t, c.TakeNewBalance())
	require.False(t, c.TakeNewBalance())
	requireBalances(t, map[string]float64{"BTC": 1, "ETH": 0}, c.OfflineBalances())
	requireBalances(t, map[string]float64{"BTC": 1, "ETH": 0}, c.InitialBalances())
	_, ok := c.Depth(xvgBTC)
	require.False(t, ok)

	// Offline balances are self-tracked: only new currencies are adopted.
	d.SetBalances(map[string]float64{"BTC": 1.5, "ETH": 0, "XRP": 300})
	c.UpdateAllBalances(ctx)
	require.True(t, c.TakeNewBalance())
	requireBalances(t, map[string]float64{"BTC": 1, "ETH": 0, "XRP": 300}, c.OfflineBalances())
	require.Equal(t, 1.5, c.Balance("BTC"))

	// Unchanged balances raise no flag.
	c.UpdateAllBalances(ctx)
	require.False(t, c.TakeNewBalance())

	// A failed poll keeps the last balances.
	d.FailNext("GetBalance", errors.New("timeout"))
	c.UpdateAllBalances(ctx)
	require.True(t, c.ConnectionLost())
	require.Equal(t, 1.5, c.Balance("BTC"))

	d.SetBalances(map[string]float64{})
	c.UpdateAllBalances(ctx)
	require.True(t, c.ConnectionLost())

	d.SetBalances(map[string]float64{"BTC": 1.5})
	c.UpdateAllBalances(ctx)
	require.False(t, c.ConnectionLost())
}

func TestQueryActiveOrdersIdleAndFailure(t *testing.T) {
	ctx := context.Background()
	d := exchangetest.New("TEST1", map[string]float64{"BTC": 1})
	c := New(d, testEngine(), discard(), WithBalances(map[string]float64{"BTC": 1}))

	c.QueryActiveOrders(ctx)
	require.Equal(t, StateIdle, c.State())
	require.False(t, c.CheckActiveOrders())

	c.MarkBusy()
	require.True(t, c.CheckActiveOrders())

	d.FailNext("QueryActiveOrders", errors.New("503"))
	c.QueryActiveOrders(ctx)
	require.True(t, c.ConnectionLost())
	require.Equal(t, StateTracking, c.State())

	c.QueryActiveOrders(ctx)
	require.False(t, c.ConnectionLost())
	require.Equal(t, StateIdle, c.State())
}

func TestCheckActiveOrdersNotice(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(exchangetest.New("TEST1", nil), testEngine(), discard(), WithClock(func() time.Time { return now }))
	c.MarkBusy()
	require.True(t, c.CheckActiveOrders())
	require.Equal(t, now, c.pendingNoticeAt)

	now = now.Add(30 * time.Second)
	require.True(t, c.CheckActiveOrders())
	require.Equal(t, now.Add(-30*time.Second), c.pendingNoticeAt)

	now = now.Add(31 * time.Second)
	require.True(t, c.CheckActiveOrders())
	require.Equal(t, now, c.pendingNoticeAt)
}

func TestShouldReportSpread(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(exchangetest.New("TEST1", nil), testEngine(), discard(), WithClock(func() time.Time { return now }))
	require.True(t, c.ShouldReportSpread(xvgBTC))
	require.False(t, c.ShouldReportSpread(xvgBTC))
	require.True(t, c.ShouldReportSpread(iotaBTC))
	now = now.Add(301 * time.Second)
	require.True(t, c.ShouldReportSpread(xvgBTC))
}

func TestValidateOrderBook(t *testing.T) {
	ctx := context.Background()
	d := exchangetest.New("TEST1", nil)
	d.SetDepth(xvgBTC, book(0.0000100, 1000, 0.0000101, 1000))
	c := New(d, testEngine(), discard())

	c.ValidateOrderBook(ctx, xvgBTC, map[domain.Pair]float64{})
	require.Zero(t, d.Calls("GetDepth"))

	bad := map[domain.Pair]float64{xvgBTC: 0.0000200}
	for i := 1; i <= 4; i++ {
		c.ValidateOrderBook(ctx, xvgBTC, bad)
		require.Equal(t, i, c.BadPrices()[xvgBTC])
	}
	c.ValidateOrderBook(ctx, xvgBTC, map[domain.Pair]float64{xvgBTC: 0.00001005})
	require.Zero(t, c.BadPrices()[xvgBTC])

	d.FailNext("GetDepth", errors.New("boom"))
	c.ValidateOrderBook(ctx, xvgBTC, bad)
	require.True(t, c.ConnectionLost())
	c.ValidateOrderBook(ctx, xvgBTC, bad)
	require.Zero(t, c.BadPrices()[xvgBTC])
}

func TestFetchTickers(t *testing.T) {
	ctx := context.Background()
	d := exchangetest.New("TEST1", nil)
	c := New(d, testEngine(), discard())
	require.Nil(t, c.FetchTickers(ctx))
	require.True(t, c.ConnectionLost())

	d.SetTickers(map[domain.Pair]float64{xvgBTC: 0.00001})
	require.Equal(t, map[domain.Pair]float64{xvgBTC: 0.00001}, c.FetchTickers(ctx))
	require.False(t, c.ConnectionLost())
}

func TestReconnect(t *testing.T) {
	ctx := context.Background()
	d := exchangetest.New("TEST1", map[string]float64{"BTC": 1})
	c := New(d, testEngine(), discard(), WithBalances(map[string]float64{"BTC": 1}))
	c.mu.Lock()
	c.badPrices[xvgBTC] = 2
	c.mu.Unlock()

	require.NoError(t, c.Reconnect(ctx))
	require.Equal(t, 1, d.Calls("Start"))
	require.Equal(t, 1, d.Calls("Reconnect"))
	require.Empty(t, c.Balances())
	require.Zero(t, c.BadPrices()[xvgBTC])
	require.True(t, c.Status().Reconnecting)

	// Pending until the next balance poll.
	require.NoError(t, c.Reconnect(ctx))
	require.Equal(t, 1, d.Calls("Start"))

	c.UpdateAllBalances(ctx)
	require.False(t, c.Status().Reconnecting)
}

func TestPersistRestore(t *testing.T) {
	ctx := context.Background()
	c, _ := newPartialFill(t, 0.5, map[string]float64{"BTC": 0.17053, "XVG": 20000},
		xvgBTC, book(0.00000775, 10000, 0.00000776, 20000))
	_, err := c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000756", "19000")
	require.NoError(t, err)
	_, err = c.SubmitOrder(ctx, xvgBTC, domain.SideBuy, "0.00000777", "3000")
	require.NoError(t, err)
	c.QueryActiveOrders(ctx)

	saved := c.Persist()
	require.Len(t, saved.Orders, 1)
	require.Len(t, saved.ToResubmitOrders, 1)
	require.Equal(t, "DUMMYORD0", saved.ToResubmitOrders[0].ID)

	fresh := New(exchangetest.New("TEST1", nil), testEngine(), discard())
	require.NoError(t, fresh.Restore(saved))
	require.Equal(t, saved, fresh.Persist())
	require.Equal(t, StateResubmitting, fresh.State())
	require.True(t, fresh.CheckActiveOrders())

	err = fresh.Restore(state.VenueState{Orders: []domain.OrderRecord{{P: 1, V: 1, Type: "HOLD", Pair: "XVG_BTC", ID: "x"}}})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	require.Empty(t, fresh.Orders())
	require.Equal(t, saved.OfflineBalances, fresh.Persist().OfflineBalances)
}

func TestSimulation(t *testing.T) {
	ctx := context.Background()
	params := testEngine()
	p := domain.NewPair("ETH", "BTC")
	c := New(exchangetest.New("SIM", nil), params, discard(), WithSimulation(params.SimulationBalances))
	require.True(t, c.Simulated())

	o, err := c.SubmitOrder(ctx, p, domain.SideBuy, "0.05", "2")
	require.NoError(t, err)
	require.Equal(t, "SIMUL0", o.ID)
	require.Empty(t, c.Orders())
	off := c.OfflineBalances()
	require.InDelta(t, 12.0, off["ETH"], 1e-12)
	require.InDelta(t, 0.9, off["BTC"], 1e-12)

	o, err = c.SubmitOrder(ctx, p, domain.SideSell, "0.05", "2")
	require.NoError(t, err)
	require.Equal(t, "SIMUL1", o.ID)
	requireBalances(t, params.SimulationBalances, c.OfflineBalances())

	c.MarkBusy()
	c.QueryActiveOrders(ctx)
	require.Equal(t, StateIdle, c.State())
	c.UpdateAllBalances(ctx)
	require.False(t, c.ConnectionLost())
}
