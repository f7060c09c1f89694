package paper

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/orderbook"
)

var xrpBTC = domain.NewPair("XRP", "BTC")

func newVenue(t *testing.T, balances map[string]float64) (*Venue, *orderbook.Registry) {
	t.Helper()
	reg := orderbook.NewRegistry(10, 0.00001)
	n := 0
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v, err := New(config.VenueConfig{
		Name:     "paper1",
		Kind:     config.VenueKindPaper,
		Fee:      0.002,
		Pairs:    []string{"XRP_BTC", "ETH_BTC"},
		Balances: balances,
	}, reg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithIDs(func() string { n++; return "P" + strconv.Itoa(n) }),
		WithClock(func() time.Time { clock = clock.Add(time.Second); return clock }),
	)
	require.NoError(t, err)
	require.NoError(t, v.Start(context.Background()))
	return v, reg
}

func setBook(reg *orderbook.Registry, bid, ask float64) {
	reg.Book("PAPER1", xrpBTC).ApplySnapshot(
		[]domain.PriceLevel{{Price: bid, Size: 1000}},
		[]domain.PriceLevel{{Price: ask, Size: 1000}},
	)
}

func TestVenueIdentity(t *testing.T) {
	v, _ := newVenue(t, nil)
	require.Equal(t, "PAPER1", v.Name())
	require.Equal(t, 0.002, v.TradingFee())
	require.Equal(t, []domain.Pair{xrpBTC, domain.NewPair("ETH", "BTC")}, v.TradeablePairs())
	require.Equal(t, "xrpbtc", v.FormatPair(xrpBTC))
	p, err := v.PairFromSymbol("xrpbtc")
	require.NoError(t, err)
	require.Equal(t, xrpBTC, p)
}

func TestNewRejectsBadPairs(t *testing.T) {
	_, err := New(config.VenueConfig{Name: "x", Pairs: []string{"XRPBTC"}}, orderbook.NewRegistry(10, 0), slog.Default())
	require.ErrorIs(t, err, domain.ErrInvalidPair)
}

func TestDepthAndTicker(t *testing.T) {
	ctx := context.Background()
	v, reg := newVenue(t, nil)

	d, err := v.GetDepth(ctx, xrpBTC)
	require.NoError(t, err)
	require.True(t, d.Empty())

	setBook(reg, 0.0001, 0.0002)
	d, err = v.GetDepth(ctx, xrpBTC)
	require.NoError(t, err)
	require.Equal(t, 0.0001, d.BestBid().Price)
	require.Equal(t, 0.0002, d.BestAsk().Price)

	tickers, err := v.GetTicker(ctx)
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	require.InDelta(t, 0.00015, tickers[xrpBTC], 1e-12)

	_, err = v.GetDepth(ctx, domain.NewPair("NEO", "USDT"))
	require.ErrorIs(t, err, domain.ErrInvalidPair)
}

func TestStoppedVenueIsDisconnected(t *testing.T) {
	ctx := context.Background()
	v, reg := newVenue(t, map[string]float64{"BTC": 1})
	setBook(reg, 0.0001, 0.0002)
	require.NoError(t, v.Stop(ctx))

	_, err := v.GetBalance(ctx)
	require.ErrorIs(t, err, domain.ErrConnectionLost)
	_, err = v.SubmitOrder(ctx, xrpBTC, domain.SideBuy, "0.0001", "10")
	require.ErrorIs(t, err, domain.ErrConnectionLost)

	require.NoError(t, v.Reconnect(ctx))
	d, err := v.GetDepth(ctx, xrpBTC)
	require.NoError(t, err)
	require.True(t, d.Empty(), "stop clears the venue books")
}

func TestRestingOrderHoldAndCancel(t *testing.T) {
	ctx := context.Background()
	v, reg := newVenue(t, map[string]float64{"BTC": 1, "XRP": 100})
	setBook(reg, 0.0001, 0.0002)

	buy, err := v.SubmitOrder(ctx, xrpBTC, domain.SideBuy, "0.00015", "1000")
	require.NoError(t, err)
	require.Equal(t, "P1", buy.ID)
	sell, err := v.SubmitOrder(ctx, xrpBTC, domain.SideSell, "0.00018", "50")
	require.NoError(t, err)

	bal, err := v.GetBalance(ctx)
	require.NoError(t, err)
	require.InDelta(t, 1-0.15*1.002, bal["BTC"], 1e-12)
	require.InDelta(t, 50, bal["XRP"], 1e-12)

	active, err := v.QueryActiveOrders(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{buy.ID, sell.ID}, []string{active[0].ID, active[1].ID})

	require.NoError(t, v.CancelOrders(ctx, []domain.Order{buy, sell, {ID: "unknown"}}))
	bal, err = v.GetBalance(ctx)
	require.NoError(t, err)
	require.InDelta(t, 1, bal["BTC"], 1e-12)
	require.InDelta(t, 100, bal["XRP"], 1e-12)
	active, err = v.QueryActiveOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestOrdersFillOnCross(t *testing.T) {
	ctx := context.Background()
	v, reg := newVenue(t, map[string]float64{"BTC": 1, "XRP": 100})
	setBook(reg, 0.0001, 0.0002)

	_, err := v.SubmitOrder(ctx, xrpBTC, domain.SideBuy, "0.00015", "1000")
	require.NoError(t, err)
	_, err = v.SubmitOrder(ctx, xrpBTC, domain.SideSell, "0.00018", "50")
	require.NoError(t, err)

	// The ask drops through the buy limit.
	setBook(reg, 0.0001, 0.00014)
	active, err := v.QueryActiveOrders(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, domain.SideSell, active[0].Side)

	// The bid rises through the sell limit.
	setBook(reg, 0.00019, 0.0002)
	_, err = v.GetDepth(ctx, xrpBTC)
	require.NoError(t, err)

	bal, err := v.GetBalance(ctx)
	require.NoError(t, err)
	require.InDelta(t, 1050, bal["XRP"], 1e-9)
	require.InDelta(t, 1-0.15*1.002+0.009*0.998, bal["BTC"], 1e-12)
}

func TestImmediateFillAndFunds(t *testing.T) {
	ctx := context.Background()
	v, reg := newVenue(t, map[string]float64{"BTC": 0.01})
	setBook(reg, 0.0001, 0.0002)

	_, err := v.SubmitOrder(ctx, xrpBTC, domain.SideBuy, "0.0002", "100")
	require.ErrorIs(t, err, domain.ErrNoFunds)

	_, err = v.SubmitOrder(ctx, xrpBTC, domain.SideBuy, "0.0002", "40")
	require.NoError(t, err)
	active, err := v.QueryActiveOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	bal, err := v.GetBalance(ctx)
	require.NoError(t, err)
	require.InDelta(t, 40, bal["XRP"], 1e-12)

	_, err = v.SubmitOrder(ctx, xrpBTC, domain.SideBuy, "abc", "1")
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = v.SubmitOrder(ctx, xrpBTC, domain.SideSell, "0.0001", "0")
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}
