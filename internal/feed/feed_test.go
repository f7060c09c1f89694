package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
	"github.com/alanyoungcy/xarb/internal/orderbook"
)

var xrpBTC = domain.NewPair("XRP", "BTC")

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encode(t *testing.T, f Frame) []byte {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return data
}

func snapshot(venue string, bid, ask float64) Frame {
	return Frame{
		Type:  FrameSnapshot,
		Venue: venue,
		Pair:  "XRP_BTC",
		Bids:  []domain.PriceLevel{{Price: bid, Size: 100}},
		Asks:  []domain.PriceLevel{{Price: ask, Size: 100}},
	}
}

func bestBid(reg *orderbook.Registry, venue string) float64 {
	b, ok := reg.Lookup(venue, xrpBTC)
	if !ok {
		return 0
	}
	return b.Snapshot().BestBid().Price
}

func TestApplier(t *testing.T) {
	reg := orderbook.NewRegistry(10, 0.00001)
	m := metrics.New(prometheus.NewRegistry())
	a := NewApplier(reg, []string{"paper1"}, m, discard())
	require.Equal(t, []string{"PAPER1"}, a.Venues())

	require.NoError(t, a.Handle(encode(t, snapshot("paper1", 0.0001, 0.0002))))
	require.NoError(t, a.Apply(Frame{Type: FrameDelta, Venue: "PAPER1", Pair: "xrp_btc", Side: domain.BookSideBid, Price: 0.00015, Size: 10}))
	book, ok := reg.Lookup("PAPER1", xrpBTC)
	require.True(t, ok)
	d := book.Snapshot()
	require.Equal(t, []domain.Order{domain.Level(0.00015, 10), domain.Level(0.0001, 100)}, d.Bids)

	// A delta below the minimum volume removes the level.
	require.NoError(t, a.Apply(Frame{Type: FrameDelta, Venue: "PAPER1", Pair: "XRP_BTC", Side: domain.BookSideBid, Price: 0.00015, Size: 0}))
	require.Equal(t, 0.0001, bestBid(reg, "PAPER1"))

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"unknown venue", `{"type":"snapshot","venue":"OTHER","pair":"XRP_BTC"}`},
		{"bad pair", `{"type":"snapshot","venue":"PAPER1","pair":"XRPBTC"}`},
		{"bad side", `{"type":"delta","venue":"PAPER1","pair":"XRP_BTC","side":"mid","price":1,"size":1}`},
		{"bad price", `{"type":"delta","venue":"PAPER1","pair":"XRP_BTC","side":"ask","price":0,"size":1}`},
		{"bad type", `{"type":"trade","venue":"PAPER1","pair":"XRP_BTC"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, a.Handle([]byte(tt.data)))
		})
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.FramesCounter(FrameSnapshot)))
	require.Equal(t, float64(len(tests)), testutil.ToFloat64(m.FramesCounter("invalid")))

	a.Reset()
	require.True(t, book.Snapshot().Empty())
}

// depthServer accepts websocket clients, records their subscriptions and
// sends each one the frames returned by next. When drop is set the server
// hangs up after sending.
type depthServer struct {
	t     *testing.T
	next  func(conn int) []Frame
	drop  bool
	conns atomic.Int32
	subs  chan subscription
	wg    sync.WaitGroup
}

func (s *depthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := int(s.conns.Add(1))

	var sub subscription
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	s.subs <- sub
	for _, f := range s.next(n) {
		data, _ := json.Marshal(f)
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	if s.drop && n == 1 {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamAppliesFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	ds := &depthServer{t: t, subs: make(chan subscription, 4), next: func(int) []Frame {
		return []Frame{
			snapshot("PAPER1", 0.0001, 0.0002),
			{Type: FrameDelta, Venue: "PAPER1", Pair: "XRP_BTC", Side: domain.BookSideAsk, Price: 0.00018, Size: 5},
		}
	}}
	srv := httptest.NewServer(ds)
	defer srv.Close()
	defer ds.wg.Wait()

	reg := orderbook.NewRegistry(10, 0.00001)
	s := NewStream(StreamConfig{URL: wsURL(srv), Pairs: []string{"XRP_BTC"}}, NewApplier(reg, []string{"PAPER1"}, nil, discard()), nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	sub := <-ds.subs
	require.Equal(t, subscription{Type: "subscribe", Venues: []string{"PAPER1"}, Pairs: []string{"XRP_BTC"}}, sub)
	require.Eventually(t, func() bool {
		b, ok := reg.Lookup("PAPER1", xrpBTC)
		return ok && b.Snapshot().BestAsk().Price == 0.00018
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	b, _ := reg.Lookup("PAPER1", xrpBTC)
	require.True(t, b.Snapshot().Empty(), "books are emptied on disconnect")
}

func TestStreamReconnects(t *testing.T) {
	defer goleak.VerifyNone(t)

	ds := &depthServer{t: t, drop: true, subs: make(chan subscription, 4), next: func(n int) []Frame {
		if n == 1 {
			return []Frame{snapshot("PAPER1", 0.0001, 0.0002)}
		}
		return []Frame{snapshot("PAPER1", 0.0003, 0.0004)}
	}}
	srv := httptest.NewServer(ds)
	defer srv.Close()
	defer ds.wg.Wait()

	reg := orderbook.NewRegistry(10, 0.00001)
	m := metrics.New(prometheus.NewRegistry())
	s := NewStream(StreamConfig{URL: wsURL(srv), MaxReconnect: 50 * time.Millisecond}, NewApplier(reg, []string{"PAPER1"}, m, discard()), m, discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	<-ds.subs
	<-ds.subs
	require.Eventually(t, func() bool { return bestBid(reg, "PAPER1") == 0.0003 }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, int(ds.conns.Load()), 2)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}

func TestStreamDialFailureHonoursContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	s := NewStream(StreamConfig{URL: url, MaxReconnect: 10 * time.Millisecond}, NewApplier(orderbook.NewRegistry(10, 0), nil, nil, discard()), nil, discard())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
}

type fakeBus struct {
	ch  chan []byte
	err error
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, b.err
}
func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusFeeder(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := orderbook.NewRegistry(10, 0.00001)
	bus := &fakeBus{ch: make(chan []byte, 4)}
	f := NewBusFeeder(bus, "xarb:depth", NewApplier(reg, []string{"PAPER1"}, nil, discard()), discard())

	bus.ch <- []byte("garbage")
	bus.ch <- encode(t, snapshot("PAPER1", 0.0001, 0.0002))
	close(bus.ch)
	require.NoError(t, f.Run(context.Background()))
	// The feeder empties the books when the subscription ends.
	b, ok := reg.Lookup("PAPER1", xrpBTC)
	require.True(t, ok)
	require.True(t, b.Snapshot().Empty())

	boom := errors.New("redis down")
	require.ErrorIs(t, NewBusFeeder(&fakeBus{err: boom}, "c", f.applier, discard()).Run(context.Background()), boom)
}

func TestBusFeederAppliesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := orderbook.NewRegistry(10, 0.00001)
	bus := &fakeBus{ch: make(chan []byte, 1)}
	f := NewBusFeeder(bus, "xarb:depth", NewApplier(reg, []string{"PAPER1"}, nil, discard()), discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- f.Run(ctx) }()

	bus.ch <- encode(t, snapshot("PAPER1", 0.0001, 0.0002))
	require.Eventually(t, func() bool { return bestBid(reg, "PAPER1") == 0.0001 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
}
