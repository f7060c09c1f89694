package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubStreamsStatusAndBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := NewHub(quietLogger(),
		WithBus(bus, "xarb:trades"),
		WithStatus(func() any { return map[string]int{"tick": 7} }, time.Hour),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	require.Equal(t, ChannelStatus, env.Type)
	require.JSONEq(t, `{"tick":7}`, string(env.Payload))

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)

	bus.ch <- []byte(`{"id":"t1","pair":"XRP_BTC"}`)
	env = readEnvelope(t, conn)
	require.Equal(t, "xarb:trades", env.Type)
	require.JSONEq(t, `{"id":"t1","pair":"XRP_BTC"}`, string(env.Payload))

	hub.Broadcast("custom", []string{"a"})
	env = readEnvelope(t, conn)
	require.Equal(t, "custom", env.Type)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The hub closes the connection on shutdown.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]struct{}{"*": {}}}
	require.True(t, c.isSubscribed("status"))

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"*"}})
	require.False(t, c.isSubscribed("status"))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"xarb:*"}})
	require.True(t, c.isSubscribed("xarb:trades"))
	require.False(t, c.isSubscribed("status"))

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"status"}})
	require.True(t, c.isSubscribed("status"))
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, hub.Run(ctx), context.Canceled)

	for range sendBufferSize * 2 {
		hub.Broadcast(ChannelStatus, 1)
	}
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(quietLogger(), WithAllowedOrigins([]string{"https://ops.example"}))
	r := httptest.NewRequest("GET", "/ws", nil)
	require.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "https://ops.example")
	require.True(t, hub.checkOrigin(r))
	r.Header.Set("Origin", "https://evil.example")
	require.False(t, hub.checkOrigin(r))
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
