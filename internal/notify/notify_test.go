package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title+"|"+message)
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func TestNotifierFiltersEvents(t *testing.T) {
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	n := NewNotifier([]Sender{a, b}, []string{config.EventFatal, " "}, discard())

	require.NoError(t, n.Notify(context.Background(), config.EventTrade, "Trade submitted", "x"))
	require.Empty(t, a.sent)

	require.NoError(t, n.Notify(context.Background(), config.EventFatal, "Trading halted", "boom"))
	require.Equal(t, []string{"Trading halted|boom"}, a.sent)
	require.Equal(t, []string{"Trading halted|boom"}, b.sent)

	require.NoError(t, n.NotifyAll(context.Background(), "Started", "ok"))
	require.Len(t, a.sent, 2)
}

func TestNotifierCollectsFailures(t *testing.T) {
	ok := &fakeSender{name: "ok"}
	bad := &fakeSender{name: "bad", err: errors.New("rate limited")}
	n := NewNotifier([]Sender{bad, ok}, nil, discard())

	err := n.Notify(context.Background(), config.EventAbort, "Trade aborted", "x")
	require.ErrorContains(t, err, "bad: rate limited")
	require.Len(t, ok.sent, 1)
}

func TestFromConfig(t *testing.T) {
	require.Nil(t, FromConfig(config.NotifyConfig{TelegramToken: "t"}, discard()))

	n := FromConfig(config.NotifyConfig{
		TelegramToken:     "t",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/hook",
	}, discard())
	require.NotNil(t, n)
	require.Equal(t, []string{"telegram", "discord"}, n.Senders())
}

func capture(t *testing.T, status int) (*httptest.Server, <-chan map[string]string, <-chan string) {
	t.Helper()
	bodies := make(chan map[string]string, 1)
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		paths <- r.URL.Path
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	t.Cleanup(srv.Close)
	return srv, bodies, paths
}

func TestDiscordSender(t *testing.T) {
	srv, bodies, _ := capture(t, http.StatusNoContent)
	d := NewDiscordSender(srv.URL + "/hook")

	require.NoError(t, d.Send(context.Background(), "Trading halted", "corrupted order book"))
	require.Equal(t, map[string]string{"content": "**Trading halted**\ncorrupted order book"}, <-bodies)
}

func TestTelegramSender(t *testing.T) {
	srv, bodies, paths := capture(t, http.StatusOK)
	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "Trade submitted", "XRP_BTC"))
	require.Equal(t, "/botTOKEN/sendMessage", <-paths)
	require.Equal(t, map[string]string{
		"chat_id":    "42",
		"text":       "*Trade submitted*\nXRP_BTC",
		"parse_mode": "Markdown",
	}, <-bodies)
}

func TestSenderRejectsErrorStatus(t *testing.T) {
	srv, _, _ := capture(t, http.StatusTooManyRequests)
	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "discord: unexpected status 429: nope")
}
