package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/alanyoungcy/xarb/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// StreamConfig configures the websocket depth stream.
type StreamConfig struct {
	URL              string
	Pairs            []string
	HandshakeTimeout time.Duration
	MaxReconnect     time.Duration
}

// Stream connects to the depth stream websocket, subscribes to the
// configured venues and pairs, and applies every frame. It reconnects with
// exponential backoff; while disconnected the books are empty.
type Stream struct {
	cfg     StreamConfig
	applier *Applier
	metrics *metrics.Engine
	logger  *slog.Logger
}

// NewStream creates a depth stream client. m may be nil.
func NewStream(cfg StreamConfig, applier *Applier, m *metrics.Engine, logger *slog.Logger) *Stream {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 30 * time.Second
	}
	return &Stream{
		cfg:     cfg,
		applier: applier,
		metrics: m,
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// Run keeps the stream connected until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = s.cfg.MaxReconnect

	s.logger.Info("feed: started", slog.String("url", s.cfg.URL))
	defer s.logger.Info("feed: stopped")
	for {
		err := s.session(ctx, bo.Reset)
		s.applier.Reset()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		s.logger.Warn("feed: disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait),
		)
		s.metrics.ObserveReconnect()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
// connected is called once the subscription is sent.
func (s *Stream) session(ctx context.Context, connected func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	sub, err := json.Marshal(subscription{Type: "subscribe", Venues: s.applier.Venues(), Pairs: s.cfg.Pairs})
	if err != nil {
		return fmt.Errorf("feed: encode subscription: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	connected()
	s.logger.Info("feed: subscribed", slog.Int("venues", len(s.applier.Venues())), slog.Int("pairs", len(s.cfg.Pairs)))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() { s.keepAlive(ctx, conn, done) })
	err = s.readLoop(conn)
	close(done)
	wg.Wait()
	return err
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := s.applier.Handle(msg); err != nil {
			s.logger.Debug("feed: frame rejected", slog.String("error", err.Error()))
		}
	}
}

// keepAlive pings the peer and closes the connection when ctx is
// cancelled, which unblocks readLoop.
func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug("feed: ping failed", slog.String("error", err.Error()))
				}
				_ = conn.Close()
				return
			}
		}
	}
}
