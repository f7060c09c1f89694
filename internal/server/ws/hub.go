// Package ws streams engine status and trade events to WebSocket clients.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/alanyoungcy/xarb/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// ChannelStatus carries the periodic engine snapshot.
const ChannelStatus = "status"

// Envelope is the frame written to clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// subscribeMsg is sent by clients to change their subscriptions.
// Channel names may end in '*' to match a prefix.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type message struct {
	channel string
	data    []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithBus forwards every message published on the given bus channels.
func WithBus(bus domain.SignalBus, channels ...string) Option {
	return func(h *Hub) {
		h.bus = bus
		h.channels = channels
	}
}

// WithStatus broadcasts status() on the status channel every interval and
// greets each new client with it.
func WithStatus(status func() any, every time.Duration) Option {
	return func(h *Hub) {
		h.status = status
		h.statusEvery = every
	}
}

// WithAllowedOrigins restricts the handshake Origin. Empty allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) { h.origins = origins }
}

// Hub fans messages out to the connected clients. The client set is owned
// by the Run goroutine.
type Hub struct {
	bus         domain.SignalBus
	channels    []string
	status      func() any
	statusEvery time.Duration
	origins     []string

	upgrader   websocket.Upgrader
	clients    map[*client]struct{}
	count      atomic.Int64
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a hub. Run must be running for clients to connect.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan message, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.origins) == 0 || origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	defer wg.Wait()

	for _, ch := range h.channels {
		wg.Go(func() { h.forward(ctx, ch) })
	}

	var statusTick <-chan time.Time
	if h.status != nil && h.statusEvery > 0 {
		t := time.NewTicker(h.statusEvery)
		defer t.Stop()
		statusTick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			close(h.done)
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.logger.Info("ws: client connected", slog.Int64("clients", h.count.Load()))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("ws: client disconnected", slog.Int64("clients", h.count.Load()))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("channel", msg.channel))
				}
			}

		case <-statusTick:
			h.Broadcast(ChannelStatus, h.status())
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Broadcast queues v for every client subscribed to channel. It never
// blocks: the message is dropped when the queue is full or the hub stopped.
func (h *Hub) Broadcast(channel string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("ws: encode failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	h.enqueue(channel, raw)
}

func (h *Hub) enqueue(channel string, payload []byte) {
	data, err := json.Marshal(Envelope{Type: channel, Payload: payload})
	if err != nil {
		h.logger.Error("ws: encode failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- message{channel: channel, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full", slog.String("channel", channel))
	}
}

// forward relays one bus channel. Payloads are expected to be JSON.
func (h *Hub) forward(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: forwarding channel", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !json.Valid(data) {
				h.logger.Warn("ws: dropping non-JSON payload", slog.String("channel", channel))
				continue
			}
			h.enqueue(channel, data)
		}
	}
}

// HandleWS upgrades GET /ws and attaches the connection to the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]struct{}{"*": {}},
	}
	if h.status != nil {
		if raw, err := json.Marshal(h.status()); err == nil {
			if data, err := json.Marshal(Envelope{Type: ChannelStatus, Payload: raw}); err == nil {
				c.send <- data
			}
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.apply(msg)
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = struct{}{}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[channel]; ok {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
