// Package feed keeps the shared order book registry up to date from a
// canonical depth stream, received over a websocket or the signal bus.
package feed

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/metrics"
	"github.com/alanyoungcy/xarb/internal/orderbook"
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameDelta    = "delta"
)

// Frame is one depth stream message. A snapshot replaces both ladders of a
// (venue, pair) book; a delta upserts or removes a single level.
type Frame struct {
	Type  string              `json:"type"`
	Venue string              `json:"venue"`
	Pair  string              `json:"pair"`
	Bids  []domain.PriceLevel `json:"bids,omitempty"`
	Asks  []domain.PriceLevel `json:"asks,omitempty"`
	Side  domain.BookSide     `json:"side,omitempty"`
	Price float64             `json:"price,omitempty"`
	Size  float64             `json:"size,omitempty"`
}

// subscription is sent once per connection.
type subscription struct {
	Type   string   `json:"type"`
	Venues []string `json:"venues"`
	Pairs  []string `json:"pairs"`
}

// Applier decodes frames into the registry. Frames for venues it was not
// configured with are dropped.
type Applier struct {
	books   *orderbook.Registry
	venues  []string
	metrics *metrics.Engine
	logger  *slog.Logger
}

// NewApplier creates an Applier for the given venues. m may be nil.
func NewApplier(books *orderbook.Registry, venues []string, m *metrics.Engine, logger *slog.Logger) *Applier {
	upper := make([]string, len(venues))
	for i, v := range venues {
		upper[i] = strings.ToUpper(v)
	}
	return &Applier{books: books, venues: upper, metrics: m, logger: logger}
}

// Venues returns the venues whose books the Applier maintains.
func (a *Applier) Venues() []string { return slices.Clone(a.venues) }

// Handle applies one encoded frame.
func (a *Applier) Handle(data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		a.metrics.ObserveFrame("invalid")
		return fmt.Errorf("feed: decode frame: %w", err)
	}
	if err := a.Apply(f); err != nil {
		a.metrics.ObserveFrame("invalid")
		return err
	}
	a.metrics.ObserveFrame(f.Type)
	return nil
}

// Apply applies a decoded frame.
func (a *Applier) Apply(f Frame) error {
	venue := strings.ToUpper(f.Venue)
	if !slices.Contains(a.venues, venue) {
		return fmt.Errorf("feed: unknown venue %q", f.Venue)
	}
	pair, err := domain.ParsePair(f.Pair)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	switch f.Type {
	case FrameSnapshot:
		a.books.Book(venue, pair).ApplySnapshot(f.Bids, f.Asks)
	case FrameDelta:
		if f.Side != domain.BookSideBid && f.Side != domain.BookSideAsk {
			return fmt.Errorf("feed: delta %s %s: unknown side %q", venue, pair, f.Side)
		}
		if f.Price <= 0 {
			return fmt.Errorf("feed: delta %s %s: non-positive price %v", venue, pair, f.Price)
		}
		a.books.Book(venue, pair).ApplyDelta(f.Side, f.Price, f.Size)
	default:
		return fmt.Errorf("feed: unknown frame type %q", f.Type)
	}
	return nil
}

// Reset empties the books of every configured venue, e.g. when the stream
// drops, so no venue is priced on stale depth.
func (a *Applier) Reset() {
	for _, v := range a.venues {
		a.books.ClearVenue(v)
	}
}
