// Package orderbook maintains top-of-book ladders per (venue, pair) from
// snapshot and delta updates.
package orderbook

import (
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// DefaultDepth is the number of levels kept per side.
const DefaultDepth = 10

// ladder is a fixed-capacity price-sorted slice. Bids sort descending, asks
// ascending; better prices come first.
type ladder struct {
	levels []domain.PriceLevel
	desc   bool
}

// better reports whether price a ranks before price b on this side.
func (l *ladder) better(a, b float64) bool {
	if l.desc {
		return a > b
	}
	return a < b
}

func (l *ladder) search(price float64) (int, bool) {
	return slices.BinarySearchFunc(l.levels, price, func(lv domain.PriceLevel, p float64) int {
		switch {
		case lv.Price == p:
			return 0
		case l.better(lv.Price, p):
			return -1
		default:
			return 1
		}
	})
}

// upsert inserts or replaces a level, dropping the worst level when the
// ladder exceeds capacity. Levels beyond capacity are not kept, so a
// deleted top level leaves the ladder short until the next snapshot.
func (l *ladder) upsert(price, volume float64, capacity int) {
	i, found := l.search(price)
	if found {
		l.levels[i].Size = volume
		return
	}
	if i >= capacity {
		return
	}
	l.levels = slices.Insert(l.levels, i, domain.PriceLevel{Price: price, Size: volume})
	if len(l.levels) > capacity {
		l.levels = l.levels[:capacity]
	}
}

func (l *ladder) remove(price float64) {
	if i, found := l.search(price); found {
		l.levels = slices.Delete(l.levels, i, i+1)
	}
}

func (l *ladder) orders(limit int) []domain.Order {
	n := min(limit, len(l.levels))
	out := make([]domain.Order, n)
	for i := range n {
		out[i] = domain.Level(l.levels[i].Price, l.levels[i].Size)
	}
	return out
}

// Book is the bid/ask ladder of one pair on one venue. It is safe for
// concurrent use; each Book has its own lock.
type Book struct {
	mu        sync.RWMutex
	depth     int
	minVolume float64
	bids      ladder
	asks      ladder
	updatedAt time.Time
}

// New creates an empty book keeping depth levels per side. Deltas with a
// volume below minVolume remove their level.
func New(depth int, minVolume float64) *Book {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Book{
		depth:     depth,
		minVolume: minVolume,
		bids:      ladder{desc: true},
		asks:      ladder{},
	}
}

// ApplySnapshot replaces both sides with the best levels of bids and asks.
// Input order does not matter.
func (b *Book) ApplySnapshot(bids, asks []domain.PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.levels = b.bids.levels[:0]
	b.asks.levels = b.asks.levels[:0]
	for _, lv := range bids {
		if lv.Size >= b.minVolume {
			b.bids.upsert(lv.Price, lv.Size, b.depth)
		}
	}
	for _, lv := range asks {
		if lv.Size >= b.minVolume {
			b.asks.upsert(lv.Price, lv.Size, b.depth)
		}
	}
	b.updatedAt = time.Now()
}

// ApplyDelta upserts a level, or removes it when volume is below the
// minimum order book volume.
func (b *Book) ApplyDelta(side domain.BookSide, price, volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := &b.asks
	if side == domain.BookSideBid {
		l = &b.bids
	}
	if volume < b.minVolume {
		l.remove(price)
	} else {
		l.upsert(price, volume, b.depth)
	}
	b.updatedAt = time.Now()
}

// Snapshot materializes the ladders, bids descending and asks ascending. An
// empty side yields an empty slice.
func (b *Book) Snapshot() domain.Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.Depth{
		Bids: b.bids.orders(b.depth),
		Asks: b.asks.orders(b.depth),
	}
}

// Clear empties both sides.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.levels = nil
	b.asks.levels = nil
	b.updatedAt = time.Time{}
}

// UpdatedAt is the time of the last snapshot or delta.
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}
