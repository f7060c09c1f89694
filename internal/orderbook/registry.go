package orderbook

import (
	"sync"

	"github.com/alanyoungcy/xarb/internal/domain"
)

type key struct {
	venue string
	pair  domain.Pair
}

// Registry holds one Book per (venue, pair). Books are created on first
// use; the registry lock only guards the index, never a book mutation.
type Registry struct {
	mu        sync.RWMutex
	depth     int
	minVolume float64
	books     map[key]*Book
}

// NewRegistry creates an empty registry whose books keep depth levels.
func NewRegistry(depth int, minVolume float64) *Registry {
	return &Registry{depth: depth, minVolume: minVolume, books: make(map[key]*Book)}
}

// Book returns the book for venue and pair, creating it if needed.
func (r *Registry) Book(venue string, pair domain.Pair) *Book {
	k := key{venue: venue, pair: pair}
	r.mu.RLock()
	b, ok := r.books[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.books[k]; ok {
		return b
	}
	b = New(r.depth, r.minVolume)
	r.books[k] = b
	return b
}

// Lookup returns an existing book.
func (r *Registry) Lookup(venue string, pair domain.Pair) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[key{venue: venue, pair: pair}]
	return b, ok
}

// ClearVenue empties every book of a venue, e.g. on disconnect.
func (r *Registry) ClearVenue(venue string) {
	r.mu.RLock()
	var books []*Book
	for k, b := range r.books {
		if k.venue == venue {
			books = append(books, b)
		}
	}
	r.mu.RUnlock()
	for _, b := range books {
		b.Clear()
	}
}
