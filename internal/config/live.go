package config

import "sync"

// Live holds the current Engine parameters. Readers take a snapshot with
// Load and keep using it for the rest of their operation; Update swaps in a
// new immutable copy.
type Live struct {
	mu  sync.RWMutex
	eng *Engine
}

// NewLive wraps an initial Engine.
func NewLive(e Engine) *Live {
	return &Live{eng: &e}
}

// Load returns the current parameters. The result must not be modified.
func (l *Live) Load() *Engine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.eng
}

// Update replaces the parameters with fn applied to a copy of the current
// value and returns the new snapshot.
func (l *Live) Update(fn func(Engine) Engine) *Engine {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := fn(*l.eng)
	l.eng = &next
	return l.eng
}
