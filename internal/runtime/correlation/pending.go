package correlation

import (
	"sync"
	"time"
)

type pendingEntry struct {
	createdAt time.Time
	waiters   int
}

// Pending tracks correlation ids that have a blocked RPC caller. Identical
// concurrent calls share one id, so entries are reference counted.
type Pending struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func NewPending() *Pending {
	return &Pending{entries: make(map[string]*pendingEntry)}
}

// Register adds a waiter for id and returns the number of waiters.
func (p *Pending) Register(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		e = &pendingEntry{createdAt: time.Now()}
		p.entries[id] = e
	}
	e.waiters++
	return e.waiters
}

// Release drops one waiter and reports whether it was the last one.
func (p *Pending) Release(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	e.waiters--
	if e.waiters > 0 {
		return false
	}
	delete(p.entries, id)
	return true
}

// Has reports whether id is awaited.
func (p *Pending) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Since returns when id was first registered.
func (p *Pending) Since(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.createdAt, true
}

// Len reports the number of distinct pending ids.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
