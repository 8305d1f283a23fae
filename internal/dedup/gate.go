// Package dedup drops repeated submissions by request id.
package dedup

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of request ids remembered at once.
const DefaultCapacity = 1000

// Gate is a bounded set of recently seen ids. Once full, the id inserted first
// is forgotten to make room, regardless of how often it was seen since.
type Gate struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	seen     map[string]*list.Element
}

// NewGate returns a Gate remembering at most capacity ids.
func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[string]*list.Element, capacity),
	}
}

// Admit reports whether id is new and records it. The check and the insert
// happen under one lock so concurrent callers with the same id admit once.
func (g *Gate) Admit(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return false
	}
	for g.order.Len() >= g.capacity {
		oldest := g.order.Front()
		g.order.Remove(oldest)
		delete(g.seen, oldest.Value.(string))
	}
	g.seen[id] = g.order.PushBack(id)
	return true
}

// Len returns the number of ids currently remembered.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}
