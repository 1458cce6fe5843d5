package control

import (
	"sync"

	"github.com/loykin/dinitgo/internal/graph"
)

// handleTable maps the small integer handles the wire protocol uses to the
// graph.Record they name, per-connection. dinit hands out one handle per
// (connection, service) pair rather than a single global table, so a
// client that disconnects can't be confused by a handle another client
// reused; we do the same. This bookkeeping never touches graph.Set's
// internals, so it doesn't need the reactor's single-goroutine discipline —
// only its own mutex.
type handleTable struct {
	mu      sync.Mutex
	byID    map[uint32]*graph.Record
	byRecord map[*graph.Record]uint32
	next    uint32
}

func newHandleTable() *handleTable {
	return &handleTable{byID: make(map[uint32]*graph.Record), byRecord: make(map[*graph.Record]uint32)}
}

// acquire returns the existing handle for r on this connection, or mints a
// new one.
func (t *handleTable) acquire(r *graph.Record) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byRecord[r]; ok {
		return h
	}
	t.next++
	h := t.next
	t.byID[h] = r
	t.byRecord[r] = h
	return h
}

func (t *handleTable) lookup(h uint32) (*graph.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[h]
	return r, ok
}

func (t *handleTable) release(h uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.byID[h]; ok {
		delete(t.byID, h)
		delete(t.byRecord, r)
	}
}
