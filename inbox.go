package xmsg

import "sync"

// inbox is the per-endpoint deferred delivery queue. Deliveries are
// appended in arrival order and drained synchronously by ProcessInbox.
// When bounded and full, the oldest entry is dropped.
type inbox struct {
	mu       sync.Mutex
	entries  []*Context
	capacity int // 0 = unbounded
	dropped  uint64
}

func newInbox(capacity int) *inbox {
	return &inbox{capacity: capacity}
}

// push appends ctx. If the inbox is bounded and full, the oldest entry is
// evicted and returned with overflowed set.
func (ib *inbox) push(ctx *Context) (evicted *Context, overflowed bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	if ib.capacity > 0 && len(ib.entries) >= ib.capacity {
		evicted = ib.entries[0]
		copy(ib.entries, ib.entries[1:])
		ib.entries = ib.entries[:len(ib.entries)-1]
		ib.dropped++
		overflowed = true
	}
	ib.entries = append(ib.entries, ctx)
	return evicted, overflowed
}

// pop removes and returns the oldest entry, or nil when empty.
func (ib *inbox) pop() *Context {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.entries) == 0 {
		return nil
	}
	ctx := ib.entries[0]
	copy(ib.entries, ib.entries[1:])
	ib.entries = ib.entries[:len(ib.entries)-1]
	return ctx
}

func (ib *inbox) len() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.entries)
}

func (ib *inbox) droppedCount() uint64 {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.dropped
}
