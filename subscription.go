package xmsg

import "sync"

type subscriptionEntry struct {
	address  Address
	mask     Scope
	endpoint *Endpoint
}

// subscriptionTable maps tags to interested recipients. Entries keep
// registration order so fan-out order is deterministic. The router issues
// reads; endpoint goroutines issue writes in short critical sections.
type subscriptionTable struct {
	mu   sync.RWMutex
	subs map[Tag][]subscriptionEntry
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{subs: make(map[Tag][]subscriptionEntry)}
}

// subscribe appends a recipient for tag, or replaces its scope mask when
// the (tag, address) pair is already present.
func (t *subscriptionTable) subscribe(tag Tag, ep *Endpoint, mask Scope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.subs[tag]
	for i := range entries {
		if entries[i].address == ep.Address() {
			entries[i].mask = mask
			return
		}
	}
	t.subs[tag] = append(entries, subscriptionEntry{
		address:  ep.Address(),
		mask:     mask,
		endpoint: ep,
	})
}

func (t *subscriptionTable) unsubscribe(tag Tag, address Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.subs[tag]
	for i := range entries {
		if entries[i].address == address {
			t.subs[tag] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(t.subs[tag]) == 0 {
		delete(t.subs, tag)
	}
}

// unsubscribeAll removes every subscription held by address.
func (t *subscriptionTable) unsubscribeAll(address Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tag, entries := range t.subs {
		for i := range entries {
			if entries[i].address == address {
				t.subs[tag] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if len(t.subs[tag]) == 0 {
			delete(t.subs, tag)
		}
	}
}

// recipients enumerates live endpoints subscribed to tag whose scope mask
// admits publishScope. Lapsed entries encountered on the way are pruned.
func (t *subscriptionTable) recipients(tag Tag, publishScope Scope) []*Endpoint {
	t.mu.RLock()
	entries := t.subs[tag]
	var matched []*Endpoint
	stale := false
	for _, e := range entries {
		if !e.endpoint.IsConnected() {
			stale = true
			continue
		}
		if e.mask >= publishScope {
			matched = append(matched, e.endpoint)
		}
	}
	t.mu.RUnlock()

	if stale {
		t.prune(tag)
	}
	return matched
}

func (t *subscriptionTable) prune(tag Tag) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.subs[tag]
	kept := entries[:0]
	for _, e := range entries {
		if e.endpoint.IsConnected() {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(t.subs, tag)
		return
	}
	t.subs[tag] = kept
}
