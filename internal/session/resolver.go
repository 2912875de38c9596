// Package session maps adapter-supplied session keys to stable session IDs.
package session

import (
	"slices"
	"strconv"
	"sync"
)

// ID identifies a session for the lifetime of the process.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Resolver allocates session IDs on first use. Entries are never evicted;
// the key space is bounded by the number of real channels and threads.
type Resolver struct {
	mu   sync.RWMutex
	ids  map[string]ID
	keys map[ID]string
	next ID
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		ids:  make(map[string]ID),
		keys: make(map[ID]string),
	}
}

// Resolve returns the ID bound to key, allocating the next one if needed.
func (r *Resolver) Resolve(key string) ID {
	r.mu.RLock()
	id, ok := r.ids[key]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id
	}
	r.next++
	r.ids[key] = r.next
	r.keys[r.next] = key
	return r.next
}

// Lookup returns the ID for key without allocating.
func (r *Resolver) Lookup(key string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[key]
	return id, ok
}

// Key returns the session key an ID was allocated for.
func (r *Resolver) Key(id ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[id]
	return key, ok
}

// ListKeys returns every allocated ID in allocation order.
func (r *Resolver) ListKeys() []ID {
	r.mu.RLock()
	ids := make([]ID, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of known sessions.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
