package store

import (
	"sync"
	"time"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/session"
)

// DefaultStateTTL is how long an AgentState stays readable after its last update.
const DefaultStateTTL = 30 * time.Minute

// CacheConfig controls expiry behaviour of a Cache.
type CacheConfig struct {
	// TTL is the maximum age of a state measured from UpdatedAt.
	TTL time.Duration
	// ListIncludeExpired makes List return expired entries that have not been
	// swept yet.
	ListIncludeExpired bool
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
}

type cacheEntry struct {
	state *domain.AgentState
	owner session.ID
}

// Cache is the in-memory AgentState store. It keeps two indexes, state ID to
// state and session ID to the currently bound state ID, and every method
// updates or reads both under a single lock.
//
// States are copied on the way in and on the way out, so callers always work
// on private versions.
type Cache struct {
	mu       sync.RWMutex
	states   map[string]*cacheEntry
	bindings map[session.ID]string
	resolver *session.Resolver
	ttl      time.Duration
	listAll  bool
	now      func() time.Time
}

// NewCache creates an empty cache that resolves session keys with resolver.
func NewCache(resolver *session.Resolver, cfg CacheConfig) *Cache {
	if resolver == nil {
		resolver = session.NewResolver()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultStateTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		states:   make(map[string]*cacheEntry),
		bindings: make(map[session.ID]string),
		resolver: resolver,
		ttl:      cfg.TTL,
		listAll:  cfg.ListIncludeExpired,
		now:      cfg.Now,
	}
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Now returns the cache's notion of the current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Resolver returns the resolver used for session keys.
func (c *Cache) Resolver() *session.Resolver {
	return c.resolver
}

// Get returns a copy of the state stored under id. Unknown and expired IDs
// both report false; expired entries stay in memory until Sweep.
func (c *Cache) Get(id string) (*domain.AgentState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(id)
}

func (c *Cache) getLocked(id string) (*domain.AgentState, bool) {
	e, ok := c.states[id]
	if !ok || e.state.Expired(c.now(), c.ttl) {
		return nil, false
	}
	return e.state.Clone(), true
}

// GetBySession returns the state currently bound to sessionKey.
func (c *Cache) GetBySession(sessionKey string) (*domain.AgentState, bool) {
	sid := c.resolver.Resolve(sessionKey)

	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.bindings[sid]
	if !ok {
		return nil, false
	}
	return c.getLocked(id)
}

// Put stores state under its own ID and binds sessionKey to it, replacing any
// previous binding for that session.
func (c *Cache) Put(state *domain.AgentState, sessionKey string) {
	sid := c.resolver.Resolve(sessionKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(state, sid)
}

func (c *Cache) putLocked(state *domain.AgentState, sid session.ID) {
	if prev, ok := c.states[state.ID]; ok && prev.owner != sid && c.bindings[prev.owner] == state.ID {
		delete(c.bindings, prev.owner)
	}
	c.states[state.ID] = &cacheEntry{state: state.Clone(), owner: sid}
	c.bindings[sid] = state.ID
}

// Supersede inserts next, rebinds sessionKey to it and removes oldID, all in
// one critical section. An empty oldID behaves like Put.
func (c *Cache) Supersede(oldID string, next *domain.AgentState, sessionKey string) {
	sid := c.resolver.Resolve(sessionKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(next, sid)
	if oldID != "" && oldID != next.ID {
		c.deleteLocked(oldID)
	}
}

// Update writes state back under the session that already owns its ID. The
// binding itself is left untouched. It returns false, writing nothing, when the
// ID is no longer stored because it was superseded, deleted or swept.
func (c *Cache) Update(state *domain.AgentState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.states[state.ID]
	if !ok {
		return false
	}
	c.states[state.ID] = &cacheEntry{state: state.Clone(), owner: e.owner}
	return true
}

// Delete removes id and any binding that points at it.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(id)
}

func (c *Cache) deleteLocked(id string) {
	e, ok := c.states[id]
	if !ok {
		return
	}
	delete(c.states, id)
	if c.bindings[e.owner] == id {
		delete(c.bindings, e.owner)
	}
}

// List returns copies of stored states. Expired entries are skipped unless the
// cache was configured with ListIncludeExpired.
func (c *Cache) List() []*domain.AgentState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]*domain.AgentState, 0, len(c.states))
	for _, e := range c.states {
		if !c.listAll && e.state.Expired(now, c.ttl) {
			continue
		}
		out = append(out, e.state.Clone())
	}
	return out
}

// Binding pairs a session with the state currently bound to it.
type Binding struct {
	Session session.ID
	Key     string
	State   *domain.AgentState
}

// Bindings returns every session whose bound state is still live, ordered by
// session ID.
func (c *Cache) Bindings() []Binding {
	ids := c.resolver.ListKeys()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Binding, 0, len(c.bindings))
	for _, sid := range ids {
		stateID, ok := c.bindings[sid]
		if !ok {
			continue
		}
		state, ok := c.getLocked(stateID)
		if !ok {
			continue
		}
		key, _ := c.resolver.Key(sid)
		out = append(out, Binding{Session: sid, Key: key, State: state})
	}
	return out
}

// Sweep drops expired states and their bindings, returning how many states
// were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.states {
		if e.state.Expired(now, c.ttl) {
			c.deleteLocked(id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored states, including expired ones not yet
// swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}
