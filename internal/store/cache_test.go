package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/session"
)

// fakeClock is a manually advanced clock shared with the cache under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	return NewCache(session.NewResolver(), CacheConfig{TTL: 30 * time.Minute, Now: clock.Now})
}

func newState(clock *fakeClock, content string) *domain.AgentState {
	return domain.NewAgentState(domain.Message{Speaker: "alice", Content: content}, "", clock.Now())
}

func TestCachePutGet(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	s := newState(clock, "hi")

	c.Put(s, "c1:0")

	got, ok := c.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "hi", got.Context.Current.Content)

	bound, ok := c.GetBySession("c1:0")
	require.True(t, ok)
	assert.Equal(t, s.ID, bound.ID)
}

func TestCacheMissesAreNotErrors(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	_, ok := c.Get("unknown")
	assert.False(t, ok)
	_, ok = c.GetBySession("never-seen")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	s := newState(clock, "hi")
	c.Put(s, "c1:0")

	clock.Advance(30*time.Minute - time.Second)
	_, ok := c.Get(s.ID)
	assert.True(t, ok, "state should be live just before TTL")

	clock.Advance(time.Second)
	_, ok = c.Get(s.ID)
	assert.False(t, ok, "state should expire at TTL")
	_, ok = c.GetBySession("c1:0")
	assert.False(t, ok)

	assert.Equal(t, 1, c.Len(), "expiry is lazy until Sweep")
}

func TestCacheReturnsPrivateCopies(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	s := newState(clock, "hi")
	c.Put(s, "c1:0")

	s.Context.Fold(domain.Message{Speaker: "bot", Content: "leaked"})
	got, _ := c.Get(s.ID)
	got.Context.Fold(domain.Message{Speaker: "bot", Content: "also leaked"})

	again, ok := c.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, "hi", again.Context.Current.Content)
	assert.Empty(t, again.Context.ThreadMemory)
}

func TestCachePutRebindsSession(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	first := newState(clock, "one")
	second := newState(clock, "two")

	c.Put(first, "c1:0")
	c.Put(second, "c1:0")

	bound, ok := c.GetBySession("c1:0")
	require.True(t, ok)
	assert.Equal(t, second.ID, bound.ID)

	_, ok = c.Get(first.ID)
	assert.True(t, ok, "rebinding does not delete the old version")
}

func TestCacheDeleteScrubsBinding(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	s := newState(clock, "hi")
	c.Put(s, "c1:0")

	c.Delete(s.ID)

	_, ok := c.Get(s.ID)
	assert.False(t, ok)
	_, ok = c.GetBySession("c1:0")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheDeleteOfStaleVersionKeepsCurrentBinding(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	old := newState(clock, "old")
	cur := newState(clock, "cur")
	c.Put(old, "c1:0")
	c.Put(cur, "c1:0")

	c.Delete(old.ID)

	bound, ok := c.GetBySession("c1:0")
	require.True(t, ok)
	assert.Equal(t, cur.ID, bound.ID)
}

func TestCacheSupersede(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	prev := newState(clock, "hi")
	c.Put(prev, "c1:0")

	next := prev.Successor(clock.Now())
	next.AddMessage(domain.Message{Speaker: "alice", Content: "bye"}, clock.Now())
	c.Supersede(prev.ID, next, "c1:0")

	_, ok := c.Get(prev.ID)
	assert.False(t, ok)
	bound, ok := c.GetBySession("c1:0")
	require.True(t, ok)
	assert.Equal(t, next.ID, bound.ID)
	assert.Equal(t, 1, c.Len())
}

func TestCacheUpdateKeepsBinding(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	s := newState(clock, "hi")
	c.Put(s, "c1:0")

	s.Status = domain.StatusProcessing
	require.True(t, c.Update(s))

	bound, ok := c.GetBySession("c1:0")
	require.True(t, ok)
	assert.Equal(t, domain.StatusProcessing, bound.Status)
}

func TestCacheUpdateOfRemovedStateIsNoop(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	prev := newState(clock, "hi")
	c.Put(prev, "c1:0")
	next := prev.Successor(clock.Now())
	c.Supersede(prev.ID, next, "c1:0")

	assert.False(t, c.Update(prev))

	bound, ok := c.GetBySession("c1:0")
	require.True(t, ok)
	assert.Equal(t, next.ID, bound.ID, "stale update must not resurrect an old binding")
}

func TestCacheListPolicy(t *testing.T) {
	clock := newFakeClock()
	live := NewCache(session.NewResolver(), CacheConfig{TTL: time.Minute, Now: clock.Now})
	all := NewCache(session.NewResolver(), CacheConfig{TTL: time.Minute, Now: clock.Now, ListIncludeExpired: true})

	for _, c := range []*Cache{live, all} {
		c.Put(newState(clock, "a"), "a")
	}
	clock.Advance(2 * time.Minute)
	for _, c := range []*Cache{live, all} {
		c.Put(newState(clock, "b"), "b")
	}

	assert.Len(t, live.List(), 1)
	assert.Len(t, all.List(), 2)
}

func TestCacheSweep(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	old := newState(clock, "old")
	c.Put(old, "a")
	clock.Advance(31 * time.Minute)
	fresh := newState(clock, "fresh")
	c.Put(fresh, "b")

	removed := c.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.GetBySession("b")
	assert.True(t, ok)
}

func TestCacheBindings(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	c.Put(newState(clock, "1"), "c1:0")
	c.Put(newState(clock, "2"), "c2:0")

	got := c.Bindings()

	require.Len(t, got, 2)
	assert.Equal(t, "c1:0", got[0].Key)
	assert.Equal(t, "c2:0", got[1].Key)
	assert.Less(t, got[0].Session, got[1].Session)
}

func TestCacheConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				prev, _ := c.GetBySession("shared")
				var next *domain.AgentState
				if prev == nil {
					next = newState(clock, "x")
					c.Put(next, "shared")
					continue
				}
				next = prev.Successor(clock.Now())
				c.Supersede(prev.ID, next, "shared")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if s, ok := c.GetBySession("shared"); ok {
					_, _ = c.Get(s.ID)
				}
				_ = c.List()
			}
		}()
	}
	wg.Wait()

	bound, ok := c.GetBySession("shared")
	require.True(t, ok)
	_, ok = c.Get(bound.ID)
	assert.True(t, ok, "binding must always point at a stored state")
}
