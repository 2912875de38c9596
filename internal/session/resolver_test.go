package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverIsIdempotent(t *testing.T) {
	r := NewResolver()

	first := r.Resolve("c1:0")
	second := r.Resolve("c1:0")
	other := r.Resolve("c2:0")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Equal(t, 2, r.Len())
}

func TestResolverAllocatesMonotonically(t *testing.T) {
	r := NewResolver()

	a := r.Resolve("a")
	b := r.Resolve("b")
	c := r.Resolve("c")

	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Equal(t, []ID{a, b, c}, r.ListKeys())
}

func TestResolverLookupDoesNotAllocate(t *testing.T) {
	r := NewResolver()

	_, ok := r.Lookup("missing")
	assert.False(t, ok)
	assert.Zero(t, r.Len())

	id := r.Resolve("present")
	got, ok := r.Lookup("present")
	require.True(t, ok)
	assert.Equal(t, id, got)

	key, ok := r.Key(id)
	require.True(t, ok)
	assert.Equal(t, "present", key)
}

func TestResolverConcurrentResolve(t *testing.T) {
	r := NewResolver()
	var wg sync.WaitGroup
	results := make([]ID, 64)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(fmt.Sprintf("key-%d", i%4))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, r.Len())
	for i := range results {
		assert.Equal(t, results[i%4], results[i])
	}
}
