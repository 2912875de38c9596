package pipeline

import (
	"context"
	"sync"
)

// TurnLocks hands out one exclusive lock per session key. Waiting honours
// context cancellation, and entries are dropped once nobody holds or waits on
// them.
type TurnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	sem  chan struct{}
	refs int
}

// NewTurnLocks creates an empty lock table.
func NewTurnLocks() *TurnLocks {
	return &TurnLocks{locks: make(map[string]*turnLock)}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned
// release function must be called exactly once.
func (l *TurnLocks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[key]
	if !ok {
		tl = &turnLock{sem: make(chan struct{}, 1)}
		l.locks[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, tl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.sem
			l.unref(key, tl)
		})
	}, nil
}

func (l *TurnLocks) unref(key string, tl *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *TurnLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
