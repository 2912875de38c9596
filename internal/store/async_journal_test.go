package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/myaa/internal/domain"
)

// gatedJournal blocks every write until release is closed.
type gatedJournal struct {
	NopJournal
	release chan struct{}
	mu      sync.Mutex
	written []string
	closed  bool
	err     error
}

func (g *gatedJournal) RecordTurn(_ context.Context, rec *domain.TurnRecord) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.written = append(g.written, rec.Inbound.Content)
	return nil
}

func (g *gatedJournal) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestAsyncJournalFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewSQLiteJournal(path)
	require.NoError(t, err)

	async := NewAsyncJournal(j, 16, nil)
	for _, c := range []string{"one", "two", "three"} {
		rec := &domain.TurnRecord{SessionKey: "c1:0", Inbound: domain.Message{Speaker: "a", Content: c}, Outcome: domain.TurnCompleted}
		require.NoError(t, async.RecordTurn(context.Background(), rec))
		assert.NotEmpty(t, rec.ID, "records are stamped before queueing")
	}
	require.NoError(t, async.Close())
	assert.ErrorIs(t, async.RecordTurn(context.Background(), &domain.TurnRecord{}), ErrJournalClosed)

	j2, err := NewSQLiteJournal(path)
	require.NoError(t, err)
	defer j2.Close()
	turns, err := j2.ListTurns(context.Background(), "c1:0", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
}

func TestAsyncJournalDropsOldestWhenFull(t *testing.T) {
	inner := &gatedJournal{release: make(chan struct{})}
	async := NewAsyncJournal(inner, 2, nil)
	var drops int
	var mu sync.Mutex
	async.OnError = func(error) {
		mu.Lock()
		drops++
		mu.Unlock()
	}

	// The first record is picked up by the writer and blocks on the gate.
	require.NoError(t, async.RecordTurn(context.Background(), &domain.TurnRecord{Inbound: domain.Message{Content: "1"}}))
	require.Eventually(t, func() bool { return async.Pending() == 0 }, time.Second, time.Millisecond)

	for _, c := range []string{"2", "3", "4"} {
		require.NoError(t, async.RecordTurn(context.Background(), &domain.TurnRecord{Inbound: domain.Message{Content: c}}))
	}
	assert.Equal(t, 2, async.Pending())

	close(inner.release)
	require.NoError(t, async.Close())

	assert.Equal(t, []string{"1", "3", "4"}, inner.written)
	assert.True(t, inner.closed)
	mu.Lock()
	assert.Equal(t, 1, drops)
	mu.Unlock()
}

func TestAsyncJournalReportsWriteErrors(t *testing.T) {
	inner := &gatedJournal{release: make(chan struct{}), err: errors.New("disk full")}
	close(inner.release)
	async := NewAsyncJournal(inner, 4, nil)

	errs := make(chan error, 1)
	async.OnError = func(err error) { errs <- err }

	require.NoError(t, async.RecordTurn(context.Background(), &domain.TurnRecord{}))
	select {
	case err := <-errs:
		assert.EqualError(t, err, "disk full")
	case <-time.After(time.Second):
		t.Fatal("write error was not reported")
	}
	require.NoError(t, async.Close())
}
