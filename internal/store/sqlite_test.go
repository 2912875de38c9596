package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/myaa/internal/domain"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordAndList(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	base := time.Now().Add(-time.Minute)

	for i, content := range []string{"hi", "bye"} {
		err := j.RecordTurn(ctx, &domain.TurnRecord{
			SessionKey: "c1:0",
			StateID:    "state-" + content,
			Inbound:    domain.Message{Speaker: "alice", Content: content},
			Reply:      &domain.Message{Speaker: "bot", Content: "re: " + content},
			Outcome:    domain.TurnCompleted,
			Duration:   1500 * time.Millisecond,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	require.NoError(t, j.RecordTurn(ctx, &domain.TurnRecord{
		SessionKey: "other",
		StateID:    "x",
		Inbound:    domain.Message{Speaker: "bob", Content: "?"},
		Outcome:    domain.TurnFailed,
		Error:      "provider down",
	}))

	got, err := j.ListTurns(ctx, "c1:0", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bye", got[0].Inbound.Content)
	require.NotNil(t, got[0].Reply)
	assert.Equal(t, "re: bye", got[0].Reply.Content)
	assert.Equal(t, 1500*time.Millisecond, got[0].Duration)
	assert.NotEmpty(t, got[0].ID)

	failed, err := j.ListTurns(ctx, "other", 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Nil(t, failed[0].Reply)
	assert.Equal(t, domain.TurnFailed, failed[0].Outcome)
	assert.Equal(t, "provider down", failed[0].Error)
}

func TestJournalCleanup(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	require.NoError(t, j.RecordTurn(ctx, &domain.TurnRecord{
		SessionKey: "c1:0", StateID: "old", Outcome: domain.TurnCompleted,
		Inbound:   domain.Message{Speaker: "a", Content: "old"},
		CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
	}))
	require.NoError(t, j.RecordTurn(ctx, &domain.TurnRecord{
		SessionKey: "c1:0", StateID: "new", Outcome: domain.TurnCompleted,
		Inbound: domain.Message{Speaker: "a", Content: "new"},
	}))

	deleted, err := j.CleanupTurns(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	got, err := j.ListTurns(ctx, "c1:0", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].StateID)
}

func TestWithBusyRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withBusyRetry(ctx, "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withBusyRetry(ctx, "op", func() error {
		calls++
		return errors.New("constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-busy errors are not retried")
}

func TestIsSQLiteConflictError(t *testing.T) {
	assert.False(t, isSQLiteConflictError(nil))
	assert.True(t, isSQLiteConflictError(errors.New("SQLITE_BUSY")))
	assert.True(t, isSQLiteConflictError(errors.New("database is locked")))
	assert.False(t, isSQLiteConflictError(errors.New("no such table")))
}

func TestNopJournal(t *testing.T) {
	var j Journal = NopJournal{}
	require.NoError(t, j.RecordTurn(context.Background(), &domain.TurnRecord{}))
	got, err := j.ListTurns(context.Background(), "x", 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}
