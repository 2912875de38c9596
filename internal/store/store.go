// Package store holds the volatile AgentState cache and the SQLite turn journal.
package store

import (
	"context"
	"time"

	"github.com/ashureev/myaa/internal/domain"
)

// Journal is an append-only audit trail of finished turns. It is never read
// back into conversation state.
type Journal interface {
	// RecordTurn appends one turn. A zero ID or CreatedAt is filled in.
	RecordTurn(ctx context.Context, rec *domain.TurnRecord) error

	// ListTurns returns the most recent turns for a session key, newest first.
	ListTurns(ctx context.Context, sessionKey string, limit int) ([]*domain.TurnRecord, error)

	// CleanupTurns removes turns older than retention.
	CleanupTurns(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the database.
	Close() error
}

// NopJournal discards every record. It is used when journaling is disabled.
type NopJournal struct{}

// RecordTurn implements Journal.
func (NopJournal) RecordTurn(context.Context, *domain.TurnRecord) error { return nil }

// ListTurns implements Journal.
func (NopJournal) ListTurns(context.Context, string, int) ([]*domain.TurnRecord, error) {
	return nil, nil
}

// CleanupTurns implements Journal.
func (NopJournal) CleanupTurns(context.Context, time.Duration) (int64, error) { return 0, nil }

// Ping implements Journal.
func (NopJournal) Ping(context.Context) error { return nil }

// Close implements Journal.
func (NopJournal) Close() error { return nil }

var _ Journal = NopJournal{}
