package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/ashureev/myaa/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY under WAL
}

// NewSQLiteJournal opens or creates the journal database at dbPath.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		state_id TEXT NOT NULL,
		responder_id TEXT,
		inbound_speaker TEXT NOT NULL,
		inbound_content TEXT NOT NULL,
		reply_speaker TEXT,
		reply_content TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, created_at);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
	`
	if _, err := j.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (j *SQLiteJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// RecordTurn appends a turn record, retrying with backoff while the database
// is locked.
func (j *SQLiteJournal) RecordTurn(ctx context.Context, rec *domain.TurnRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return withBusyRetry(ctx, "record turn", func() error {
		return j.recordTurnOnce(ctx, rec)
	})
}

func (j *SQLiteJournal) recordTurnOnce(ctx context.Context, rec *domain.TurnRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `
		INSERT INTO turns (
			id, session_key, state_id, responder_id,
			inbound_speaker, inbound_content, reply_speaker, reply_content,
			outcome, error, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var replySpeaker, replyContent interface{}
	if rec.Reply != nil {
		replySpeaker = rec.Reply.Speaker
		replyContent = rec.Reply.Content
	}
	var errText interface{}
	if rec.Error != "" {
		errText = rec.Error
	}

	_, err := j.db.ExecContext(ctx, query,
		rec.ID, rec.SessionKey, rec.StateID, rec.ResponderID,
		rec.Inbound.Speaker, rec.Inbound.Content, replySpeaker, replyContent,
		string(rec.Outcome), errText, rec.Duration.Milliseconds(), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListTurns returns up to limit turns for sessionKey, newest first.
func (j *SQLiteJournal) ListTurns(ctx context.Context, sessionKey string, limit int) ([]*domain.TurnRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, session_key, state_id, responder_id,
		       inbound_speaker, inbound_content, reply_speaker, reply_content,
		       outcome, error, duration_ms, created_at
		FROM turns WHERE session_key = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var out []*domain.TurnRecord
	for rows.Next() {
		var rec domain.TurnRecord
		var responderID, replySpeaker, replyContent, errText sql.NullString
		var outcome string
		var durationMs, createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.SessionKey, &rec.StateID, &responderID,
			&rec.Inbound.Speaker, &rec.Inbound.Content, &replySpeaker, &replyContent,
			&outcome, &errText, &durationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		rec.ResponderID = responderID.String
		rec.Outcome = domain.TurnOutcome(outcome)
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAt)
		if replySpeaker.Valid || replyContent.Valid {
			rec.Reply = &domain.Message{Speaker: replySpeaker.String, Content: replyContent.String}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

// CleanupTurns removes turns recorded before now minus retention.
func (j *SQLiteJournal) CleanupTurns(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()

	var deleted int64
	err := withBusyRetry(ctx, "cleanup turns", func() error {
		j.mu.Lock()
		defer j.mu.Unlock()

		result, err := j.db.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup turns: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// withBusyRetry runs fn up to three times with exponential backoff
// (50ms, 100ms) while SQLite reports a lock conflict.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isSQLiteConflictError reports SQLITE_BUSY and "database is locked" errors,
// which are worth retrying.
func isSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

var _ Journal = (*SQLiteJournal)(nil)
