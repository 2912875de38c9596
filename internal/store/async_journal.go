package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/myaa/internal/domain"
)

const (
	defaultAsyncQueueSize = 256
	asyncWriteTimeout     = 5 * time.Second
	asyncCloseTimeout     = 10 * time.Second
)

// ErrJournalClosed is returned by RecordTurn after Close.
var ErrJournalClosed = errors.New("journal closed")

// AsyncJournal queues turn records and writes them to another Journal in the
// background, so a slow database never delays a reply. When the queue is full
// the oldest queued record is dropped.
type AsyncJournal struct {
	inner  Journal
	queue  chan *domain.TurnRecord
	done   chan struct{}
	logger *slog.Logger

	// OnError is called for every record that was dropped or failed to write.
	// Set it before the first RecordTurn.
	OnError func(err error)

	mu     sync.RWMutex
	closed bool
}

// NewAsyncJournal starts the background writer for inner. queueSize <= 0 uses
// a default.
func NewAsyncJournal(inner Journal, queueSize int, logger *slog.Logger) *AsyncJournal {
	if queueSize <= 0 {
		queueSize = defaultAsyncQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &AsyncJournal{
		inner:  inner,
		queue:  make(chan *domain.TurnRecord, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go j.process()
	return j
}

// RecordTurn stamps rec and queues a copy of it. It never blocks.
func (j *AsyncJournal) RecordTurn(_ context.Context, rec *domain.TurnRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	if rec.Reply != nil {
		reply := *rec.Reply
		cp.Reply = &reply
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}

	select {
	case j.queue <- &cp:
		return nil
	default:
	}

	// Full: drop the oldest record to make room.
	select {
	case old := <-j.queue:
		j.logger.Warn("Journal queue full, dropping oldest turn",
			"session_key", old.SessionKey,
			"turn_id", old.ID,
		)
		j.reportError(errors.New("journal queue full"))
	default:
	}
	select {
	case j.queue <- &cp:
		return nil
	default:
		j.reportError(errors.New("journal queue full"))
		return errors.New("journal queue full")
	}
}

func (j *AsyncJournal) process() {
	defer close(j.done)
	for rec := range j.queue {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		err := j.inner.RecordTurn(ctx, rec)
		cancel()
		if err != nil {
			j.logger.Warn("Failed to write journaled turn",
				"session_key", rec.SessionKey,
				"turn_id", rec.ID,
				"error", err,
			)
			j.reportError(err)
			continue
		}
		if d := time.Since(start); d > 100*time.Millisecond {
			j.logger.Warn("Slow journal write", "turn_id", rec.ID, "duration", d)
		}
	}
}

func (j *AsyncJournal) reportError(err error) {
	if j.OnError != nil {
		j.OnError(err)
	}
}

// Pending returns the number of queued records not yet written.
func (j *AsyncJournal) Pending() int {
	return len(j.queue)
}

// ListTurns implements Journal. Records still queued are not visible yet.
func (j *AsyncJournal) ListTurns(ctx context.Context, sessionKey string, limit int) ([]*domain.TurnRecord, error) {
	return j.inner.ListTurns(ctx, sessionKey, limit)
}

// CleanupTurns implements Journal.
func (j *AsyncJournal) CleanupTurns(ctx context.Context, retention time.Duration) (int64, error) {
	return j.inner.CleanupTurns(ctx, retention)
}

// Ping implements Journal.
func (j *AsyncJournal) Ping(ctx context.Context) error {
	return j.inner.Ping(ctx)
}

// Close stops accepting records, flushes the queue and closes the inner
// journal.
func (j *AsyncJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	remaining := len(j.queue)
	close(j.queue)
	j.mu.Unlock()

	j.logger.Info("Flushing turn journal", "queue_remaining", remaining)
	select {
	case <-j.done:
	case <-time.After(asyncCloseTimeout):
		j.logger.Warn("Journal flush timed out", "queue_remaining", len(j.queue))
	}
	return j.inner.Close()
}

var _ Journal = (*AsyncJournal)(nil)
