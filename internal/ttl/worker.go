// Package ttl runs the background sweep that purges expired conversation
// state and prunes the turn journal.
package ttl

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/myaa/internal/observability"
	"github.com/ashureev/myaa/internal/store"
)

const (
	defaultInterval  = time.Minute
	defaultRetention = 7 * 24 * time.Hour
	// journalCleanupEvery runs retention cleanup once per this many sweeps.
	journalCleanupEvery = 60
)

// SweepCallback is called after every sweep with the number of states removed.
type SweepCallback func(removed int)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Interval         time.Duration
	JournalRetention time.Duration
	OnSweep          SweepCallback
}

// Worker periodically sweeps the state cache.
type Worker struct {
	cache   *store.Cache
	journal store.Journal
	metrics *observability.Metrics
	cfg     WorkerConfig
	logger  *slog.Logger

	sweeps int
}

// NewWorker creates a sweeper for cache. journal and metrics may be nil.
func NewWorker(cache *store.Cache, journal store.Journal, metrics *observability.Metrics, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.JournalRetention <= 0 {
		cfg.JournalRetention = defaultRetention
	}
	if journal == nil {
		journal = store.NopJournal{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cache:   cache,
		journal: journal,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start runs the worker in a background goroutine until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		_ = w.Run(ctx)
	}()
}

// Run sweeps on every tick until ctx is done. It always returns nil.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.logger.Info("TTL worker started", "interval", w.cfg.Interval, "ttl", w.cache.TTL())

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			w.logger.Info("TTL worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep removes expired states now and, every journalCleanupEvery calls,
// prunes journal entries older than the retention period.
func (w *Worker) Sweep(ctx context.Context) int {
	removed := w.cache.Sweep()
	w.metrics.AddSwept(removed)
	w.metrics.SetStates(w.cache.Len())
	if removed > 0 {
		w.logger.Info("TTL worker removed expired states", "count", removed)
	}
	if w.cfg.OnSweep != nil {
		w.cfg.OnSweep(removed)
	}

	if w.sweeps%journalCleanupEvery == 0 {
		w.cleanupJournal(ctx)
	}
	w.sweeps++
	return removed
}

func (w *Worker) cleanupJournal(ctx context.Context) {
	deleted, err := w.journal.CleanupTurns(ctx, w.cfg.JournalRetention)
	if err != nil {
		if ctx.Err() != nil {
			w.logger.Debug("TTL worker: context canceled during journal cleanup", "error", err)
			return
		}
		w.logger.Error("TTL worker failed to clean up journal", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("TTL worker pruned journal", "count", deleted, "retention", w.cfg.JournalRetention)
	}
}
