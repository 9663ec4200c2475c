package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/pkg/config"
)

// EventCleaner deletes metric events older than a cutoff. Implemented by
// the Postgres event store.
type EventCleaner interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention periodically deletes metric events past the configured horizon.
// Deletion is idempotent and safe to run from multiple pods.
type Retention struct {
	cfg     config.RetentionConfig
	cleaner EventCleaner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetention creates a retention service.
func NewRetention(cfg config.RetentionConfig, cleaner EventCleaner) *Retention {
	return &Retention{cfg: cfg, cleaner: cleaner}
}

// Start launches the background cleanup loop. Calling Start twice is a no-op.
func (r *Retention) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	slog.Info("Retention service started",
		"event_retention_days", r.cfg.EventRetentionDays,
		"interval", r.cfg.CleanupInterval())
}

// Stop signals the loop to exit and waits for it to finish.
func (r *Retention) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("Retention service stopped")
}

func (r *Retention) run(ctx context.Context) {
	defer close(r.done)

	r.cleanup(ctx)

	ticker := time.NewTicker(r.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup(ctx)
		}
	}
}

func (r *Retention) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.EventTTL())
	count, err := r.cleaner.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired metric events", "count", count)
	}
}
