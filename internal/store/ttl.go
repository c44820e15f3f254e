package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the TTL worker sweeps.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper removes expired rows.
type Sweeper interface {
	DeleteExpiredTabs(ctx context.Context, ttl time.Duration) (int64, error)
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// TTLConfig controls the TTL worker. A zero TTL disables that sweep.
type TTLConfig struct {
	Interval   time.Duration
	TabTTL     time.Duration
	SessionTTL time.Duration
}

// StartTTLWorker runs a background goroutine that periodically removes tab
// storage and backend sessions past their TTL. The returned channel is
// closed once the worker exits after ctx is cancelled.
func StartTTLWorker(ctx context.Context, sweeper Sweeper, cfg TTLConfig) <-chan struct{} {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", cfg.Interval, "tab_ttl", cfg.TabTTL, "session_ttl", cfg.SessionTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, sweeper, cfg)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(ctx context.Context, sweeper Sweeper, cfg TTLConfig) {
	if cfg.TabTTL > 0 {
		if deleted, err := sweeper.DeleteExpiredTabs(ctx, cfg.TabTTL); err != nil {
			slog.Error("TTL worker failed to delete expired tabs", "error", err)
		} else if deleted > 0 {
			slog.Info("TTL worker removed expired tab entries", "count", deleted)
		}
	}

	if cfg.SessionTTL > 0 {
		if deleted, err := sweeper.CleanupExpiredSessions(ctx, cfg.SessionTTL); err != nil {
			slog.Error("TTL worker failed to cleanup expired sessions", "error", err)
		} else if deleted > 0 {
			slog.Info("TTL worker removed expired sessions", "count", deleted)
		}
	}
}
