package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartSweeper looks for idle sessions.
const DefaultSweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically removes
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, s SessionStore, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, s, ttl)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, s SessionStore, ttl time.Duration) {
	deleted, err := s.DeleteExpired(ctx, ttl)
	if err != nil {
		slog.Error("Session sweeper failed to delete expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper evicted idle sessions", "count", deleted)
	}
}
