package workers

import (
	"context"
	"log/slog"
	"time"
)

// SweepFunc evicts stale entries and returns how many went away.
type SweepFunc func() int

// CacheSweeper periodically evicts expired entries from the relay caches
// (analytics snapshots, closed connection tombstones).
// Reads already ignore expired entries, so a missed tick only costs memory.
type CacheSweeper struct {
	log      *slog.Logger
	interval time.Duration
	targets  map[string]SweepFunc
}

func NewCacheSweeper(log *slog.Logger, interval time.Duration, targets map[string]SweepFunc) *CacheSweeper {
	return &CacheSweeper{log: log, interval: interval, targets: targets}
}

func (w *CacheSweeper) Run(ctx context.Context) error {
	w.log.Info("Starting cache sweeper", "interval", w.interval, "targets", len(w.targets))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *CacheSweeper) sweep() {
	for name, fn := range w.targets {
		if removed := fn(); removed > 0 {
			w.log.Debug("Swept expired entries", "cache", name, "removed", removed)
		}
	}
}
