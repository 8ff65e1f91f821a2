package workers

import (
	"chat-relay/cache"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheSweeper_EvictsExpiredEntries(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	snapshots := cache.NewTTL[int, string](cache.WithClock[int, string](clock.Now))

	// Given one expired and one live entry
	snapshots.Set(7, "stale", time.Second)
	snapshots.Set(30, "fresh", time.Hour)
	clock.Advance(time.Minute)

	var calls sync.WaitGroup
	calls.Add(1)
	var once sync.Once
	sweeper := NewCacheSweeper(log, 10*time.Millisecond, map[string]SweepFunc{
		"snapshots": func() int {
			n := snapshots.Sweep()
			once.Do(calls.Done)
			return n
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sweeper.Run(ctx) }()

	// When at least one tick happened
	calls.Wait()
	cancel()

	// Then only the live entry remains and the worker reports cancellation
	req.ErrorIs(<-errCh, context.Canceled)
	req.Equal(1, snapshots.Len())
	v, ok := snapshots.Get(30)
	req.True(ok)
	req.Equal("fresh", v)
}
