// Package analytics builds the admin statistics over the audit log.
package analytics

import (
	"chat-relay/cache"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultWindowDays = 7
	// DefaultComputeTimeout bounds one shared snapshot computation.
	DefaultComputeTimeout = 30 * time.Second
	MaxWindowDays     = 90
)

// Aggregator serves snapshots from a short-lived cache and recomputes them on a miss.
// Concurrent misses for the same window share one computation.
type Aggregator struct {
	log   *slog.Logger
	audit contract.AuditLog
	cache *cache.TTL[domain.Window, domain.AggregateSnapshot]
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	computeTimeout time.Duration
}

func NewAggregator(log *slog.Logger, audit contract.AuditLog,
	snapshots *cache.TTL[domain.Window, domain.AggregateSnapshot], ttl time.Duration) *Aggregator {
	return &Aggregator{log: log, audit: audit, cache: snapshots, ttl: ttl, now: time.Now,
		computeTimeout: DefaultComputeTimeout}
}

func (a *Aggregator) Snapshot(ctx context.Context, window domain.Window) (domain.AggregateSnapshot, error) {
	if window.Days < 1 || window.Days > MaxWindowDays {
		return domain.AggregateSnapshot{}, fmt.Errorf("%w: %d days, expected 1..%d",
			errors.ErrInvalidWindow, window.Days, MaxWindowDays)
	}
	if snapshot, ok := a.cache.Get(window); ok {
		return snapshot, nil
	}

	// The computation is detached from the request that started it; each caller
	// only stops waiting on its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := a.group.DoChan(strconv.Itoa(window.Days), func() (any, error) {
		// Another caller may have filled the cache while this one waited.
		if snapshot, ok := a.cache.Get(window); ok {
			return snapshot, nil
		}
		computeCtx, cancel := context.WithTimeout(detached, a.computeTimeout)
		defer cancel()
		snapshot, err := a.compute(computeCtx, window)
		if err != nil {
			return nil, err
		}
		a.cache.Set(window, snapshot, a.ttl)
		return snapshot, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return domain.AggregateSnapshot{}, ctx.Err()
	}
	if res.Err != nil {
		return domain.AggregateSnapshot{}, res.Err
	}
	if res.Shared {
		a.log.Debug("Snapshot computation shared", "days", window.Days)
	}
	return res.Val.(domain.AggregateSnapshot), nil
}

func (a *Aggregator) compute(ctx context.Context, window domain.Window) (domain.AggregateSnapshot, error) {
	now := a.now().UTC()
	since, until := window.Bounds(now)
	all := domain.Filter{Since: since, Until: until}
	flagged := domain.Filter{Since: since, Until: until, Flagged: lo.ToPtr(true)}

	total, err := a.audit.Count(ctx, all)
	if err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("count messages: %w", err)
	}
	flaggedCount, err := a.audit.Count(ctx, flagged)
	if err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("count flagged messages: %w", err)
	}
	senders, err := a.audit.CountSenders(ctx, all)
	if err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("count senders: %w", err)
	}
	days, err := a.audit.GroupByDay(ctx, since, until)
	if err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("group by day: %w", err)
	}

	ratio := 0.0
	if total > 0 {
		ratio = float64(flaggedCount) / float64(total)
	}
	snapshot := domain.AggregateSnapshot{
		Window:        window,
		Total:         total,
		Flagged:       flaggedCount,
		FlaggedRatio:  ratio,
		ActiveSenders: senders,
		DailySeries:   fillDays(since, window.Days, days),
		GeneratedAt:   now,
	}
	a.log.Debug("Snapshot computed", "days", window.Days, "total", total, "flagged", flaggedCount)
	return snapshot, nil
}

// fillDays returns one entry per day of the window, zero where the store had none.
func fillDays(since time.Time, n int, counts []domain.DayCount) []domain.DayCount {
	byDay := lo.SliceToMap(counts, func(d domain.DayCount) (time.Time, int) {
		return domain.StartOfDay(d.Day), d.Count
	})
	return lo.Times(n, func(i int) domain.DayCount {
		day := since.AddDate(0, 0, i)
		return domain.DayCount{Day: day, Count: byDay[day]}
	})
}
