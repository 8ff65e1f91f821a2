package analytics

import (
	"chat-relay/cache"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var now = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func newAggregator(t *testing.T, clock func() time.Time) (*Aggregator, *mocks.MockAuditLog) {
	ctrl := gomock.NewController(t)
	audit := mocks.NewMockAuditLog(ctrl)
	snapshots := cache.NewTTL[domain.Window, domain.AggregateSnapshot](
		cache.WithClock[domain.Window, domain.AggregateSnapshot](clock))
	aggregator := NewAggregator(logs.GetLoggerFromLevel(slog.LevelDebug), audit, snapshots, 30*time.Second)
	aggregator.now = clock
	return aggregator, audit
}

// flaggedFilter matches filters restricted to flagged records.
type flaggedFilter struct{}

func (flaggedFilter) Matches(x any) bool {
	f, ok := x.(domain.Filter)
	return ok && f.Flagged != nil && *f.Flagged
}

func (flaggedFilter) String() string { return "is a flagged-only filter" }

func expectQueries(audit *mocks.MockAuditLog, times int, total, flagged, senders int, days []domain.DayCount) {
	audit.EXPECT().Count(gomock.Any(), flaggedFilter{}).Return(flagged, nil).Times(times)
	audit.EXPECT().Count(gomock.Any(), gomock.Not(flaggedFilter{})).Return(total, nil).Times(times)
	audit.EXPECT().CountSenders(gomock.Any(), gomock.Any()).Return(senders, nil).Times(times)
	audit.EXPECT().GroupByDay(gomock.Any(), gomock.Any(), gomock.Any()).Return(days, nil).Times(times)
}

func TestAggregator_Snapshot_Is_Cached_Within_Ttl(t *testing.T) {
	req := require.New(t)
	current := now
	aggregator, audit := newAggregator(t, func() time.Time { return current })
	ctx := context.Background()
	window := domain.Window{Days: 7}

	// Given the store is queried exactly once
	expectQueries(audit, 1, 10, 3, 4, []domain.DayCount{
		{Day: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Count: 6},
		{Day: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Count: 4},
	})

	// When asking twice within the ttl
	first, err := aggregator.Snapshot(ctx, window)
	req.NoError(err)
	current = now.Add(29 * time.Second)
	second, err := aggregator.Snapshot(ctx, window)
	req.NoError(err)

	// Then both results are identical
	req.Equal(first, second)
	req.Equal(10, first.Total)
	req.Equal(3, first.Flagged)
	req.InDelta(0.3, first.FlaggedRatio, 1e-9)
	req.Equal(4, first.ActiveSenders)
	req.Equal(now, first.GeneratedAt)
}

func TestAggregator_Snapshot_Recomputes_After_Ttl(t *testing.T) {
	req := require.New(t)
	current := now
	aggregator, audit := newAggregator(t, func() time.Time { return current })
	ctx := context.Background()

	expectQueries(audit, 2, 1, 0, 1, nil)

	_, err := aggregator.Snapshot(ctx, domain.Window{Days: 1})
	req.NoError(err)

	// When the ttl has elapsed
	current = now.Add(30 * time.Second)
	snapshot, err := aggregator.Snapshot(ctx, domain.Window{Days: 1})

	// Then the store is queried again
	req.NoError(err)
	req.Equal(current, snapshot.GeneratedAt)
}

func TestAggregator_Daily_Series_Is_Zero_Filled(t *testing.T) {
	req := require.New(t)
	aggregator, audit := newAggregator(t, func() time.Time { return now })

	expectQueries(audit, 1, 5, 0, 2, []domain.DayCount{
		{Day: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), Count: 5},
	})

	snapshot, err := aggregator.Snapshot(context.Background(), domain.Window{Days: 3})
	req.NoError(err)

	req.Equal([]domain.DayCount{
		{Day: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), Count: 5},
		{Day: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), Count: 0},
		{Day: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Count: 0},
	}, snapshot.DailySeries)
}

func TestAggregator_Empty_Store_Has_Zero_Ratio(t *testing.T) {
	req := require.New(t)
	aggregator, audit := newAggregator(t, func() time.Time { return now })
	expectQueries(audit, 1, 0, 0, 0, nil)

	snapshot, err := aggregator.Snapshot(context.Background(), domain.Window{Days: 7})

	req.NoError(err)
	req.Zero(snapshot.Total)
	req.Zero(snapshot.FlaggedRatio)
	req.Len(snapshot.DailySeries, 7)
}

func TestAggregator_Queries_Window_Bounds(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	audit := mocks.NewMockAuditLog(ctrl)
	aggregator := NewAggregator(logs.GetLoggerFromLevel(slog.LevelDebug), audit,
		cache.NewTTL[domain.Window, domain.AggregateSnapshot](), time.Minute)
	aggregator.now = func() time.Time { return now }

	since := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	audit.EXPECT().Count(gomock.Any(), domain.Filter{Since: since, Until: until}).Return(0, nil)
	audit.EXPECT().Count(gomock.Any(), domain.Filter{Since: since, Until: until, Flagged: lo.ToPtr(true)}).Return(0, nil)
	audit.EXPECT().CountSenders(gomock.Any(), domain.Filter{Since: since, Until: until}).Return(0, nil)
	audit.EXPECT().GroupByDay(gomock.Any(), since, until).Return(nil, nil)

	_, err := aggregator.Snapshot(context.Background(), domain.Window{Days: 7})
	req.NoError(err)
}

func TestAggregator_Concurrent_Misses_Share_One_Computation(t *testing.T) {
	req := require.New(t)
	aggregator, audit := newAggregator(t, func() time.Time { return now })
	release := make(chan struct{})

	// Given a slow store queried at most once
	audit.EXPECT().Count(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, domain.Filter) (int, error) {
		<-release
		return 2, nil
	}).Times(2)
	audit.EXPECT().CountSenders(gomock.Any(), gomock.Any()).Return(1, nil).Times(1)
	audit.EXPECT().GroupByDay(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)

	// When many admins ask at the same time
	var wg sync.WaitGroup
	results := make([]domain.AggregateSnapshot, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = aggregator.Snapshot(context.Background(), domain.Window{Days: 7})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Then they all get the same snapshot
	for i, r := range results {
		req.NoError(errs[i])
		req.Equal(results[0], r)
	}
}

func TestAggregator_Cancelled_Caller_Does_Not_Fail_Shared_Computation(t *testing.T) {
	req := require.New(t)
	aggregator, audit := newAggregator(t, func() time.Time { return now })
	started := make(chan struct{})
	release := make(chan struct{})

	// Given a slow store that fails if its context is cancelled
	audit.EXPECT().Count(gomock.Any(), gomock.Not(flaggedFilter{})).
		DoAndReturn(func(ctx context.Context, _ domain.Filter) (int, error) {
			close(started)
			<-release
			return 5, ctx.Err()
		}).Times(1)
	audit.EXPECT().Count(gomock.Any(), flaggedFilter{}).Return(1, nil).Times(1)
	audit.EXPECT().CountSenders(gomock.Any(), gomock.Any()).Return(2, nil).Times(1)
	audit.EXPECT().GroupByDay(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(1)

	// When the admin who started the computation goes away
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := aggregator.Snapshot(firstCtx, domain.Window{Days: 7})
		firstErr <- err
	}()
	<-started

	type outcome struct {
		snapshot domain.AggregateSnapshot
		err      error
	}
	second := make(chan outcome, 1)
	go func() {
		snapshot, err := aggregator.Snapshot(context.Background(), domain.Window{Days: 7})
		second <- outcome{snapshot, err}
	}()
	cancelFirst()

	// Then only that admin sees the cancellation
	req.ErrorIs(<-firstErr, context.Canceled)

	// And the other admin still gets the snapshot
	close(release)
	res := <-second
	req.NoError(res.err)
	req.Equal(5, res.snapshot.Total)
	req.Equal(1, res.snapshot.Flagged)

	// And it was cached for later readers
	cached, err := aggregator.Snapshot(context.Background(), domain.Window{Days: 7})
	req.NoError(err)
	req.Equal(res.snapshot, cached)
}

func TestAggregator_Errors(t *testing.T) {
	req := require.New(t)
	aggregator, audit := newAggregator(t, func() time.Time { return now })
	ctx := context.Background()

	// Invalid windows never reach the store
	_, err := aggregator.Snapshot(ctx, domain.Window{Days: 0})
	req.ErrorIs(err, errors.ErrInvalidWindow)
	_, err = aggregator.Snapshot(ctx, domain.Window{Days: MaxWindowDays + 1})
	req.ErrorIs(err, errors.ErrInvalidWindow)

	// Store errors are returned and not cached
	audit.EXPECT().Count(gomock.Any(), gomock.Any()).Return(0, fmt.Errorf("store down")).Times(1)
	_, err = aggregator.Snapshot(ctx, domain.Window{Days: 7})
	req.ErrorContains(err, "store down")

	expectQueries(audit, 1, 1, 1, 1, nil)
	snapshot, err := aggregator.Snapshot(ctx, domain.Window{Days: 7})
	req.NoError(err)
	req.Equal(1.0, snapshot.FlaggedRatio)
}
