package workers

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type staticCounts struct {
	connections int
	rooms       int
}

func (s staticCounts) Connections() int { return s.connections }
func (s staticCounts) Rooms() int       { return s.rooms }

type healthRecorder struct {
	mu       sync.Mutex
	statuses []bool
}

func (h *healthRecorder) SetServing(serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, serving)
}

func (h *healthRecorder) snapshot() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.statuses...)
}

func TestHeartbeatWorker_ReportsStatsAndHealth(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	audit := mocks.NewMockAuditLog(ctrl)
	health := &healthRecorder{}
	counts := staticCounts{connections: 4, rooms: 2}

	// Given a store answering the first probe then failing
	gomock.InOrder(
		audit.EXPECT().List(gomock.Any(), domain.Filter{}, domain.Page{Limit: 1}).Return(nil, nil),
		audit.EXPECT().List(gomock.Any(), domain.Filter{}, domain.Page{Limit: 1}).
			Return(nil, fmt.Errorf("badger closed")).AnyTimes(),
	)

	samples := make(chan Stats, 16)
	worker := NewHeartbeatWorker(log, 10*time.Millisecond, audit, counts, counts, health).
		OnSample(func(s Stats) {
			select {
			case samples <- s:
			default:
			}
		})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()

	// When two beats happened
	first := <-samples
	second := <-samples
	cancel()
	req.ErrorIs(<-errCh, context.Canceled)

	// Then samples describe this process and the relay counters
	req.Equal(int32(os.Getpid()), first.PID)
	req.Equal(4, first.Connections)
	req.Equal(2, first.Rooms)
	req.True(first.AuditOK)
	req.False(second.AuditOK)

	// Then health follows the store probe
	statuses := health.snapshot()
	req.GreaterOrEqual(len(statuses), 2)
	req.True(statuses[0])
	req.False(statuses[1])
}
