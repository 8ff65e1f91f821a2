package workers

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultRestartDelay = 200 * time.Millisecond

// Supervisor runs background workers of the relay (cache sweeping, heartbeat)
// and keeps them alive: a worker that fails or panics is restarted after a delay,
// a worker that returns nil is done for good.
// Cancelling the parent context or calling Stop ends every worker.
type Supervisor struct {
	Cancel       context.CancelFunc
	wg           *sync.WaitGroup
	log          *slog.Logger
	restartDelay time.Duration
	workers      []contract.Worker
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{wg: &sync.WaitGroup{}, log: log, restartDelay: defaultRestartDelay}
}

// WithRestartDelay overrides the pause between a crash and the next run.
func (s *Supervisor) WithRestartDelay(delay time.Duration) *Supervisor {
	if delay > 0 {
		s.restartDelay = delay
	}
	return s
}

// Run blocks until every worker has returned.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.Cancel = cancel
	defer s.Cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Start launches one worker in its own goroutine under the restart policy.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	name := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()
		for restarts := 0; ; restarts++ {
			if ctx.Err() != nil {
				s.log.Info("Stopping worker", "name", name)
				return
			}

			err := s.runOnce(ctx, worker)
			if err == nil {
				s.log.Info("Worker finished", "name", name)
				return
			}
			if ctx.Err() != nil {
				s.log.Info("Worker stopped (context canceled)", "name", name)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", name, "restarts", restarts, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartDelay):
			}
		}
	}()
}

func (s *Supervisor) runOnce(ctx context.Context, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
		}
	}()
	return worker.Run(ctx)
}

// Stop cancels the workers; Run returns once they have all exited.
func (s *Supervisor) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
}
