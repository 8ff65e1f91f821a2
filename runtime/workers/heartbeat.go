package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

const probeTimeout = 2 * time.Second

// ConnectionCounter reports how many connections the gateway holds.
type ConnectionCounter interface {
	Connections() int
}

// RoomCounter reports how many rooms have at least one member.
type RoomCounter interface {
	Rooms() int
}

// HealthReporter is told whether the relay can currently serve traffic.
type HealthReporter interface {
	SetServing(serving bool)
}

// Stats is one heartbeat sample.
type Stats struct {
	PID         int32
	PIDStatus   string
	CPUPercent  float64
	RAMBytes    uint64
	Connections int
	Rooms       int
	AuditOK     bool
}

// HeartbeatWorker samples the relay process and probes the audit store on every tick.
// The relay is reported serving only while the store answers.
type HeartbeatWorker struct {
	log         *slog.Logger
	interval    time.Duration
	audit       contract.AuditLog
	connections ConnectionCounter
	rooms       RoomCounter
	health      HealthReporter
	onSample    func(Stats)
}

func NewHeartbeatWorker(
	log *slog.Logger,
	interval time.Duration,
	audit contract.AuditLog,
	connections ConnectionCounter,
	rooms RoomCounter,
	health HealthReporter,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		log:         log,
		interval:    interval,
		audit:       audit,
		connections: connections,
		rooms:       rooms,
		health:      health,
		onSample:    func(Stats) {},
	}
}

// OnSample registers a hook receiving every sample, used by tests and the debug inspector.
func (w *HeartbeatWorker) OnSample(fn func(Stats)) *HeartbeatWorker {
	w.onSample = fn
	return w
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting relay heartbeat worker", "interval", w.interval)
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	w.beat(ctx, p)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.beat(ctx, p)
		}
	}
}

func (w *HeartbeatWorker) beat(ctx context.Context, p *process.Process) {
	stats := Stats{
		PID:         p.Pid,
		Connections: w.connections.Connections(),
		Rooms:       w.rooms.Rooms(),
		AuditOK:     w.probe(ctx),
	}
	if rss, cpu, status, err := selfStats(p); err != nil {
		w.log.Warn("Failed to collect self stats", "error", err)
	} else {
		stats.RAMBytes, stats.CPUPercent, stats.PIDStatus = rss, cpu, status
	}

	w.health.SetServing(stats.AuditOK)
	w.log.Info("Relay heartbeat",
		"pid", stats.PID,
		"status", stats.PIDStatus,
		"cpu_percent", stats.CPUPercent,
		"ram_bytes", stats.RAMBytes,
		"connections", stats.Connections,
		"rooms", stats.Rooms,
		"audit_ok", stats.AuditOK)
	w.onSample(stats)
}

// probe reads at most one record; a store that cannot answer this is unusable for sends too.
func (w *HeartbeatWorker) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := w.audit.List(probeCtx, domain.Filter{}, domain.Page{Limit: 1}); err != nil {
		w.log.Error("Audit store probe failed", "error", err)
		return false
	}
	return true
}

func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
