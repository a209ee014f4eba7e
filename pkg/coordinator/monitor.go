package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RepairMonitor calls RepairFaults on a fixed interval. Repair stays an
// explicit operation; the monitor is just a scheduled caller.
type RepairMonitor struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	reports chan RepairReport
}

func NewRepairMonitor(c *Coordinator, interval time.Duration, logger *zap.Logger) *RepairMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RepairMonitor{
		coordinator: c,
		interval:    interval,
		logger:      logger,
		reports:     make(chan RepairReport, 1),
	}
}

// Reports delivers the latest report of each pass. Reports are dropped when
// nobody is reading.
func (m *RepairMonitor) Reports() <-chan RepairReport {
	return m.reports
}

// Start runs the monitor until ctx is cancelled or Stop is called.
func (m *RepairMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
}

func (m *RepairMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *RepairMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Starting repair monitor", zap.Duration("interval", m.interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Repair monitor stopped")
			return
		case <-ticker.C:
			report, err := m.coordinator.RepairFaults(ctx)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Error("Scheduled repair failed", zap.Error(err))
				}
				continue
			}

			select {
			case m.reports <- report:
			default:
			}
		}
	}
}
