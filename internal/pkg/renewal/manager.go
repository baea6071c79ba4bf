package renewal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager triggers scheduler ticks on a timer and keeps the last result.
type Manager struct {
	scheduler  *Scheduler
	interval   time.Duration
	runOnStart bool
	runAt      string

	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	lastMu sync.RWMutex
	last   *TickResult
}

// TickResult is the outcome of the most recent tick the manager ran.
type TickResult struct {
	Report *TickReport
	Err    error
	At     time.Time
}

func NewManager(s *Scheduler) *Manager {
	cfg := s.Config()
	return &Manager{
		scheduler:  s,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		runAt:      cfg.RunAt,
	}
}

// Start launches the periodic worker. Calling Start on a running manager is
// a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	log.Infof("[Manager] Starting renewal worker (interval: %s, run on start: %t, run at: %q)", m.interval, m.runOnStart, m.runAt)
	m.wg.Add(1)
	go m.worker(ctx, m.stopCh)
}

// Stop halts the timer and cancels a tick in progress. Members already being
// processed finish before Stop returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Manager] Stopping renewal worker...")
	close(m.stopCh)
	m.stopCh = nil
	m.cancel()
	m.running = false

	m.wg.Wait()
	log.Info("[Manager] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TriggerNow runs one tick synchronously, outside the timer.
func (m *Manager) TriggerNow(ctx context.Context) (*TickReport, error) {
	return m.run(ctx)
}

// LastResult returns the most recent tick, or nil before the first one.
func (m *Manager) LastResult() *TickResult {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

func (m *Manager) run(ctx context.Context) (*TickReport, error) {
	report, err := m.scheduler.RunOnce(ctx)
	if errors.Is(err, ErrTickInProgress) {
		log.Info("[Manager] Tick skipped, another tick is in progress")
		return nil, err
	}

	m.lastMu.Lock()
	m.last = &TickResult{Report: report, Err: err, At: time.Now()}
	m.lastMu.Unlock()

	if err != nil {
		log.Errorf("[Manager] Tick failed: %v", err)
	}
	return report, err
}

func (m *Manager) worker(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()

	if m.runAt != "" {
		hour, minute, err := parseRunAt(m.runAt)
		if err == nil {
			cfg := m.scheduler.Config()
			first := nextRunAt(time.Now(), hour, minute, cfg.Location)
			log.Infof("[Manager] First tick scheduled at %s", first.Format(time.RFC3339))
			timer := time.NewTimer(time.Until(first))
			select {
			case <-stopCh:
				timer.Stop()
				log.Info("[Manager] Renewal worker stopping")
				return
			case <-timer.C:
				_, _ = m.run(ctx)
			}
		} else {
			log.Warnf("[Manager] Ignoring run-at setting: %v", err)
		}
	} else if m.runOnStart {
		_, _ = m.run(ctx)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Info("[Manager] Renewal worker stopping")
			return
		case <-ticker.C:
			log.Debug("[Manager] Running scheduled renewal tick")
			_, _ = m.run(ctx)
		}
	}
}
