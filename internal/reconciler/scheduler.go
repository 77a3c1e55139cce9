package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// Scheduler fires the reconciliation engine on a fixed period, plus once
// immediately at startup. It owns no state beyond what it needs to stop.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for the given engine
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   utils.GetLogger(),
	}
}

// Start begins periodic reconciliation. The first cycle runs immediately,
// then one per interval until Stop is called or the context is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running", "")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.stopOnce = sync.Once{}

	s.logger.Info("Starting reconciliation scheduler", "interval", s.interval)

	s.wg.Add(1)
	go s.loop(ctx)

	return nil
}

// Stop halts the timer. Future cycles stop starting; an in-flight cycle is
// allowed to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()

	s.logger.Info("Reconciliation scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation loop stopped by context")
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce triggers one cycle. Cycle-level errors are logged and swallowed;
// the next tick retries.
func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.engine.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleInProgress) {
			s.logger.Debug("Skipping reconciliation tick, prior cycle still running")
			return
		}
		s.logger.Error("Reconciliation cycle failed", "error", err)
	}
}
