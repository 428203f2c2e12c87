package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Runner is what the Scheduler drives.
type Runner interface {
	RunOnce(ctx context.Context) (RunSummary, error)
}

// Scheduler calls RunOnce on a fixed interval. Ticks that arrive while a run
// is in progress are dropped.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewScheduler creates a Scheduler; Start launches it.
func NewScheduler(runner Runner, interval time.Duration, runOnStart bool, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger.Named("scheduler"),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the loop in a goroutine until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart))

	go func() {
		defer close(s.done)
		if s.runOnStart {
			s.tick(ctx)
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runner.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			s.logger.Debug("run in progress, skipping tick")
			return
		}
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}
