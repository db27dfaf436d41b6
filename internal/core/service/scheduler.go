package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Checker runs a notification pass.
type Checker interface {
	RunAllChecks(ctx context.Context) (map[string]int, error)
}

// Scheduler runs a Checker once at start (optionally) and then on a fixed
// interval until its context ends.
type Scheduler struct {
	checker    Checker
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
}

func NewScheduler(checker Checker, interval time.Duration, runOnStart bool, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		checker:    checker,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled. A zero interval disables the periodic
// runs.
func (s *Scheduler) Run(ctx context.Context) {
	if s.runOnStart {
		s.runOnce(ctx)
	}
	if s.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	counts, err := s.checker.RunAllChecks(ctx)
	switch {
	case errors.Is(err, ErrCheckInProgress):
		s.logger.Info("skipping notification run, another is in progress")
	case err != nil && ctx.Err() == nil:
		s.logger.Error("scheduled notification run failed", zap.Any("created", counts), zap.Error(err))
	}
}
