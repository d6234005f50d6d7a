package usecase

import (
	"context"
	"sync/atomic"
	"time"

	domrepo "FxPull/internal/domain/repository"
	applogger "FxPull/pkg/logger"
)

const schedulerLockKey = "scheduler:run"

// ScheduledRunner performs one full scheduled update.
type ScheduledRunner interface {
	RunScheduledUpdate(ctx context.Context) (map[string]bool, error)
}

// Scheduler triggers a full update now and then on every interval.
type Scheduler struct {
	runner   ScheduledRunner
	locker   domrepo.Locker
	interval time.Duration
	lockTTL  time.Duration
	running  atomic.Bool
	l        *applogger.Logger
}

// NewScheduler builds a scheduler. A zero lockTTL defaults to twice the
// interval.
func NewScheduler(runner ScheduledRunner, locker domrepo.Locker, interval, lockTTL time.Duration, l *applogger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Scheduler{runner: runner, locker: locker, interval: interval, lockTTL: lockTTL, l: l}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.l.Info("scheduler started", applogger.Duration("interval", s.interval))
	s.RunOnce(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.l.Info("scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs a scheduled update unless one is already in progress here
// or on another instance. It reports whether a run happened.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.l.Warn("previous scheduled update still running, skipping")
		return false
	}
	defer s.running.Store(false)

	locked, err := s.locker.TryLock(ctx, schedulerLockKey, s.lockTTL)
	if err != nil {
		s.l.Error("scheduler lock failed", applogger.Error(err))
		return false
	}
	if !locked {
		s.l.Info("scheduled update held by another instance")
		return false
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), schedulerLockKey); err != nil {
			s.l.Warn("scheduler unlock failed", applogger.Error(err))
		}
	}()

	start := time.Now()
	if _, err := s.runner.RunScheduledUpdate(ctx); err != nil {
		s.l.Error("scheduled update failed", applogger.Error(err), applogger.Duration("took", time.Since(start)))
		return true
	}
	s.l.Info("scheduled update done", applogger.Duration("took", time.Since(start)))
	return true
}
