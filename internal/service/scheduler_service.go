package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

const (
	schedulerLockKey        = "study_analytics:scheduler:lock"
	defaultCronSpec         = "0 30 4 * * *"
	defaultSchedulerLockTTL = 10 * time.Minute
)

type scheduledRunner interface {
	RunScheduled(ctx context.Context) (ScheduleSummary, error)
}

type lockAcquirer interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// SchedulerConfig controls the automatic update task.
type SchedulerConfig struct {
	Spec     string
	LockTTL  time.Duration
	Location *time.Location
}

// SchedulerService runs automatic updates on a cron schedule. A shared lock keeps replicas from
// running the same tick twice.
type SchedulerService struct {
	runner  scheduledRunner
	locker  lockAcquirer
	logger  *zap.Logger
	cfg     SchedulerConfig
	owner   string
	cron    *cron.Cron
	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// NewSchedulerService validates the cron spec and constructs the scheduler.
func NewSchedulerService(runner scheduledRunner, locker lockAcquirer, logger *zap.Logger, cfg SchedulerConfig) (*SchedulerService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Spec == "" {
		cfg.Spec = defaultCronSpec
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultSchedulerLockTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if _, err := cron.Parse(cfg.Spec); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", cfg.Spec, err)
	}
	host, _ := os.Hostname()
	return &SchedulerService{
		runner: runner,
		locker: locker,
		logger: logger,
		cfg:    cfg,
		owner:  fmt.Sprintf("%s:%d", host, os.Getpid()),
		ctx:    context.Background(),
	}, nil
}

// Start registers the task and starts the cron loop. Ticks use ctx until Stop is called.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	c := cron.NewWithLocation(s.cfg.Location)
	if err := c.AddFunc(s.cfg.Spec, func() { s.Tick() }); err != nil {
		return fmt.Errorf("register scheduler task: %w", err)
	}
	s.ctx = ctx
	s.cron = c
	c.Start()
	s.started = true
	s.logger.Info("scheduler started", zap.String("spec", s.cfg.Spec))
	return nil
}

// Stop halts the cron loop. Running ticks are not interrupted.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	s.logger.Info("scheduler stopped")
}

// Tick runs one automatic update if this instance wins the lock. It reports whether it ran.
func (s *SchedulerService) Tick() bool {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, schedulerLockKey, s.owner, s.cfg.LockTTL)
		if err != nil {
			s.logger.Error("scheduler lock failed", zap.Error(err))
			return false
		}
		if !acquired {
			s.logger.Debug("scheduler tick skipped, lock held elsewhere")
			return false
		}
		defer s.release()
	}

	summary, err := s.runner.RunScheduled(ctx)
	if err != nil {
		s.logger.Error("scheduled update failed", zap.Error(err), zap.Int("enqueued", summary.Enqueued))
	}
	return true
}

// release runs on a fresh context so a cancelled tick still frees the lock.
func (s *SchedulerService) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	released, err := s.locker.ReleaseLock(ctx, schedulerLockKey, s.owner)
	if err != nil {
		s.logger.Warn("scheduler lock not released, it expires after its ttl", zap.Error(err))
		return
	}
	if !released {
		s.logger.Warn("scheduler lock was taken over before release", zap.Duration("ttl", s.cfg.LockTTL))
	}
}
