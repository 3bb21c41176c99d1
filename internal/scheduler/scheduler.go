package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix  = "job_lock:"
	defaultLockTTL = 30 * time.Minute
	defaultJobTime = 25 * time.Minute
)

var errMissingCache = errors.New("scheduler: cache client is required")

// Job is one schedulable unit of background work.
type Job func(ctx context.Context) error

// Scheduler runs reconciliation-style jobs on fixed cron schedules in local
// time. Each run takes a cache-side lock first so overlapping instances of
// the same job (including on other replicas) skip instead of double-flushing.
type Scheduler struct {
	cron     *cron.Cron
	cache    redis.Cmdable
	logger   *zap.Logger
	lockTTL  time.Duration
	runnerID string
}

// New constructs a scheduler bound to the shared cache store for run-locks.
func New(cache redis.Cmdable, runnerID string, logger *zap.Logger) (*Scheduler, error) {
	if cache == nil {
		return nil, errMissingCache
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if runnerID == "" {
		runnerID = fmt.Sprintf("runner-%d", time.Now().UnixNano())
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.Local)),
		cache:    cache,
		logger:   logger,
		lockTTL:  defaultLockTTL,
		runnerID: runnerID,
	}, nil
}

// Register schedules the named job on the given cron spec.
func (s *Scheduler) Register(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runLocked(name, job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	return nil
}

// RunNow executes the job immediately under the same lock discipline as a
// scheduled trigger. Used for manual replays.
func (s *Scheduler) RunNow(name string, job Job) {
	s.runLocked(name, job)
}

func (s *Scheduler) runLocked(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTime)
	defer cancel()

	lockKey := lockKeyPrefix + name
	acquired, err := s.cache.SetNX(ctx, lockKey, s.runnerID, s.lockTTL).Result()
	if err != nil {
		s.logger.Error("job lock acquisition failed",
			zap.String("job", name), zap.Error(err))
		return
	}
	if !acquired {
		s.logger.Warn("job already running elsewhere, skipping",
			zap.String("job", name))
		return
	}
	defer func() {
		if err := s.cache.Del(context.Background(), lockKey).Err(); err != nil {
			s.logger.Warn("job lock release failed",
				zap.String("job", name), zap.Error(err))
		}
	}()

	started := time.Now()
	if err := job(ctx); err != nil {
		// Partial completion is logged per item by the job itself; the
		// scheduler only records the outcome and keeps running.
		s.logger.Error("scheduled job finished with errors",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled job completed",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(started)))
}

// Start begins triggering registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
