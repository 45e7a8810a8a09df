// Package sweeper runs the stale-order sweep on a cron schedule.
//
// Several replicas may run a sweeper; when a Locker is configured only the
// replica holding the lock sweeps in a given tick.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/onlab/orderdesk/internal/logging"
)

// LockKey is the lock shared by all replicas.
const LockKey = "orderdesk:sweep"

// ErrLocked is returned by a Locker when another holder owns the lock.
var ErrLocked = errors.New("sweep lock held elsewhere")

// Target fails stale orders.
type Target interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains an exclusive, expiring lock.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Config controls the schedule.
type Config struct {
	Schedule   string
	StaleAfter time.Duration
	// LockTTL bounds how long a crashed replica keeps the lock. Defaults to 2m.
	LockTTL time.Duration
	// Timeout bounds one sweep. Defaults to LockTTL.
	Timeout time.Duration
}

// Sweeper schedules sweeps.
type Sweeper struct {
	target Target
	locker Locker
	cfg    Config
	logger *logging.Logger
	cron   *cron.Cron

	runs    atomic.Int64
	skipped atomic.Int64
}

// New validates cfg and registers the schedule. locker may be nil for a
// single replica deployment.
func New(target Target, locker Locker, cfg Config, logger *logging.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, errors.New("sweeper: target is required")
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("sweeper: stale threshold must be positive")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.LockTTL
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}

	s := &Sweeper{target: target, locker: locker, cfg: cfg, logger: logger}
	cl := cronLogger{entry: logger.WithField("component", "sweeper")}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())

	if _, _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Stale order sweep failed")
	}
}

// RunOnce sweeps immediately. ran is false when another replica holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (swept int, ran bool, err error) {
	log := s.logger.WithContext(ctx)

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, LockKey, s.cfg.LockTTL)
		if errors.Is(err, ErrLocked) {
			s.skipped.Add(1)
			log.Debug("Sweep lock held by another replica; skipping")
			return 0, false, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("obtain sweep lock: %w", err)
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
				log.WithError(relErr).Warn("Failed to release sweep lock")
			}
		}()
	}

	s.runs.Add(1)
	start := time.Now()
	swept, err = s.target.SweepStale(ctx, s.cfg.StaleAfter)
	log.WithFields(logrus.Fields{
		"swept":    swept,
		"duration": time.Since(start).String(),
	}).Info("Stale order sweep finished")
	return swept, true, err
}

// Runs returns how many sweeps this replica performed.
func (s *Sweeper) Runs() int64 { return s.runs.Load() }

// Skipped returns how many sweeps were skipped for the lock.
func (s *Sweeper) Skipped() int64 { return s.skipped.Load() }

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	out := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
