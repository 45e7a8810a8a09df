package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/onlab/orderdesk/internal/sweeper"
)

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail and refund stale orders once, then exit",
	Long: `Runs a single stale order sweep. With REDIS_URL set the sweep takes the
shared lock first and does nothing when another replica holds it.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if sweepOlderThan > 0 {
		cfg.SweepStaleAfter = sweepOlderThan
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sw, err := a.newSweeper(cmd.Context())
	if err != nil {
		return err
	}
	swept, ran, err := sw.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	logger.WithField("swept", swept).WithField("ran", ran).Info("Sweep finished")
	return nil
}

// newSweeper builds the scheduled sweeper, locking through Redis when configured.
func (a *app) newSweeper(ctx context.Context) (*sweeper.Sweeper, error) {
	var locker sweeper.Locker
	if a.cfg.RedisURL != "" {
		rdb, err := sweeper.DialRedis(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb)
		locker = sweeper.NewRedisLocker(rdb)
	} else {
		a.logger.Warn("REDIS_URL not set; sweeps are not coordinated across replicas")
	}

	return sweeper.New(a.engine, locker, sweeper.Config{
		Schedule:   a.cfg.SweepSchedule,
		StaleAfter: a.cfg.SweepStaleAfter,
	}, a.logger)
}
