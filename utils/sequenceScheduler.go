package utils

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// InitializeSequenceScheduler registers the drip-sequence sender on a cron
// schedule and starts it. Runs never overlap; a slow pass makes the next tick
// wait.
func InitializeSequenceScheduler(spec string, timeout time.Duration, run func(ctx context.Context), log *zap.Logger) (*cron.Cron, error) {
	log = log.Named("sequence-scheduler")
	log.Info("initializing sequence scheduler", zap.String("schedule", spec))

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		started := time.Now()
		run(ctx)
		log.Debug("sequence pass finished", zap.Duration("took", time.Since(started)))
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	log.Info("sequence scheduler started")
	return c, nil
}
