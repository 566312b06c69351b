package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anonto42/dogpark/backend/internal/metrics"
	"github.com/anonto42/dogpark/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger deletes read notifications older than readBefore and any
// notification that expired before now
type Purger interface {
	DeleteExpired(ctx context.Context, readBefore, now time.Time) (int64, error)
}

// Retention garbage-collects notification records on a cron schedule
type Retention struct {
	store    Purger
	schedule string
	window   time.Duration
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// NewRetention creates the job. schedule accepts standard cron expressions
// and descriptors such as "@hourly" or "@every 30m".
func NewRetention(store Purger, schedule string, window time.Duration, log *zap.Logger) *Retention {
	if schedule == "" {
		schedule = "@hourly"
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Retention{
		store:    store,
		schedule: schedule,
		window:   window,
		timeout:  time.Minute,
		log:      logger.OrNop(log).Named("retention"),
		now:      time.Now,
	}
}

// Start registers the job and starts the scheduler
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() { _, _ = r.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule retention %q: %w", r.schedule, err)
	}
	r.c = c
	c.Start()
	r.log.Info("retention job scheduled", zap.String("schedule", r.schedule), zap.Duration("window", r.window))
	return nil
}

// Stop stops the scheduler and waits for a running purge to finish
func (r *Retention) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		r.log.Warn("retention job still running at shutdown")
	}
}

// RunOnce performs a single purge
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	now := r.now().UTC()
	deleted, err := r.store.DeleteExpired(ctx, now.Add(-r.window), now)
	if err != nil {
		r.log.Error("retention purge failed", zap.Error(err))
		return 0, err
	}
	metrics.RetentionDeleted.Add(float64(deleted))
	if deleted > 0 {
		r.log.Info("expired notifications purged", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
