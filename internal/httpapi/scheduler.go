package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	orderExpirySpec    = "@every 10m"
	limiterCleanupSpec = "@every 1h"
	defaultOrderMaxAge = 24 * time.Hour
	jobTimeout         = time.Minute
)

// Job is one named periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// OrderExpirer cancels stale unpaid orders.
type OrderExpirer interface {
	ExpireStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// KeyCleaner drops idle rate-limit keys.
type KeyCleaner interface {
	Cleanup() int
}

// Scheduler runs Jobs on cron specs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewScheduler registers jobs. One unparsable schedule fails the whole scheduler.
func NewScheduler(jobs []Job, logger *zap.Logger, recorder *metrics.Metrics) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := &Scheduler{cron: cron.New(), logger: logger, metrics: recorder}
	for _, job := range jobs {
		if job.Run == nil {
			return nil, fmt.Errorf("httpapi: job %q has no run function", job.Name)
		}
		if _, err := scheduler.cron.AddFunc(job.Spec, scheduler.wrap(job)); err != nil {
			return nil, fmt.Errorf("httpapi: schedule %q: %w", job.Name, err)
		}
	}
	return scheduler, nil
}

// Start runs the scheduler until ctx is cancelled.
func (scheduler *Scheduler) Start(ctx context.Context) {
	scheduler.cron.Start()
	go func() {
		<-ctx.Done()
		<-scheduler.cron.Stop().Done()
		scheduler.logger.Info("scheduler stopped")
	}()
}

func (scheduler *Scheduler) wrap(job Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		scheduler.runJob(ctx, job)
	}
}

func (scheduler *Scheduler) runJob(ctx context.Context, job Job) {
	started := time.Now()
	err := job.Run(ctx)
	if scheduler.metrics != nil {
		scheduler.metrics.RecordScheduledRun(job.Name, err)
	}
	if err != nil {
		scheduler.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	scheduler.logger.Debug("scheduled job finished", zap.String("job", job.Name), zap.Duration("elapsed", time.Since(started)))
}

// DefaultJobs returns order expiry and limiter cleanup. Nil collaborators are skipped.
func DefaultJobs(orderBook OrderExpirer, maxAge time.Duration, limiter KeyCleaner, logger *zap.Logger) []Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = defaultOrderMaxAge
	}
	jobs := make([]Job, 0, 2)
	if orderBook != nil {
		jobs = append(jobs, Job{Name: "order-expiry", Spec: orderExpirySpec, Run: func(ctx context.Context) error {
			expired, err := orderBook.ExpireStale(ctx, maxAge)
			if expired > 0 {
				logger.Info("stale orders cancelled", zap.Int("count", expired))
			}
			return err
		}})
	}
	if limiter != nil {
		jobs = append(jobs, Job{Name: "ratelimit-cleanup", Spec: limiterCleanupSpec, Run: func(context.Context) error {
			if removed := limiter.Cleanup(); removed > 0 {
				logger.Debug("idle rate limit keys removed", zap.Int("count", removed))
			}
			return nil
		}})
	}
	return jobs
}
