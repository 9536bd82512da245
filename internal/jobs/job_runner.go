package jobs

import (
	"context"
	"time"

	"shelfshare-backend/internal/config"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/service"
)

// Sweeper expires stale borrow requests.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	sweeper Sweeper
	config  *config.Config
	// jobTimeout bounds a single job run.
	jobTimeout time.Duration
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(sweeper Sweeper, cfg *config.Config) *JobRunner {
	return &JobRunner{
		sweeper:    sweeper,
		config:     cfg,
		jobTimeout: 30 * time.Minute,
	}
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
			err = &PanicError{Job: jobName, Value: r}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.jobTimeout)
	defer cancel()

	logger.Info("Starting job", "job", jobName)
	start := time.Now()
	if err := jobFunc(ctx); err != nil {
		logger.Error("Job failed", "job", jobName, "duration", time.Since(start), "error", err)
		return err
	}
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
	return nil
}

// RunByName runs a single job by its command-line name (for manual execution)
func (jr *JobRunner) RunByName(name string) error {
	switch name {
	case JobExpireBorrowRequests:
		return jr.ExpireBorrowRequests()
	default:
		return &UnknownJobError{Name: name}
	}
}
