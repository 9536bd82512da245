package jobs

import (
	"context"
	"errors"

	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/service"
)

const JobExpireBorrowRequests = "expire-borrow-requests"

// ExpireBorrowRequests rejects borrow requests that stayed pending past the
// configured TTL and re-enlists books left without pending requests.
func (jr *JobRunner) ExpireBorrowRequests() error {
	return jr.runWithRecovery("ExpireBorrowRequests", func(ctx context.Context) error {
		res, err := jr.sweeper.Sweep(ctx)
		if errors.Is(err, service.ErrSweepInProgress) {
			logger.Info("Previous expiry sweep still running, skipping tick")
			return nil
		}
		if err != nil {
			return err
		}

		logger.Info("Expired stale borrow requests",
			"run_id", res.RunID,
			"cutoff", res.Cutoff,
			"expired", res.Expired,
			"skipped", res.Skipped,
			"failed", res.Failed)
		if res.Failed > 0 {
			logger.Warn("Some borrow requests could not be expired and will be retried next tick", "failed", res.Failed)
		}
		return nil
	})
}

// runExpireBorrowRequests adapts ExpireBorrowRequests to cron's func() signature.
func (jr *JobRunner) runExpireBorrowRequests() {
	_ = jr.ExpireBorrowRequests()
}

// CronFuncs lists the jobs the scheduler registers.
func (jr *JobRunner) CronFuncs() []CronJob {
	return []CronJob{
		{Name: "ExpireBorrowRequests", Spec: jr.config.Scheduler.ExpireBorrowRequests, Run: jr.runExpireBorrowRequests},
	}
}

// CronJob is one job registered with the scheduler.
type CronJob struct {
	Name string
	Spec string
	Run  func()
}
