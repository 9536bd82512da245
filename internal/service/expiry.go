package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelfshare-backend/internal/clock"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/logger"
)

// ErrSweepInProgress is returned when Sweep is called while another sweep is running.
var ErrSweepInProgress = errors.New("expiry sweep already in progress")

const DefaultRequestTTL = 72 * time.Hour

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	RunID    string
	Cutoff   time.Time
	Found    int
	Expired  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// ExpirySweeper rejects borrow requests that stayed pending longer than the
// TTL. Each request goes through LendingService.ExpireBorrowRequest, the same
// atomic path foreground calls use.
type ExpirySweeper struct {
	lending LendingService
	clock   clock.Clock
	ttl     time.Duration
	running sync.Mutex
}

func NewExpirySweeper(lending LendingService, clk clock.Clock, ttl time.Duration) *ExpirySweeper {
	if clk == nil {
		clk = clock.Real{}
	}
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &ExpirySweeper{lending: lending, clock: clk, ttl: ttl}
}

func (s *ExpirySweeper) TTL() time.Duration {
	return s.ttl
}

// Sweep expires every pending request placed strictly before now minus the TTL.
// Requests resolved concurrently are counted as skipped.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	if !s.running.TryLock() {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	result := SweepResult{
		RunID:  uuid.NewString(),
		Cutoff: s.clock.Now().Add(-s.ttl),
	}
	log := logger.WithComponent("expiry-sweeper").With("runID", result.RunID)
	log.Info("Starting expiry sweep", "cutoff", result.Cutoff, "ttl", s.ttl)

	stale, err := s.lending.PendingOlderThan(ctx, result.Cutoff)
	if err != nil {
		log.Error("Failed to list stale borrow requests", "error", err)
		return result, err
	}
	result.Found = len(stale)

	for _, req := range stale {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		_, err := s.lending.ExpireBorrowRequest(ctx, req.ID, result.Cutoff)
		switch {
		case err == nil:
			result.Expired++
		case apperrors.Is(err, apperrors.ErrAlreadyResolved), apperrors.Is(err, apperrors.ErrNotExpired),
			apperrors.Is(err, apperrors.ErrRequestNotFound):
			result.Skipped++
			log.Debug("Borrow request resolved before expiry", "requestID", req.ID)
		default:
			result.Failed++
			log.Warn("Failed to expire borrow request", "requestID", req.ID, "bookID", req.BookID, "error", err)
		}
	}

	result.Duration = time.Since(start)
	log.Info("Expiry sweep finished",
		"found", result.Found, "expired", result.Expired, "skipped", result.Skipped,
		"failed", result.Failed, "duration", result.Duration)
	return result, nil
}
