package service

import (
	"context"
	"errors"
	"time"

	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/repository"
)

// BorrowLedger owns borrow requests: creation, one-way resolution and FIFO lookup.
type BorrowLedger struct {
	requests repository.BorrowRequestRepository
}

func NewBorrowLedger(requests repository.BorrowRequestRepository) *BorrowLedger {
	return &BorrowLedger{requests: requests}
}

// Create places a PENDING request. ownerID is the owner snapshot and never changes afterwards.
func (l *BorrowLedger) Create(ctx context.Context, bookID, requesterID, ownerID int32, now time.Time) (*domain.BorrowRequest, error) {
	req := &domain.BorrowRequest{
		BookID:      bookID,
		RequesterID: requesterID,
		OwnerID:     ownerID,
		RequestDate: now,
		Status:      domain.BorrowRequestStatusPending,
	}
	if err := l.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (l *BorrowLedger) Get(ctx context.Context, id int32) (*domain.BorrowRequest, error) {
	req, err := l.requests.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf(apperrors.ReasonRequestNotFound, "borrow request %d not found", id)
	}
	return req, err
}

// FindEarliestPendingFor returns the first-placed pending request for the triple.
func (l *BorrowLedger) FindEarliestPendingFor(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error) {
	req, err := l.requests.FindEarliestPending(ctx, bookID, requesterID, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf(apperrors.ReasonRequestNotFound,
			"no pending request on book %d from user %d to user %d", bookID, requesterID, ownerID)
	}
	return req, err
}

// FindLatestFor returns the most recently placed request for the triple in any status.
func (l *BorrowLedger) FindLatestFor(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error) {
	sent, err := l.requests.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	for i := range sent {
		if sent[i].BookID == bookID && sent[i].OwnerID == ownerID {
			return &sent[i], nil
		}
	}
	return nil, apperrors.NotFoundf(apperrors.ReasonRequestNotFound,
		"no request on book %d from user %d to user %d", bookID, requesterID, ownerID)
}

func (l *BorrowLedger) FindAllPending(ctx context.Context, bookID int32) ([]domain.BorrowRequest, error) {
	return l.requests.ListPendingByBook(ctx, bookID)
}

func (l *BorrowLedger) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.BorrowRequest, error) {
	return l.requests.ListPendingOlderThan(ctx, cutoff)
}

// Resolve moves a PENDING request to status. Any other starting state reports
// ALREADY_RESOLVED and writes nothing.
func (l *BorrowLedger) Resolve(ctx context.Context, req *domain.BorrowRequest, status domain.BorrowRequestStatus, reason domain.ResolutionReason, now time.Time) error {
	if !req.IsPending() {
		return apperrors.Conflictf(apperrors.ReasonAlreadyResolved, "borrow request %d is already %s", req.ID, req.Status)
	}
	if !req.Resolvable(status) {
		return apperrors.Validationf("cannot resolve borrow request to %s", status)
	}
	req.Status = status
	req.ResolutionReason = reason
	req.ResolvedOn = &now
	return l.requests.Update(ctx, req)
}

func (l *BorrowLedger) ListSentBy(ctx context.Context, userID int32) ([]domain.BorrowRequest, error) {
	return l.requests.ListByRequester(ctx, userID)
}

func (l *BorrowLedger) ListReceivedBy(ctx context.Context, userID int32) ([]domain.BorrowRequest, error) {
	return l.requests.ListByOwner(ctx, userID)
}
