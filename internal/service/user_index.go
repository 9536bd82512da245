package service

import (
	"context"

	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

// UserIndex maintains the per-user id sets. Every mutation is idempotent.
type UserIndex struct {
	users repository.UserRepository
}

func NewUserIndex(users repository.UserRepository) *UserIndex {
	return &UserIndex{users: users}
}

func (x *UserIndex) MarkSent(ctx context.Context, userID, requestID int32) error {
	return x.users.AddToIndex(ctx, userID, domain.IndexBorrowRequestsSent, requestID)
}

func (x *UserIndex) UnmarkSent(ctx context.Context, userID, requestID int32) error {
	return x.users.RemoveFromIndex(ctx, userID, domain.IndexBorrowRequestsSent, requestID)
}

func (x *UserIndex) MarkReceived(ctx context.Context, userID, requestID int32) error {
	return x.users.AddToIndex(ctx, userID, domain.IndexBorrowRequestsReceived, requestID)
}

func (x *UserIndex) UnmarkReceived(ctx context.Context, userID, requestID int32) error {
	return x.users.RemoveFromIndex(ctx, userID, domain.IndexBorrowRequestsReceived, requestID)
}

func (x *UserIndex) MarkEnlisted(ctx context.Context, userID, bookID int32) error {
	return x.users.AddToIndex(ctx, userID, domain.IndexBooksEnlisted, bookID)
}

func (x *UserIndex) UnmarkEnlisted(ctx context.Context, userID, bookID int32) error {
	return x.users.RemoveFromIndex(ctx, userID, domain.IndexBooksEnlisted, bookID)
}

func (x *UserIndex) MarkOwned(ctx context.Context, userID, bookID int32) error {
	return x.users.AddToIndex(ctx, userID, domain.IndexBooksOwned, bookID)
}

func (x *UserIndex) UnmarkOwned(ctx context.Context, userID, bookID int32) error {
	return x.users.RemoveFromIndex(ctx, userID, domain.IndexBooksOwned, bookID)
}

// MarkRequest adds a new request to its requester's sent set and its owner's received set.
func (x *UserIndex) MarkRequest(ctx context.Context, req *domain.BorrowRequest) error {
	if err := x.MarkSent(ctx, req.RequesterID, req.ID); err != nil {
		return err
	}
	return x.MarkReceived(ctx, req.OwnerID, req.ID)
}

// UnmarkRequest removes a resolved request from both parties' sets, using the
// owner snapshot stored on the request rather than the book's current owner.
func (x *UserIndex) UnmarkRequest(ctx context.Context, req *domain.BorrowRequest) error {
	if err := x.UnmarkSent(ctx, req.RequesterID, req.ID); err != nil {
		return err
	}
	return x.UnmarkReceived(ctx, req.OwnerID, req.ID)
}

// MoveOwnership takes the book off from's enlisted and private holdings and
// adds it to to's owned set.
func (x *UserIndex) MoveOwnership(ctx context.Context, from, to, bookID int32) error {
	if err := x.UnmarkEnlisted(ctx, from, bookID); err != nil {
		return err
	}
	if err := x.UnmarkOwned(ctx, from, bookID); err != nil {
		return err
	}
	return x.MarkOwned(ctx, to, bookID)
}
