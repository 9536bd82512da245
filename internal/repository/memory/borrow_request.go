package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

type borrowRequestRepository struct {
	access accessor
}

func (r *borrowRequestRepository) Create(ctx context.Context, req *domain.BorrowRequest) error {
	return r.access(ctx, true, func(s *state) error {
		s.nextRequestID++
		req.ID = s.nextRequestID
		req.Version = 1
		s.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *borrowRequestRepository) GetByID(ctx context.Context, id int32) (*domain.BorrowRequest, error) {
	var out *domain.BorrowRequest
	err := r.access(ctx, false, func(s *state) error {
		req, ok := s.requests[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = req.Clone()
		return nil
	})
	return out, err
}

func (r *borrowRequestRepository) Update(ctx context.Context, req *domain.BorrowRequest) error {
	return r.access(ctx, true, func(s *state) error {
		cur, ok := s.requests[req.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if cur.Version != req.Version {
			return repository.ErrConcurrencyConflict
		}
		req.Version++
		s.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *borrowRequestRepository) FindEarliestPending(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error) {
	var out *domain.BorrowRequest
	err := r.access(ctx, false, func(s *state) error {
		matches := collectRequests(s, oldestFirst, func(req *domain.BorrowRequest) bool {
			return req.IsPending() && req.BookID == bookID && req.RequesterID == requesterID && req.OwnerID == ownerID
		})
		if len(matches) == 0 {
			return repository.ErrNotFound
		}
		out = &matches[0]
		return nil
	})
	return out, err
}

func (r *borrowRequestRepository) ListPendingByBook(ctx context.Context, bookID int32) ([]domain.BorrowRequest, error) {
	var out []domain.BorrowRequest
	err := r.access(ctx, false, func(s *state) error {
		out = collectRequests(s, oldestFirst, func(req *domain.BorrowRequest) bool {
			return req.IsPending() && req.BookID == bookID
		})
		return nil
	})
	return out, err
}

func (r *borrowRequestRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.BorrowRequest, error) {
	var out []domain.BorrowRequest
	err := r.access(ctx, false, func(s *state) error {
		out = collectRequests(s, oldestFirst, func(req *domain.BorrowRequest) bool {
			return req.IsPending() && req.RequestDate.Before(cutoff)
		})
		return nil
	})
	return out, err
}

func (r *borrowRequestRepository) ListByRequester(ctx context.Context, requesterID int32) ([]domain.BorrowRequest, error) {
	var out []domain.BorrowRequest
	err := r.access(ctx, false, func(s *state) error {
		out = collectRequests(s, newestFirst, func(req *domain.BorrowRequest) bool { return req.RequesterID == requesterID })
		return nil
	})
	return out, err
}

func (r *borrowRequestRepository) ListByOwner(ctx context.Context, ownerID int32) ([]domain.BorrowRequest, error) {
	var out []domain.BorrowRequest
	err := r.access(ctx, false, func(s *state) error {
		out = collectRequests(s, newestFirst, func(req *domain.BorrowRequest) bool { return req.OwnerID == ownerID })
		return nil
	})
	return out, err
}

func oldestFirst(a, b domain.BorrowRequest) int {
	if c := a.RequestDate.Compare(b.RequestDate); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func newestFirst(a, b domain.BorrowRequest) int {
	return oldestFirst(b, a)
}

func collectRequests(s *state, order func(a, b domain.BorrowRequest) int, keep func(*domain.BorrowRequest) bool) []domain.BorrowRequest {
	var out []domain.BorrowRequest
	for _, req := range s.requests {
		if keep(req) {
			out = append(out, *req.Clone())
		}
	}
	slices.SortFunc(out, order)
	return out
}
