package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
)

const borrowRequestColumns = `id, book_id, requester_id, owner_id, request_date, status, resolution_reason, resolved_on, version`

type borrowRequestRepository struct {
	db DBTX
}

func NewBorrowRequestRepository(db DBTX) repository.BorrowRequestRepository {
	return &borrowRequestRepository{db: db}
}

func (r *borrowRequestRepository) Create(ctx context.Context, req *domain.BorrowRequest) error {
	query := `INSERT INTO borrow_requests (book_id, requester_id, owner_id, request_date, status, version)
	          VALUES ($1, $2, $3, $4, $5, 1) RETURNING id`
	logger.DatabaseCall("INSERT", "borrow_requests", "bookID", req.BookID, "requesterID", req.RequesterID)
	err := r.db.QueryRowContext(ctx, query, req.BookID, req.RequesterID, req.OwnerID, req.RequestDate, req.Status).Scan(&req.ID)
	logger.DatabaseResult("INSERT", 1, err, "requestID", req.ID)
	if err != nil {
		return mapError(err)
	}
	req.Version = 1
	return nil
}

func (r *borrowRequestRepository) GetByID(ctx context.Context, id int32) (*domain.BorrowRequest, error) {
	query := `SELECT ` + borrowRequestColumns + ` FROM borrow_requests WHERE id = $1`
	req, err := scanBorrowRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return req, nil
}

func (r *borrowRequestRepository) Update(ctx context.Context, req *domain.BorrowRequest) error {
	query := `UPDATE borrow_requests SET status=$1, resolution_reason=$2, resolved_on=$3, version=version+1
	          WHERE id=$4 AND version=$5`
	reason := sql.NullString{String: string(req.ResolutionReason), Valid: req.ResolutionReason != ""}
	var resolvedOn sql.NullTime
	if req.ResolvedOn != nil {
		resolvedOn = sql.NullTime{Time: *req.ResolvedOn, Valid: true}
	}

	logger.DatabaseCall("UPDATE", "borrow_requests", "requestID", req.ID, "status", req.Status)
	res, err := r.db.ExecContext(ctx, query, req.Status, reason, resolvedOn, req.ID, req.Version)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "requestID", req.ID)
		return mapError(err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, err, "requestID", req.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("borrow request %d at version %d: %w", req.ID, req.Version, repository.ErrConcurrencyConflict)
	}
	req.Version++
	return nil
}

func (r *borrowRequestRepository) FindEarliestPending(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error) {
	query := `SELECT ` + borrowRequestColumns + ` FROM borrow_requests
	          WHERE book_id = $1 AND requester_id = $2 AND owner_id = $3 AND status = 'PENDING'
	          ORDER BY request_date ASC, id ASC LIMIT 1`
	req, err := scanBorrowRequest(r.db.QueryRowContext(ctx, query, bookID, requesterID, ownerID))
	if err != nil {
		return nil, mapError(err)
	}
	return req, nil
}

func (r *borrowRequestRepository) ListPendingByBook(ctx context.Context, bookID int32) ([]domain.BorrowRequest, error) {
	query := `SELECT ` + borrowRequestColumns + ` FROM borrow_requests
	          WHERE book_id = $1 AND status = 'PENDING' ORDER BY request_date ASC, id ASC`
	return r.list(ctx, query, bookID)
}

func (r *borrowRequestRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.BorrowRequest, error) {
	query := `SELECT ` + borrowRequestColumns + ` FROM borrow_requests
	          WHERE status = 'PENDING' AND request_date < $1 ORDER BY request_date ASC, id ASC`
	return r.list(ctx, query, cutoff)
}

func (r *borrowRequestRepository) ListByRequester(ctx context.Context, requesterID int32) ([]domain.BorrowRequest, error) {
	query := `SELECT ` + borrowRequestColumns + ` FROM borrow_requests
	          WHERE requester_id = $1 ORDER BY request_date DESC, id DESC`
	return r.list(ctx, query, requesterID)
}

func (r *borrowRequestRepository) ListByOwner(ctx context.Context, ownerID int32) ([]domain.BorrowRequest, error) {
	query := `SELECT ` + borrowRequestColumns + ` FROM borrow_requests
	          WHERE owner_id = $1 ORDER BY request_date DESC, id DESC`
	return r.list(ctx, query, ownerID)
}

func (r *borrowRequestRepository) list(ctx context.Context, query string, args ...any) ([]domain.BorrowRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.BorrowRequest
	for rows.Next() {
		req, err := scanBorrowRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanBorrowRequest(row rowScanner) (*domain.BorrowRequest, error) {
	var (
		req        domain.BorrowRequest
		reason     sql.NullString
		resolvedOn sql.NullTime
	)
	err := row.Scan(&req.ID, &req.BookID, &req.RequesterID, &req.OwnerID, &req.RequestDate, &req.Status, &reason, &resolvedOn, &req.Version)
	if err != nil {
		return nil, err
	}
	req.ResolutionReason = domain.ResolutionReason(reason.String)
	if resolvedOn.Valid {
		t := resolvedOn.Time
		req.ResolvedOn = &t
	}
	return &req, nil
}
