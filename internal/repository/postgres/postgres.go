package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
)

//go:embed schema.sql
var schema string

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	repository.BookRepository
	repository.BorrowRequestRepository
	repository.UserRepository
	repository.NoteRepository
	repository.NotificationRepository
}

func NewStore(db *sql.DB) *Store {
	repos := reposFor(db)
	return &Store{
		db:                      db,
		BookRepository:          repos.Books,
		BorrowRequestRepository: repos.Requests,
		UserRepository:          repos.Users,
		NoteRepository:          repos.Notes,
		NotificationRepository:  repos.Notifications,
	}
}

func reposFor(q DBTX) repository.Repositories {
	return repository.Repositories{
		Books:         NewBookRepository(q),
		Requests:      NewBorrowRequestRepository(q),
		Users:         NewUserRepository(q),
		Notes:         NewNoteRepository(q),
		Notifications: NewNotificationRepository(q),
	}
}

func (s *Store) Repos() repository.Repositories {
	return repository.Repositories{
		Books:         s.BookRepository,
		Requests:      s.BorrowRequestRepository,
		Users:         s.UserRepository,
		Notes:         s.NoteRepository,
		Notifications: s.NotificationRepository,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. Lost updates are caught by
// the version columns on books and borrow_requests rather than by isolation level.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapError(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, reposFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	logger.DatabaseCall("DDL", "schema")
	_, err := db.ExecContext(ctx, schema)
	logger.DatabaseResult("DDL", 0, err)
	return err
}

// Postgres error codes that mean "another writer got there first".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrConcurrencyConflict, pqErr.Message)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pqErr.Message)
		}
	}
	return err
}

func toInt64s(ids []int32) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toInt32s(a pq.Int64Array) []int32 {
	out := make([]int32, len(a))
	for i, v := range a {
		out[i] = int32(v)
	}
	return out
}
