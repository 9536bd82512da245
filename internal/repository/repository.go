package repository

import (
	"context"
	"errors"
	"time"

	"shelfshare-backend/internal/domain"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrencyConflict is returned when a versioned write lost a race
	// or the store aborted the transaction for serialization reasons.
	ErrConcurrencyConflict = errors.New("concurrent modification")
)

type BookRepository interface {
	Create(ctx context.Context, book *domain.Book) error
	GetByID(ctx context.Context, id int32) (*domain.Book, error)
	// Update writes every mutable column when book.Version matches the stored
	// version, then increments book.Version.
	Update(ctx context.Context, book *domain.Book) error
	ListByOwnerUsername(ctx context.Context, username string) ([]domain.Book, error)
	ListByStatus(ctx context.Context, status domain.BookStatus) ([]domain.Book, error)
	Search(ctx context.Context, filter domain.BookFilter) ([]domain.Book, error)
}

type BorrowRequestRepository interface {
	Create(ctx context.Context, req *domain.BorrowRequest) error
	GetByID(ctx context.Context, id int32) (*domain.BorrowRequest, error)
	// Update is version-checked like BookRepository.Update.
	Update(ctx context.Context, req *domain.BorrowRequest) error
	// FindEarliestPending returns the oldest PENDING request for the triple,
	// ordered by request date then id. ErrNotFound when none exists.
	FindEarliestPending(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error)
	ListPendingByBook(ctx context.Context, bookID int32) ([]domain.BorrowRequest, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.BorrowRequest, error)
	// ListByRequester and ListByOwner return the most recent requests first.
	ListByRequester(ctx context.Context, requesterID int32) ([]domain.BorrowRequest, error)
	ListByOwner(ctx context.Context, ownerID int32) ([]domain.BorrowRequest, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	// GetByID and GetByUsername load the user's index sets.
	GetByID(ctx context.Context, id int32) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	// Update writes profile fields only; index sets change through AddToIndex and RemoveFromIndex.
	Update(ctx context.Context, user *domain.User) error
	AddToIndex(ctx context.Context, userID int32, kind domain.IndexKind, id int32) error
	RemoveFromIndex(ctx context.Context, userID int32, kind domain.IndexKind, id int32) error
}

type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	ListByBook(ctx context.Context, bookID int32) ([]domain.Note, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, note *domain.Notification) error
	List(ctx context.Context, userID int32, limit, offset int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, id, userID int32) error
}

// Repositories groups the repositories that share one connection or transaction.
type Repositories struct {
	Books         BookRepository
	Requests      BorrowRequestRepository
	Users         UserRepository
	Notes         NoteRepository
	Notifications NotificationRepository
}

// UnitOfWork runs fn against repositories bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Store is a persistence backend: non-transactional repositories for reads plus a UnitOfWork.
type Store interface {
	UnitOfWork
	Repos() Repositories
	Close() error
}
