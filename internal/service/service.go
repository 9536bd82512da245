package service

import (
	"context"
	"time"

	"shelfshare-backend/internal/domain"
)

// NoteInput is an optional note supplied when a book is enlisted or added.
type NoteInput struct {
	Content     string `json:"content"`
	CustomTitle string `json:"custom_title" validate:"max=120"`
}

type NewBookInput struct {
	Title           string           `json:"title" validate:"required,max=255"`
	Author          string           `json:"author" validate:"max=255"`
	Genre           domain.BookGenre `json:"genre"`
	PublicationYear int32            `json:"publication_year" validate:"gte=0"`
	Note            *NoteInput       `json:"note,omitempty"`
}

// LendingService coordinates enlist, borrow, approve, reject and expiry as
// atomic units over books, borrow requests and user indexes. Declined
// operations return a coded *errors.Error and leave no partial writes.
type LendingService interface {
	EnlistBook(ctx context.Context, bookID int32, ownerUsername string, note *NoteInput) (*domain.Book, error)
	AddNewBook(ctx context.Context, input NewBookInput, ownerUsername string) (*domain.Book, error)
	BorrowBook(ctx context.Context, bookID int32, requesterUsername string) (*domain.BorrowRequest, error)
	ApproveBorrowRequest(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.Book, error)
	RejectBorrowRequest(ctx context.Context, bookID, requesterID, ownerID int32) (*domain.BorrowRequest, error)
	// ExpireBorrowRequest rejects a request placed before cutoff and re-enlists
	// its book when no other request is pending.
	ExpireBorrowRequest(ctx context.Context, requestID int32, cutoff time.Time) (*domain.BorrowRequest, error)

	GetBook(ctx context.Context, id int32) (*domain.Book, error)
	GetMyBooks(ctx context.Context, username string) ([]domain.Book, error)
	GetBooksBorrowed(ctx context.Context, username string) ([]domain.Book, error)
	GetAllAvailableBooks(ctx context.Context) ([]domain.Book, error)
	FilterBooks(ctx context.Context, filter domain.BookFilter) ([]domain.Book, error)
	ListSentRequests(ctx context.Context, username string) ([]domain.BorrowRequest, error)
	ListReceivedRequests(ctx context.Context, username string) ([]domain.BorrowRequest, error)
	// PendingOlderThan lists the requests an expiry sweep should consider.
	PendingOlderThan(ctx context.Context, cutoff time.Time) ([]domain.BorrowRequest, error)
}

// NotesCollaborator stores free-text notes about books.
type NotesCollaborator interface {
	Attach(ctx context.Context, bookID, authorUserID int32, content, customTitle string, at time.Time) (int32, error)
}

// NoteReader lists the notes recorded against a book.
type NoteReader interface {
	ListByBook(ctx context.Context, bookID int32) ([]domain.Note, error)
}

// Notifier is told about lending events after they commit. Implementations
// must not block the caller.
type Notifier interface {
	OnBorrowRequestCreated(ctx context.Context, ownerID, requesterID, bookID int32)
	OnBorrowRequestAccepted(ctx context.Context, ownerID, requesterID, bookID int32)
	OnBorrowRequestRejected(ctx context.Context, ownerID, requesterID, bookID int32)
	OnBorrowRequestExpired(ctx context.Context, ownerID, requesterID, bookID int32)
}

type NotificationService interface {
	GetNotifications(ctx context.Context, username string, page, pageSize int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, username string, notificationID int32) error
}

// EmailSender delivers one plain-text message.
type EmailSender interface {
	Send(ctx context.Context, toName, toEmail, subject, body string) error
}
