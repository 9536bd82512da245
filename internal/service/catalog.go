package service

import (
	"context"
	"errors"

	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/repository"
)

// BookCatalog owns book records. Its mutators change state only; atomicity
// belongs to the caller's unit of work.
type BookCatalog struct {
	books repository.BookRepository
}

func NewBookCatalog(books repository.BookRepository) *BookCatalog {
	return &BookCatalog{books: books}
}

func (c *BookCatalog) GetBook(ctx context.Context, id int32) (*domain.Book, error) {
	b, err := c.books.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf(apperrors.ReasonBookNotFound, "book %d not found", id)
	}
	return b, err
}

func (c *BookCatalog) Create(ctx context.Context, b *domain.Book) error {
	return c.books.Create(ctx, b)
}

// Enlist opens the book for new borrow requests.
func (c *BookCatalog) Enlist(ctx context.Context, b *domain.Book, owner *domain.User) error {
	if b.CurrentOwnerID != owner.ID {
		return apperrors.Conflictf(apperrors.ReasonNotOwner, "%s does not own book %d", owner.Username, b.ID)
	}
	if b.Status == domain.BookStatusAvailable && b.Enlisted {
		return apperrors.Conflictf(apperrors.ReasonAlreadyEnlisted, "book %d is already enlisted", b.ID)
	}
	b.Status = domain.BookStatusAvailable
	b.Enlisted = true
	return c.books.Update(ctx, b)
}

// TransferOwnership records from as a previous owner and hands the book to to.
func (c *BookCatalog) TransferOwnership(ctx context.Context, b *domain.Book, from, to int32) error {
	b.PreviousOwnerIDs = append(b.PreviousOwnerIDs, from)
	b.CurrentOwnerID = to
	b.Status = domain.BookStatusBorrowed
	b.Enlisted = false
	return c.books.Update(ctx, b)
}

// SetEnlisted flips the enlisted flag. Writing the row also bumps its version,
// which is what serializes concurrent operations on one book.
func (c *BookCatalog) SetEnlisted(ctx context.Context, b *domain.Book, enlisted bool) error {
	b.Enlisted = enlisted
	return c.books.Update(ctx, b)
}

// Touch rewrites the book unchanged so the unit of work bumps its version.
func (c *BookCatalog) Touch(ctx context.Context, b *domain.Book) error {
	return c.books.Update(ctx, b)
}

// AttachNote records a note id returned by the notes collaborator.
func (c *BookCatalog) AttachNote(ctx context.Context, b *domain.Book, noteID int32) error {
	b.NoteIDs = append(b.NoteIDs, noteID)
	return c.books.Update(ctx, b)
}

func (c *BookCatalog) ListByOwnerUsername(ctx context.Context, username string) ([]domain.Book, error) {
	return c.books.ListByOwnerUsername(ctx, username)
}

func (c *BookCatalog) ListByStatus(ctx context.Context, status domain.BookStatus) ([]domain.Book, error) {
	return c.books.ListByStatus(ctx, status)
}

func (c *BookCatalog) Search(ctx context.Context, filter domain.BookFilter) ([]domain.Book, error) {
	return c.books.Search(ctx, filter)
}
