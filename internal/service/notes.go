package service

import (
	"context"
	"strings"
	"time"

	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
)

// NoteService stores notes users write about their books.
type NoteService struct {
	notes repository.NoteRepository
}

func NewNoteService(notes repository.NoteRepository) *NoteService {
	return &NoteService{notes: notes}
}

// Attach stores a note and returns its id. A blank custom title falls back to
// a dated default.
func (s *NoteService) Attach(ctx context.Context, bookID, authorUserID int32, content, customTitle string, at time.Time) (int32, error) {
	logger.EnterMethod("NoteService.Attach", "bookID", bookID, "authorUserID", authorUserID)

	content = strings.TrimSpace(content)
	if content == "" {
		err := apperrors.Validation("note content is empty")
		logger.ExitMethodWithError("NoteService.Attach", err)
		return 0, err
	}
	title := strings.TrimSpace(customTitle)
	if title == "" {
		title = "Note from " + at.Format("2006-01-02")
	}

	n := &domain.Note{
		BookID:       bookID,
		AuthorUserID: authorUserID,
		Content:      content,
		CustomTitle:  title,
		CreatedOn:    at,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		logger.ExitMethodWithError("NoteService.Attach", err, "bookID", bookID)
		return 0, err
	}
	logger.ExitMethod("NoteService.Attach", "noteID", n.ID)
	return n.ID, nil
}

func (s *NoteService) ListByBook(ctx context.Context, bookID int32) ([]domain.Note, error) {
	return s.notes.ListByBook(ctx, bookID)
}
