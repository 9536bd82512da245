package postgres

import (
	"context"
	"time"

	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

type noteRepository struct {
	db DBTX
}

func NewNoteRepository(db DBTX) repository.NoteRepository {
	return &noteRepository{db: db}
}

func (r *noteRepository) Create(ctx context.Context, n *domain.Note) error {
	query := `INSERT INTO notes (book_id, author_user_id, content, custom_title, created_on)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if n.CreatedOn.IsZero() {
		n.CreatedOn = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, query, n.BookID, n.AuthorUserID, n.Content, n.CustomTitle, n.CreatedOn).Scan(&n.ID)
	return mapError(err)
}

func (r *noteRepository) ListByBook(ctx context.Context, bookID int32) ([]domain.Note, error) {
	query := `SELECT id, book_id, author_user_id, content, custom_title, created_on FROM notes WHERE book_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, bookID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.BookID, &n.AuthorUserID, &n.Content, &n.CustomTitle, &n.CreatedOn); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
