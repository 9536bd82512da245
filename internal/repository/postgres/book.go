package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"

	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/repository"
)

const bookColumns = `id, title, author, genre, publication_year, status, enlisted, current_owner_id, previous_owner_ids, note_ids, version, created_on, updated_on`

type bookRepository struct {
	db DBTX
}

func NewBookRepository(db DBTX) repository.BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(ctx context.Context, b *domain.Book) error {
	query := `INSERT INTO books (title, author, genre, publication_year, status, enlisted, current_owner_id, previous_owner_ids, note_ids, version, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10) RETURNING id`
	now := time.Now().UTC()
	logger.DatabaseCall("INSERT", "books", "ownerID", b.CurrentOwnerID)
	err := r.db.QueryRowContext(ctx, query, b.Title, b.Author, b.Genre, b.PublicationYear, b.Status, b.Enlisted,
		b.CurrentOwnerID, toInt64s(b.PreviousOwnerIDs), toInt64s(b.NoteIDs), now).Scan(&b.ID)
	logger.DatabaseResult("INSERT", 1, err, "bookID", b.ID)
	if err != nil {
		return mapError(err)
	}
	b.Version = 1
	b.CreatedOn = now
	b.UpdatedOn = now
	return nil
}

func (r *bookRepository) GetByID(ctx context.Context, id int32) (*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	b, err := scanBook(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return b, nil
}

func (r *bookRepository) Update(ctx context.Context, b *domain.Book) error {
	query := `UPDATE books SET title=$1, author=$2, genre=$3, publication_year=$4, status=$5, enlisted=$6,
	          current_owner_id=$7, previous_owner_ids=$8, note_ids=$9, version=version+1, updated_on=$10
	          WHERE id=$11 AND version=$12`
	now := time.Now().UTC()
	logger.DatabaseCall("UPDATE", "books", "bookID", b.ID, "version", b.Version)
	res, err := r.db.ExecContext(ctx, query, b.Title, b.Author, b.Genre, b.PublicationYear, b.Status, b.Enlisted,
		b.CurrentOwnerID, toInt64s(b.PreviousOwnerIDs), toInt64s(b.NoteIDs), now, b.ID, b.Version)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "bookID", b.ID)
		return mapError(err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, err, "bookID", b.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("book %d at version %d: %w", b.ID, b.Version, repository.ErrConcurrencyConflict)
	}
	b.Version++
	b.UpdatedOn = now
	return nil
}

func (r *bookRepository) ListByOwnerUsername(ctx context.Context, username string) ([]domain.Book, error) {
	query := `SELECT b.id, b.title, b.author, b.genre, b.publication_year, b.status, b.enlisted, b.current_owner_id,
	          b.previous_owner_ids, b.note_ids, b.version, b.created_on, b.updated_on
	          FROM books b JOIN users u ON u.id = b.current_owner_id
	          WHERE u.username = $1 ORDER BY b.id`
	return r.list(ctx, query, username)
}

func (r *bookRepository) ListByStatus(ctx context.Context, status domain.BookStatus) ([]domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE status = $1 ORDER BY id`
	return r.list(ctx, query, status)
}

// Search builds its WHERE clause from the non-zero filter fields. Text
// comparisons are case-insensitive.
func (r *bookRepository) Search(ctx context.Context, f domain.BookFilter) ([]domain.Book, error) {
	query, args, err := searchQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}
	return r.list(ctx, query, args...)
}

func searchQuery(f domain.BookFilter) (string, []any, error) {
	var where []exp.Expression
	if f.Status != "" {
		where = append(where, goqu.I("b.status").Eq(string(f.Status)))
	}
	if f.Enlisted != nil {
		where = append(where, goqu.I("b.enlisted").Eq(*f.Enlisted))
	}
	if f.Genre != "" {
		where = append(where, goqu.I("b.genre").Eq(string(f.Genre)))
	}
	for _, c := range []struct{ col, val string }{
		{"b.author", f.Author},
		{"u.username", f.OwnerUsername},
		{"u.state", f.State},
		{"u.country", f.Country},
		{"u.area", f.Area},
		{"u.city", f.City},
		{"u.pincode", f.Pincode},
	} {
		if c.val != "" {
			where = append(where, goqu.Func("LOWER", goqu.I(c.col)).Eq(strings.ToLower(c.val)))
		}
	}

	cols := make([]any, 0, 13)
	for _, c := range strings.Split(bookColumns, ", ") {
		cols = append(cols, goqu.I("b."+c))
	}
	ds := goqu.Dialect("postgres").
		From(goqu.T("books").As("b")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("b.current_owner_id")))).
		Select(cols...).
		Where(where...).
		Order(goqu.I("b.id").Asc()).
		Prepared(true)
	return ds.ToSQL()
}

func (r *bookRepository) list(ctx context.Context, query string, args ...any) ([]domain.Book, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var books []domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*domain.Book, error) {
	var (
		b              domain.Book
		previousOwners pq.Int64Array
		notes          pq.Int64Array
	)
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Genre, &b.PublicationYear, &b.Status, &b.Enlisted, &b.CurrentOwnerID,
		&previousOwners, &notes, &b.Version, &b.CreatedOn, &b.UpdatedOn)
	if err != nil {
		return nil, err
	}
	b.PreviousOwnerIDs = toInt32s(previousOwners)
	b.NoteIDs = toInt32s(notes)
	return &b, nil
}

