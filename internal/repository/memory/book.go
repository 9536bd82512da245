package memory

import (
	"cmp"
	"context"
	"slices"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

type bookRepository struct {
	access accessor
	clock  clock.Clock
}

func (r *bookRepository) Create(ctx context.Context, b *domain.Book) error {
	return r.access(ctx, true, func(s *state) error {
		s.nextBookID++
		now := r.clock.Now()
		b.ID = s.nextBookID
		b.Version = 1
		b.CreatedOn = now
		b.UpdatedOn = now
		s.books[b.ID] = b.Clone()
		return nil
	})
}

func (r *bookRepository) GetByID(ctx context.Context, id int32) (*domain.Book, error) {
	var out *domain.Book
	err := r.access(ctx, false, func(s *state) error {
		b, ok := s.books[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = b.Clone()
		return nil
	})
	return out, err
}

func (r *bookRepository) Update(ctx context.Context, b *domain.Book) error {
	return r.access(ctx, true, func(s *state) error {
		cur, ok := s.books[b.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if cur.Version != b.Version {
			return repository.ErrConcurrencyConflict
		}
		b.Version++
		b.UpdatedOn = r.clock.Now()
		b.CreatedOn = cur.CreatedOn
		s.books[b.ID] = b.Clone()
		return nil
	})
}

func (r *bookRepository) ListByOwnerUsername(ctx context.Context, username string) ([]domain.Book, error) {
	var out []domain.Book
	err := r.access(ctx, false, func(s *state) error {
		ownerID, ok := s.usernames[username]
		if !ok {
			return nil
		}
		out = collectBooks(s, func(b *domain.Book) bool { return b.CurrentOwnerID == ownerID })
		return nil
	})
	return out, err
}

func (r *bookRepository) ListByStatus(ctx context.Context, status domain.BookStatus) ([]domain.Book, error) {
	var out []domain.Book
	err := r.access(ctx, false, func(s *state) error {
		out = collectBooks(s, func(b *domain.Book) bool { return b.Status == status })
		return nil
	})
	return out, err
}

func (r *bookRepository) Search(ctx context.Context, filter domain.BookFilter) ([]domain.Book, error) {
	var out []domain.Book
	err := r.access(ctx, false, func(s *state) error {
		out = collectBooks(s, func(b *domain.Book) bool {
			candidate := *b
			if u, ok := s.users[b.CurrentOwnerID]; ok {
				candidate.CurrentOwner = u.Profile()
			}
			return filter.Matches(&candidate)
		})
		return nil
	})
	return out, err
}

// collectBooks returns copies of the matching books ordered by id.
func collectBooks(s *state, keep func(*domain.Book) bool) []domain.Book {
	var out []domain.Book
	for _, b := range s.books {
		if keep(b) {
			out = append(out, *b.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Book) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
