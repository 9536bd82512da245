package memory

import (
	"cmp"
	"context"
	"slices"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
)

type noteRepository struct {
	access accessor
	clock  clock.Clock
}

func (r *noteRepository) Create(ctx context.Context, n *domain.Note) error {
	return r.access(ctx, true, func(s *state) error {
		s.nextNoteID++
		n.ID = s.nextNoteID
		if n.CreatedOn.IsZero() {
			n.CreatedOn = r.clock.Now()
		}
		c := *n
		s.notes[n.ID] = &c
		return nil
	})
}

func (r *noteRepository) ListByBook(ctx context.Context, bookID int32) ([]domain.Note, error) {
	var out []domain.Note
	err := r.access(ctx, false, func(s *state) error {
		for _, n := range s.notes {
			if n.BookID == bookID {
				out = append(out, *n)
			}
		}
		slices.SortFunc(out, func(a, b domain.Note) int { return cmp.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}
