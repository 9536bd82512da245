package memory

import (
	"context"
	"fmt"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

type userRepository struct {
	access accessor
	clock  clock.Clock
}

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	return r.access(ctx, true, func(s *state) error {
		if _, taken := s.usernames[u.Username]; taken {
			return fmt.Errorf("username %q: %w", u.Username, repository.ErrConcurrencyConflict)
		}
		s.nextUserID++
		u.ID = s.nextUserID
		if u.CreatedOn.IsZero() {
			u.CreatedOn = r.clock.Now()
		}
		s.users[u.ID] = u.Clone()
		s.usernames[u.Username] = u.ID
		return nil
	})
}

func (r *userRepository) GetByID(ctx context.Context, id int32) (*domain.User, error) {
	var out *domain.User
	err := r.access(ctx, false, func(s *state) error {
		u, ok := s.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = u.Clone()
		return nil
	})
	return out, err
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var out *domain.User
	err := r.access(ctx, false, func(s *state) error {
		id, ok := s.usernames[username]
		if !ok {
			return repository.ErrNotFound
		}
		out = s.users[id].Clone()
		return nil
	})
	return out, err
}

func (r *userRepository) Update(ctx context.Context, u *domain.User) error {
	return r.access(ctx, true, func(s *state) error {
		cur, ok := s.users[u.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Name = u.Name
		cur.Email = u.Email
		cur.Area = u.Area
		cur.City = u.City
		cur.State = u.State
		cur.Country = u.Country
		cur.Pincode = u.Pincode
		return nil
	})
}

func (r *userRepository) AddToIndex(ctx context.Context, userID int32, kind domain.IndexKind, id int32) error {
	return r.mutateIndex(ctx, userID, kind, func(set *[]int32) { domain.AddToSet(set, id) })
}

func (r *userRepository) RemoveFromIndex(ctx context.Context, userID int32, kind domain.IndexKind, id int32) error {
	return r.mutateIndex(ctx, userID, kind, func(set *[]int32) { domain.RemoveFromSet(set, id) })
}

func (r *userRepository) mutateIndex(ctx context.Context, userID int32, kind domain.IndexKind, fn func(*[]int32)) error {
	return r.access(ctx, true, func(s *state) error {
		u, ok := s.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		set := u.IndexSet(kind)
		if set == nil {
			return fmt.Errorf("unknown index kind %q", kind)
		}
		fn(set)
		return nil
	})
}
