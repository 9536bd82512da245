package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

type notificationRepository struct {
	access accessor
	clock  clock.Clock
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	return r.access(ctx, true, func(s *state) error {
		s.nextNotificationID++
		n.ID = s.nextNotificationID
		if n.CreatedOn.IsZero() {
			n.CreatedOn = r.clock.Now()
		}
		c := *n
		c.Attributes = maps.Clone(n.Attributes)
		s.notifications[n.ID] = &c
		return nil
	})
}

func (r *notificationRepository) List(ctx context.Context, userID int32, limit, offset int32) ([]domain.Notification, int32, error) {
	var (
		out   []domain.Notification
		total int32
	)
	err := r.access(ctx, false, func(s *state) error {
		var all []domain.Notification
		for _, n := range s.notifications {
			if n.UserID == userID {
				all = append(all, *n)
			}
		}
		slices.SortFunc(all, func(a, b domain.Notification) int { return cmp.Compare(b.ID, a.ID) })
		total = int32(len(all))
		if offset >= total {
			return nil
		}
		end := total
		if limit > 0 && offset+limit < total {
			end = offset + limit
		}
		out = all[offset:end]
		return nil
	})
	return out, total, err
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id, userID int32) error {
	return r.access(ctx, true, func(s *state) error {
		n, ok := s.notifications[id]
		if !ok || n.UserID != userID {
			return repository.ErrNotFound
		}
		c := *n
		c.IsRead = true
		s.notifications[id] = &c
		return nil
	})
}
