// Package memory is an in-process repository.Store. Every transaction works on a
// private copy of the data set and swaps it in on commit, so a failed unit of
// work leaves nothing behind.
package memory

import (
	"context"
	"sync"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	"shelfshare-backend/internal/repository"
)

type state struct {
	books         map[int32]*domain.Book
	requests      map[int32]*domain.BorrowRequest
	users         map[int32]*domain.User
	usernames     map[string]int32
	notes         map[int32]*domain.Note
	notifications map[int32]*domain.Notification

	nextBookID         int32
	nextRequestID      int32
	nextUserID         int32
	nextNoteID         int32
	nextNotificationID int32
}

func newState() *state {
	return &state{
		books:         make(map[int32]*domain.Book),
		requests:      make(map[int32]*domain.BorrowRequest),
		users:         make(map[int32]*domain.User),
		usernames:     make(map[string]int32),
		notes:         make(map[int32]*domain.Note),
		notifications: make(map[int32]*domain.Notification),
	}
}

func (s *state) clone() *state {
	c := *s
	c.books = make(map[int32]*domain.Book, len(s.books))
	for id, b := range s.books {
		c.books[id] = b.Clone()
	}
	c.requests = make(map[int32]*domain.BorrowRequest, len(s.requests))
	for id, r := range s.requests {
		c.requests[id] = r.Clone()
	}
	c.users = make(map[int32]*domain.User, len(s.users))
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	c.usernames = make(map[string]int32, len(s.usernames))
	for name, id := range s.usernames {
		c.usernames[name] = id
	}
	// Notes and notifications are never modified in place.
	c.notes = make(map[int32]*domain.Note, len(s.notes))
	for id, n := range s.notes {
		c.notes[id] = n
	}
	c.notifications = make(map[int32]*domain.Notification, len(s.notifications))
	for id, n := range s.notifications {
		c.notifications[id] = n
	}
	return &c
}

// accessor runs fn against a data set. write is false for read-only calls.
type accessor func(ctx context.Context, write bool, fn func(*state) error) error

type Store struct {
	clock clock.Clock

	txMu sync.Mutex // held by WithinTx and by direct writes
	mu   sync.RWMutex
	data *state
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{clock: clk, data: newState()}
}

// Repos returns repositories that operate on the committed data set.
// They must not be used from inside WithinTx.
func (s *Store) Repos() repository.Repositories {
	return s.reposFor(s.direct)
}

func (s *Store) direct(ctx context.Context, write bool, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !write {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return fn(s.data)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// WithinTx serializes units of work. fn sees a private copy of the data set
// that replaces the committed one only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	txAccess := func(ctx context.Context, _ bool, fn func(*state) error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(work)
	}
	if err := fn(ctx, s.reposFor(txAccess)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) reposFor(access accessor) repository.Repositories {
	return repository.Repositories{
		Books:         &bookRepository{access: access, clock: s.clock},
		Requests:      &borrowRequestRepository{access: access},
		Users:         &userRepository{access: access, clock: s.clock},
		Notes:         &noteRepository{access: access, clock: s.clock},
		Notifications: &notificationRepository{access: access, clock: s.clock},
	}
}
