package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/repository"
	"shelfshare-backend/internal/repository/memory"
	"shelfshare-backend/internal/service"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	clock    *clock.Manual
	notifier *MockNotifier
	svc      service.LendingService
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	store := memory.NewStore(clk)
	notifier := new(MockNotifier).allowAll()
	return &fixture{
		store:    store,
		clock:    clk,
		notifier: notifier,
		svc:      service.NewLendingService(store, nil, notifier, clk, service.DefaultLendingOptions()),
	}
}

func (f *fixture) user(t testing.TB, username, city string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Name: username, Email: username + "@example.com", City: city, Country: "India"}
	require.NoError(t, f.store.Repos().Users.Create(context.Background(), u))
	return u
}

// ownedBook creates a book held privately by owner, not yet enlisted.
func (f *fixture) ownedBook(t testing.TB, owner *domain.User, title string) *domain.Book {
	t.Helper()
	ctx := context.Background()
	b := &domain.Book{
		Title:          title,
		Author:         "Ursula K. Le Guin",
		Genre:          domain.BookGenreFantasy,
		Status:         domain.BookStatusAvailable,
		CurrentOwnerID: owner.ID,
	}
	require.NoError(t, f.store.Repos().Books.Create(ctx, b))
	require.NoError(t, f.store.Repos().Users.AddToIndex(ctx, owner.ID, domain.IndexBooksOwned, b.ID))
	return b
}

func (f *fixture) book(t testing.TB, id int32) *domain.Book {
	t.Helper()
	b, err := f.store.Repos().Books.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) reload(t testing.TB, u *domain.User) *domain.User {
	t.Helper()
	got, err := f.store.Repos().Users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) request(t testing.TB, id int32) *domain.BorrowRequest {
	t.Helper()
	r, err := f.store.Repos().Requests.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestBorrow_ReservesEnlistedBookWithoutChangingStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "A Wizard of Earthsea")

	enlisted, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookStatusAvailable, enlisted.Status)
	assert.True(t, enlisted.Enlisted)
	assert.Equal(t, []int32{b.ID}, f.reload(t, u).BooksEnlistedForSale)
	assert.Empty(t, f.reload(t, u).BooksOwned)

	r1, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)
	assert.Equal(t, domain.BorrowRequestStatusPending, r1.Status)
	assert.Equal(t, v.ID, r1.RequesterID)
	assert.Equal(t, u.ID, r1.OwnerID)
	assert.Equal(t, epoch, r1.RequestDate)

	got := f.book(t, b.ID)
	assert.False(t, got.Enlisted)
	assert.Equal(t, domain.BookStatusAvailable, got.Status)
	assert.Equal(t, []int32{r1.ID}, f.reload(t, v).BorrowRequestsSent)
	assert.Equal(t, []int32{r1.ID}, f.reload(t, u).BorrowRequestsReceived)

	f.notifier.AssertCalled(t, "OnBorrowRequestCreated", mock.Anything, u.ID, v.ID, b.ID)
}

func TestBorrow_DeclinesSecondRequesterWhileReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	f.user(t, "vera", "Pune")
	w := f.user(t, "wes", "Pune")
	b := f.ownedBook(t, u, "The Dispossessed")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	_, err = f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)
	before := f.book(t, b.ID)

	_, err = f.svc.BorrowBook(ctx, b.ID, "wes")
	assert.ErrorIs(t, err, apperrors.ErrNotEnlisted)
	assert.Equal(t, before.Version, f.book(t, b.ID).Version)
	assert.Empty(t, f.reload(t, w).BorrowRequestsSent)
}

func TestApprove_TransfersOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "The Left Hand of Darkness")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	r1, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	book, err := f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.NoError(t, err)

	assert.Equal(t, v.ID, book.CurrentOwnerID)
	assert.Equal(t, domain.BookStatusBorrowed, book.Status)
	assert.False(t, book.Enlisted)
	assert.Equal(t, []int32{u.ID}, book.PreviousOwnerIDs)

	resolved := f.request(t, r1.ID)
	assert.Equal(t, domain.BorrowRequestStatusAccepted, resolved.Status)
	assert.Equal(t, domain.ResolutionApproved, resolved.ResolutionReason)
	require.NotNil(t, resolved.ResolvedOn)
	assert.Equal(t, epoch.Add(time.Hour), *resolved.ResolvedOn)

	vAfter, uAfter := f.reload(t, v), f.reload(t, u)
	assert.Contains(t, vAfter.BooksOwned, b.ID)
	assert.NotContains(t, uAfter.BooksEnlistedForSale, b.ID)
	assert.Empty(t, vAfter.BorrowRequestsSent)
	assert.Empty(t, uAfter.BorrowRequestsReceived)

	f.notifier.AssertCalled(t, "OnBorrowRequestAccepted", mock.Anything, u.ID, v.ID, b.ID)
}

func TestApprove_CancelsRivalRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	w := f.user(t, "wes", "Pune")
	bystander := f.user(t, "bo", "Pune")
	b := f.ownedBook(t, u, "Tehanu")
	other := f.ownedBook(t, bystander, "Lavinia")

	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	r1, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)
	_, err = f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	r2, err := f.svc.BorrowBook(ctx, b.ID, "wes")
	require.NoError(t, err)

	_, err = f.svc.EnlistBook(ctx, other.ID, "bo", nil)
	require.NoError(t, err)
	r3, err := f.svc.BorrowBook(ctx, other.ID, "wes")
	require.NoError(t, err)

	_, err = f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.BorrowRequestStatusAccepted, f.request(t, r1.ID).Status)
	rival := f.request(t, r2.ID)
	assert.Equal(t, domain.BorrowRequestStatusCancelled, rival.Status)
	assert.Equal(t, domain.ResolutionRivalApproved, rival.ResolutionReason)

	assert.Equal(t, []int32{r3.ID}, f.reload(t, w).BorrowRequestsSent)
	assert.Empty(t, f.reload(t, u).BorrowRequestsReceived)
	assert.Equal(t, []int32{r3.ID}, f.reload(t, bystander).BorrowRequestsReceived)
	assert.Equal(t, domain.BorrowRequestStatusPending, f.request(t, r3.ID).Status)

	f.notifier.AssertCalled(t, "OnBorrowRequestRejected", mock.Anything, u.ID, w.ID, b.ID)
}

func TestApprove_UnmarksRivalAgainstItsOwnerSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	w := f.user(t, "wes", "Pune")
	former := f.user(t, "fern", "Pune")
	b := f.ownedBook(t, u, "The Lathe of Heaven")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	r1, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)

	// A pending request left over from when fern owned the book.
	stale := &domain.BorrowRequest{BookID: b.ID, RequesterID: w.ID, OwnerID: former.ID, RequestDate: epoch.Add(-time.Hour), Status: domain.BorrowRequestStatusPending}
	repos := f.store.Repos()
	require.NoError(t, repos.Requests.Create(ctx, stale))
	require.NoError(t, repos.Users.AddToIndex(ctx, w.ID, domain.IndexBorrowRequestsSent, stale.ID))
	require.NoError(t, repos.Users.AddToIndex(ctx, former.ID, domain.IndexBorrowRequestsReceived, stale.ID))

	_, err = f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.BorrowRequestStatusAccepted, f.request(t, r1.ID).Status)
	assert.Equal(t, domain.BorrowRequestStatusCancelled, f.request(t, stale.ID).Status)
	assert.Empty(t, f.reload(t, former).BorrowRequestsReceived)
	assert.Empty(t, f.reload(t, w).BorrowRequestsSent)
}

func TestApprove_StaleOwnerSnapshotIsNotOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	w := f.user(t, "wes", "Pune")
	former := f.user(t, "fern", "Pune")
	b := f.ownedBook(t, u, "Always Coming Home")

	stale := &domain.BorrowRequest{BookID: b.ID, RequesterID: w.ID, OwnerID: former.ID, RequestDate: epoch, Status: domain.BorrowRequestStatusPending}
	require.NoError(t, f.store.Repos().Requests.Create(ctx, stale))

	_, err := f.svc.ApproveBorrowRequest(ctx, b.ID, w.ID, former.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotOwner)
	assert.Equal(t, domain.BorrowRequestStatusPending, f.request(t, stale.ID).Status)
	assert.Equal(t, u.ID, f.book(t, b.ID).CurrentOwnerID)
}

func TestApprove_SecondCallReportsAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "Rocannon's World")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	_, err = f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)
	_, err = f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.NoError(t, err)

	before := f.book(t, b.ID)
	uBefore, vBefore := f.reload(t, u), f.reload(t, v)

	_, err = f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	_, err = f.svc.RejectBorrowRequest(ctx, b.ID, v.ID, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)

	assert.Equal(t, before, f.book(t, b.ID))
	assert.Equal(t, uBefore, f.reload(t, u))
	assert.Equal(t, vBefore, f.reload(t, v))
}

func TestApprove_UnknownTripleIsRequestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "Planet of Exile")

	_, err := f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrRequestNotFound)

	_, err = f.svc.ApproveBorrowRequest(ctx, 999, v.ID, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)

	_, err = f.svc.ApproveBorrowRequest(ctx, b.ID, 999, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestApprove_DeclinesWhenBookNotAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "City of Illusions")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	r1, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)

	lost := f.book(t, b.ID)
	lost.Status = domain.BookStatusLost
	require.NoError(t, f.store.Repos().Books.Update(ctx, lost))

	_, err = f.svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotAvailable)
	assert.Equal(t, domain.BorrowRequestStatusPending, f.request(t, r1.ID).Status)
}

func TestReject_LeavesBookUnenlisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "The Word for World Is Forest")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	r1, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)

	rejected, err := f.svc.RejectBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, rejected.ID)
	assert.Equal(t, domain.BorrowRequestStatusRejected, rejected.Status)
	assert.Equal(t, domain.ResolutionRejectedByOwner, rejected.ResolutionReason)

	got := f.book(t, b.ID)
	assert.False(t, got.Enlisted)
	assert.Equal(t, domain.BookStatusAvailable, got.Status)
	assert.Empty(t, f.reload(t, v).BorrowRequestsSent)
	assert.Empty(t, f.reload(t, u).BorrowRequestsReceived)
	f.notifier.AssertCalled(t, "OnBorrowRequestRejected", mock.Anything, u.ID, v.ID, b.ID)

	_, err = f.svc.BorrowBook(ctx, b.ID, "vera")
	assert.ErrorIs(t, err, apperrors.ErrNotEnlisted)
}

func TestReject_ResolvesEarliestPendingFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "Gifts")
	repos := f.store.Repos()

	late := &domain.BorrowRequest{BookID: b.ID, RequesterID: v.ID, OwnerID: u.ID, RequestDate: epoch, Status: domain.BorrowRequestStatusPending}
	early := &domain.BorrowRequest{BookID: b.ID, RequesterID: v.ID, OwnerID: u.ID, RequestDate: epoch.Add(-time.Hour), Status: domain.BorrowRequestStatusPending}
	require.NoError(t, repos.Requests.Create(ctx, late))
	require.NoError(t, repos.Requests.Create(ctx, early))

	got, err := f.svc.RejectBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, early.ID, got.ID)
	assert.Equal(t, domain.BorrowRequestStatusPending, f.request(t, late.ID).Status)
}

func TestBorrow_Declines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "Voices")

	tests := []struct {
		name      string
		bookID    int32
		requester string
		want      error
	}{
		{"not enlisted", b.ID, "vera", apperrors.ErrNotEnlisted},
		{"self borrow", b.ID, "uma", apperrors.ErrSelfBorrow},
		{"unknown book", 404, "vera", apperrors.ErrBookNotFound},
		{"unknown requester", b.ID, "nobody", apperrors.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BorrowBook(ctx, tt.bookID, tt.requester)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	f.notifier.AssertNotCalled(t, "OnBorrowRequestCreated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBorrow_DeclinesUnavailableBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "Powers")

	got := f.book(t, b.ID)
	got.Status = domain.BookStatusArchived
	got.Enlisted = true
	require.NoError(t, f.store.Repos().Books.Update(ctx, got))

	_, err := f.svc.BorrowBook(ctx, b.ID, "vera")
	assert.ErrorIs(t, err, apperrors.ErrNotAvailable)
}

func TestEnlist_Declines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "Malafrena")

	_, err := f.svc.EnlistBook(ctx, b.ID, "vera", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotOwner)

	_, err = f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	_, err = f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyEnlisted)

	_, err = f.svc.EnlistBook(ctx, 404, "uma", nil)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func TestEnlist_RestoresArchivedBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	b := f.ownedBook(t, u, "Searoad")
	got := f.book(t, b.ID)
	got.Status = domain.BookStatusArchived
	require.NoError(t, f.store.Repos().Books.Update(ctx, got))

	enlisted, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookStatusAvailable, enlisted.Status)
	assert.True(t, enlisted.Enlisted)
}

func TestAddNewBook(t *testing.T) {
	clk := clock.NewManual(epoch)
	store := memory.NewStore(clk)
	notes := new(MockNotes)
	svc := service.NewLendingService(store, notes, nil, clk, service.DefaultLendingOptions())
	ctx := context.Background()
	u := &domain.User{Username: "uma"}
	require.NoError(t, store.Repos().Users.Create(ctx, u))

	t.Run("WithNote", func(t *testing.T) {
		notes.On("Attach", mock.Anything, mock.AnythingOfType("int32"), u.ID, "Signed copy", "Provenance", epoch).
			Return(int32(42), nil).Once()

		b, err := svc.AddNewBook(ctx, service.NewBookInput{
			Title:  "  The Beginning Place ",
			Author: "Ursula K. Le Guin",
			Genre:  "fantasy",
			Note:   &service.NoteInput{Content: "Signed copy", CustomTitle: "Provenance"},
		}, "uma")
		require.NoError(t, err)
		assert.Equal(t, "The Beginning Place", b.Title)
		assert.Equal(t, domain.BookGenreFantasy, b.Genre)
		assert.Equal(t, domain.BookStatusAvailable, b.Status)
		assert.True(t, b.Enlisted)
		assert.Equal(t, []int32{42}, b.NoteIDs)

		owner, err := store.Repos().Users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Contains(t, owner.BooksEnlistedForSale, b.ID)
	})

	t.Run("NoteFailureIsNotFatal", func(t *testing.T) {
		notes.On("Attach", mock.Anything, mock.AnythingOfType("int32"), u.ID, "lost", "", epoch).
			Return(int32(0), errors.New("notes unavailable")).Once()

		b, err := svc.AddNewBook(ctx, service.NewBookInput{Title: "Orsinian Tales", Note: &service.NoteInput{Content: "lost"}}, "uma")
		require.NoError(t, err)
		assert.Empty(t, b.NoteIDs)
		assert.Equal(t, domain.BookGenreOther, b.Genre)
		assert.True(t, b.Enlisted)
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := svc.AddNewBook(ctx, service.NewBookInput{Title: " "}, "uma")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		_, err = svc.AddNewBook(ctx, service.NewBookInput{Title: "X", Genre: "cookbooks"}, "uma")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		_, err = svc.AddNewBook(ctx, service.NewBookInput{Title: "X", PublicationYear: -1}, "uma")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("ValidationDetails", func(t *testing.T) {
		_, err := svc.AddNewBook(ctx, service.NewBookInput{Title: "\t", PublicationYear: -7}, "uma")
		var appErr *apperrors.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, map[string]string{
			"title":            "is required",
			"publication_year": "must be greater than or equal to 0",
		}, appErr.Details)
	})

	t.Run("WithoutNoteContentSkipsCollaborator", func(t *testing.T) {
		b, err := svc.AddNewBook(ctx, service.NewBookInput{Title: "Searoad"}, "uma")
		require.NoError(t, err)
		assert.Empty(t, b.NoteIDs)

		b, err = svc.AddNewBook(ctx, service.NewBookInput{Title: "Four Ways to Forgiveness", Note: &service.NoteInput{Content: "  ", CustomTitle: "Blank"}}, "uma")
		require.NoError(t, err)
		assert.Empty(t, b.NoteIDs)
		notes.AssertNotCalled(t, "Attach", mock.Anything, b.ID, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("UnknownOwner", func(t *testing.T) {
		_, err := svc.AddNewBook(ctx, service.NewBookInput{Title: "X"}, "nobody")
		assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})

	notes.AssertExpectations(t)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Mumbai")
	b1 := f.ownedBook(t, u, "Earthsea")
	b2 := f.ownedBook(t, u, "Tombs of Atuan")
	_, err := f.svc.EnlistBook(ctx, b1.ID, "uma", nil)
	require.NoError(t, err)
	_, err = f.svc.EnlistBook(ctx, b2.ID, "uma", nil)
	require.NoError(t, err)

	r1, err := f.svc.BorrowBook(ctx, b1.ID, "vera")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	r2, err := f.svc.BorrowBook(ctx, b2.ID, "vera")
	require.NoError(t, err)

	sent, err := f.svc.ListSentRequests(ctx, "vera")
	require.NoError(t, err)
	require.Len(t, sent, 2)
	assert.Equal(t, r2.ID, sent[0].ID)
	assert.Equal(t, r1.ID, sent[1].ID)

	received, err := f.svc.ListReceivedRequests(ctx, "uma")
	require.NoError(t, err)
	assert.Len(t, received, 2)

	_, err = f.svc.ApproveBorrowRequest(ctx, b1.ID, v.ID, u.ID)
	require.NoError(t, err)

	borrowed, err := f.svc.GetBooksBorrowed(ctx, "vera")
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.Equal(t, b1.ID, borrowed[0].ID)

	mine, err := f.svc.GetMyBooks(ctx, "uma")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b2.ID, mine[0].ID)

	available, err := f.svc.GetAllAvailableBooks(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, b2.ID, available[0].ID)

	inMumbai, err := f.svc.FilterBooks(ctx, domain.BookFilter{City: "mumbai"})
	require.NoError(t, err)
	require.Len(t, inMumbai, 1)
	assert.Equal(t, b1.ID, inMumbai[0].ID)

	book, err := f.svc.GetBook(ctx, b1.ID)
	require.NoError(t, err)
	require.NotNil(t, book.CurrentOwner)
	assert.Equal(t, "vera", book.CurrentOwner.Username)

	_, err = f.svc.GetMyBooks(ctx, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	_, err = f.svc.GetBook(ctx, 404)
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

// flakyStore fails every unit of work with err.
type flakyStore struct {
	*memory.Store
	err   error
	calls int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(context.Context, repository.Repositories) error) error {
	s.calls++
	return s.err
}

func TestAtomicUnit_ErrorClassification(t *testing.T) {
	clk := clock.NewManual(epoch)
	opts := service.LendingOptions{MaxAttempts: 3, StoreTimeout: time.Second}

	t.Run("ConflictsExhaustRetries", func(t *testing.T) {
		store := &flakyStore{Store: memory.NewStore(clk), err: repository.ErrConcurrencyConflict}
		svc := service.NewLendingService(store, nil, nil, clk, opts)

		_, err := svc.BorrowBook(context.Background(), 1, "vera")
		assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
		assert.Equal(t, 3, store.calls)

		var appErr *apperrors.Error
		require.True(t, errors.As(err, &appErr))
		assert.True(t, appErr.Retryable())
	})

	t.Run("StoreFailureIsInternal", func(t *testing.T) {
		store := &flakyStore{Store: memory.NewStore(clk), err: errors.New("connection refused")}
		svc := service.NewLendingService(store, nil, nil, clk, opts)

		_, err := svc.BorrowBook(context.Background(), 1, "vera")
		assert.ErrorIs(t, err, apperrors.ErrInternal)
		assert.Equal(t, 1, store.calls)
	})
}

// failingHistory serves every request lookup except the per-requester history,
// which fails like a dropped connection.
type failingHistory struct {
	repository.BorrowRequestRepository
}

func (failingHistory) ListByRequester(context.Context, int32) ([]domain.BorrowRequest, error) {
	return nil, errors.New("connection reset by peer")
}

type historyOutageStore struct {
	*memory.Store
}

func (s historyOutageStore) WithinTx(ctx context.Context, fn func(context.Context, repository.Repositories) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		repos.Requests = failingHistory{repos.Requests}
		return fn(ctx, repos)
	})
}

func TestResolve_HistoryLookupFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "The Eye of the Heron")

	svc := service.NewLendingService(historyOutageStore{f.store}, nil, f.notifier, f.clock,
		service.LendingOptions{MaxAttempts: 3, StoreTimeout: time.Second})

	_, err := svc.ApproveBorrowRequest(ctx, b.ID, v.ID, u.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset by peer")

	_, err = svc.RejectBorrowRequest(ctx, b.ID, v.ID, u.ID)
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.NotErrorIs(t, err, apperrors.ErrRequestNotFound)
}

// conflictOnceStore runs the first unit of work to completion, then reports a
// version conflict so its writes are discarded. Later units commit normally.
type conflictOnceStore struct {
	*memory.Store
	calls atomic.Int32
}

func (s *conflictOnceStore) WithinTx(ctx context.Context, fn func(context.Context, repository.Repositories) error) error {
	first := s.calls.Add(1) == 1
	return s.Store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := fn(ctx, repos); err != nil {
			return err
		}
		if first {
			return repository.ErrConcurrencyConflict
		}
		return nil
	})
}

func TestBorrow_RetryAfterConflictLeavesNoPartialWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	v := f.user(t, "vera", "Pune")
	b := f.ownedBook(t, u, "The Telling")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)

	store := &conflictOnceStore{Store: f.store}
	notifier := new(MockNotifier).allowAll()
	svc := service.NewLendingService(store, nil, notifier, f.clock,
		service.LendingOptions{MaxAttempts: 3, BaseDelay: time.Millisecond, StoreTimeout: time.Second})

	r, err := svc.BorrowBook(ctx, b.ID, "vera")
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.calls.Load())

	pending, err := f.store.Repos().Requests.ListPendingByBook(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r.ID, pending[0].ID)

	sent, err := f.store.Repos().Requests.ListByRequester(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
	assert.Equal(t, []int32{r.ID}, f.reload(t, v).BorrowRequestsSent)
	assert.Equal(t, []int32{r.ID}, f.reload(t, u).BorrowRequestsReceived)
	assert.True(t, f.book(t, b.ID).Reserved())
	notifier.AssertNumberOfCalls(t, "OnBorrowRequestCreated", 1)
}

func TestBorrow_ConcurrentRequestersOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "uma", "Pune")
	b := f.ownedBook(t, u, "Lavinia")
	_, err := f.svc.EnlistBook(ctx, b.ID, "uma", nil)
	require.NoError(t, err)

	const borrowers = 8
	for i := range borrowers {
		f.user(t, fmt.Sprintf("reader%d", i), "Pune")
	}

	var (
		wg       sync.WaitGroup
		won      atomic.Int32
		declined atomic.Int32
		errs     = make(chan error, borrowers)
	)
	for i := range borrowers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := f.svc.BorrowBook(ctx, b.ID, name)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, apperrors.ErrNotEnlisted):
				declined.Add(1)
			default:
				errs <- err
			}
		}(fmt.Sprintf("reader%d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(borrowers-1), declined.Load())

	pending, err := f.store.Repos().Requests.ListPendingByBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Len(t, f.reload(t, u).BorrowRequestsReceived, 1)
}
