package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"shelfshare-backend/internal/clock"
	"shelfshare-backend/internal/domain"
	apperrors "shelfshare-backend/internal/errors"
	"shelfshare-backend/internal/repository/memory"
	"shelfshare-backend/internal/service"
)

// requireDeclinedOrOK fails on anything other than success or a business decline.
func requireDeclinedOrOK(t require.TestingT, err error) {
	if err == nil {
		return
	}
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	require.False(t, appErr.Retryable(), "unexpected failure: %v", err)
}

func TestLendingInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		clk := clock.NewManual(epoch)
		store := memory.NewStore(clk)
		repos := store.Repos()
		svc := service.NewLendingService(store, nil, nil, clk, service.DefaultLendingOptions())
		sweeper := service.NewExpirySweeper(svc, clk, ttl)

		usernames := []string{"uma", "vera", "wes", "xan"}
		var userIDs, bookIDs []int32
		for _, name := range usernames {
			u := &domain.User{Username: name}
			require.NoError(rt, repos.Users.Create(ctx, u))
			userIDs = append(userIDs, u.ID)

			b := &domain.Book{Title: name + "'s book", Status: domain.BookStatusAvailable, CurrentOwnerID: u.ID}
			require.NoError(rt, repos.Books.Create(ctx, b))
			require.NoError(rt, repos.Users.AddToIndex(ctx, u.ID, domain.IndexBooksOwned, b.ID))
			bookIDs = append(bookIDs, b.ID)
		}

		allRequests := func(t *rapid.T) []domain.BorrowRequest {
			var out []domain.BorrowRequest
			for _, id := range userIDs {
				sent, err := repos.Requests.ListByRequester(ctx, id)
				require.NoError(t, err)
				out = append(out, sent...)
			}
			return out
		}
		pending := func(t *rapid.T) []domain.BorrowRequest {
			var out []domain.BorrowRequest
			for _, r := range allRequests(t) {
				if r.IsPending() {
					out = append(out, r)
				}
			}
			if len(out) == 0 {
				t.Skip("no pending requests")
			}
			return out
		}

		rt.Repeat(map[string]func(*rapid.T){
			"enlist": func(t *rapid.T) {
				bookID := rapid.SampledFrom(bookIDs).Draw(t, "book")
				user := rapid.SampledFrom(usernames).Draw(t, "owner")
				_, err := svc.EnlistBook(ctx, bookID, user, nil)
				requireDeclinedOrOK(t, err)
			},
			"borrow": func(t *rapid.T) {
				bookID := rapid.SampledFrom(bookIDs).Draw(t, "book")
				user := rapid.SampledFrom(usernames).Draw(t, "requester")
				_, err := svc.BorrowBook(ctx, bookID, user)
				requireDeclinedOrOK(t, err)
			},
			"approve": func(t *rapid.T) {
				r := rapid.SampledFrom(pending(t)).Draw(t, "request")
				_, err := svc.ApproveBorrowRequest(ctx, r.BookID, r.RequesterID, r.OwnerID)
				requireDeclinedOrOK(t, err)
			},
			"reject": func(t *rapid.T) {
				r := rapid.SampledFrom(pending(t)).Draw(t, "request")
				_, err := svc.RejectBorrowRequest(ctx, r.BookID, r.RequesterID, r.OwnerID)
				requireDeclinedOrOK(t, err)
			},
			"advance": func(t *rapid.T) {
				clk.Advance(rapid.SampledFrom([]time.Duration{time.Hour, 24 * time.Hour, 48 * time.Hour}).Draw(t, "elapsed"))
			},
			"sweep": func(t *rapid.T) {
				before := pendingCutoffCount(t, allRequests(t), clk.Now().Add(-ttl))
				res, err := sweeper.Sweep(ctx)
				require.NoError(t, err)
				require.Equal(t, before, res.Expired, "every stale request expires")
				require.Zero(t, res.Failed)
			},
			"": func(t *rapid.T) {
				requests := allRequests(t)
				users := make(map[int32]*domain.User, len(userIDs))
				for _, id := range userIDs {
					u, err := repos.Users.GetByID(ctx, id)
					require.NoError(t, err)
					users[id] = u
				}
				books := make(map[int32]*domain.Book, len(bookIDs))
				for _, id := range bookIDs {
					b, err := repos.Books.GetByID(ctx, id)
					require.NoError(t, err)
					books[id] = b
					if b.Status == domain.BookStatusBorrowed {
						require.False(t, b.Enlisted, "borrowed book %d is enlisted", id)
					}
				}

				accepted := make(map[int32]int)
				for _, r := range requests {
					if r.Status == domain.BorrowRequestStatusAccepted {
						accepted[r.BookID]++
					}
					if r.IsPending() {
						require.Equal(t, domain.BookStatusAvailable, books[r.BookID].Status)
					}
					require.Equal(t, r.IsPending(), domain.SetContains(users[r.RequesterID].BorrowRequestsSent, r.ID),
						"sent index of user %d for request %d", r.RequesterID, r.ID)
					require.Equal(t, r.IsPending(), domain.SetContains(users[r.OwnerID].BorrowRequestsReceived, r.ID),
						"received index of user %d for request %d", r.OwnerID, r.ID)
				}
				for id, b := range books {
					require.Equal(t, len(b.PreviousOwnerIDs), accepted[id], "one accepted request per transfer of book %d", id)
				}

				total := 0
				for _, u := range users {
					for _, id := range append(append([]int32{}, u.BooksOwned...), u.BooksEnlistedForSale...) {
						require.Equal(t, u.ID, books[id].CurrentOwnerID, "user %d indexes book %d it does not own", u.ID, id)
					}
					total += len(u.BorrowRequestsSent)
				}
				pendingCount := 0
				for _, r := range requests {
					if r.IsPending() {
						pendingCount++
					}
				}
				require.Equal(t, pendingCount, total, "no dangling sent entries")
			},
		})
	})
}

func pendingCutoffCount(t *rapid.T, requests []domain.BorrowRequest, cutoff time.Time) int {
	n := 0
	for _, r := range requests {
		if r.IsPending() && r.RequestDate.Before(cutoff) {
			n++
		}
	}
	return n
}
