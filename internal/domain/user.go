package domain

import (
	"slices"
	"time"
)

type User struct {
	ID       int32  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Area     string `json:"area"`
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Pincode  string `json:"pincode"`

	// Index sets, maintained by the lending coordinator alongside the book and
	// borrow request rows. Each slice is sorted and holds no duplicates.
	BooksOwned             []int32 `json:"books_owned"`
	BooksEnlistedForSale   []int32 `json:"books_enlisted_for_sale"`
	BorrowRequestsSent     []int32 `json:"borrow_requests_sent"`
	BorrowRequestsReceived []int32 `json:"borrow_requests_received"`

	CreatedOn time.Time `json:"created_on"`
}

// OwnerProfile is the part of a user shown alongside a book to anyone browsing
// the catalog. Contact details and index sets stay private.
type OwnerProfile struct {
	ID       int32  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Area     string `json:"area"`
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Pincode  string `json:"pincode"`
}

func (u *User) Profile() *OwnerProfile {
	return &OwnerProfile{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
		Area:     u.Area,
		City:     u.City,
		State:    u.State,
		Country:  u.Country,
		Pincode:  u.Pincode,
	}
}

func (u *User) Clone() *User {
	c := *u
	c.BooksOwned = slices.Clone(u.BooksOwned)
	c.BooksEnlistedForSale = slices.Clone(u.BooksEnlistedForSale)
	c.BorrowRequestsSent = slices.Clone(u.BorrowRequestsSent)
	c.BorrowRequestsReceived = slices.Clone(u.BorrowRequestsReceived)
	return &c
}

// IndexKind names one of the user's index sets.
type IndexKind string

const (
	IndexBooksOwned             IndexKind = "BOOKS_OWNED"
	IndexBooksEnlisted          IndexKind = "BOOKS_ENLISTED"
	IndexBorrowRequestsSent     IndexKind = "REQUESTS_SENT"
	IndexBorrowRequestsReceived IndexKind = "REQUESTS_RECEIVED"
)

// IndexSet returns a pointer to the slice backing kind.
func (u *User) IndexSet(kind IndexKind) *[]int32 {
	switch kind {
	case IndexBooksOwned:
		return &u.BooksOwned
	case IndexBooksEnlisted:
		return &u.BooksEnlistedForSale
	case IndexBorrowRequestsSent:
		return &u.BorrowRequestsSent
	case IndexBorrowRequestsReceived:
		return &u.BorrowRequestsReceived
	}
	return nil
}

// AddToSet inserts id into a sorted set. It reports whether the set changed.
func AddToSet(set *[]int32, id int32) bool {
	i, found := slices.BinarySearch(*set, id)
	if found {
		return false
	}
	*set = slices.Insert(*set, i, id)
	return true
}

// RemoveFromSet deletes id from a sorted set. It reports whether the set changed.
func RemoveFromSet(set *[]int32, id int32) bool {
	i, found := slices.BinarySearch(*set, id)
	if !found {
		return false
	}
	*set = slices.Delete(*set, i, i+1)
	return true
}

// SetContains reports whether the sorted set holds id.
func SetContains(set []int32, id int32) bool {
	_, found := slices.BinarySearch(set, id)
	return found
}
