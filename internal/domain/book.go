package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type BookStatus string

const (
	BookStatusAvailable BookStatus = "AVAILABLE"
	BookStatusBorrowed  BookStatus = "BORROWED"
	BookStatusLost      BookStatus = "LOST"
	BookStatusArchived  BookStatus = "ARCHIVED"
)

// ParseBookStatus accepts a status name in any letter case.
func ParseBookStatus(s string) (BookStatus, error) {
	switch st := BookStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case BookStatusAvailable, BookStatusBorrowed, BookStatusLost, BookStatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("unknown book status %q", s)
}

type BookGenre string

const (
	BookGenreFiction        BookGenre = "FICTION"
	BookGenreNonFiction     BookGenre = "NON_FICTION"
	BookGenreScienceFiction BookGenre = "SCIENCE_FICTION"
	BookGenreFantasy        BookGenre = "FANTASY"
	BookGenreMystery        BookGenre = "MYSTERY"
	BookGenreThriller       BookGenre = "THRILLER"
	BookGenreRomance        BookGenre = "ROMANCE"
	BookGenreHorror         BookGenre = "HORROR"
	BookGenreBiography      BookGenre = "BIOGRAPHY"
	BookGenreHistory        BookGenre = "HISTORY"
	BookGenrePoetry         BookGenre = "POETRY"
	BookGenreSelfHelp       BookGenre = "SELF_HELP"
	BookGenreChildren       BookGenre = "CHILDREN"
	BookGenreOther          BookGenre = "OTHER"
)

var bookGenres = []BookGenre{
	BookGenreFiction, BookGenreNonFiction, BookGenreScienceFiction, BookGenreFantasy,
	BookGenreMystery, BookGenreThriller, BookGenreRomance, BookGenreHorror,
	BookGenreBiography, BookGenreHistory, BookGenrePoetry, BookGenreSelfHelp,
	BookGenreChildren, BookGenreOther,
}

// ParseBookGenre accepts a genre name in any letter case, with '-' or ' ' as separators.
func ParseBookGenre(s string) (BookGenre, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	g := BookGenre(norm)
	if slices.Contains(bookGenres, g) {
		return g, nil
	}
	return "", fmt.Errorf("unknown book genre %q", s)
}

type Book struct {
	ID               int32         `json:"id"`
	Title            string        `json:"title"`
	Author           string        `json:"author"`
	Genre            BookGenre     `json:"genre"`
	PublicationYear  int32         `json:"publication_year"`
	Status           BookStatus    `json:"status"`
	Enlisted         bool          `json:"enlisted"` // accepting new borrow requests
	CurrentOwnerID   int32         `json:"current_owner_id"`
	CurrentOwner     *OwnerProfile `json:"current_owner,omitempty"` // Populated when fetching book details
	PreviousOwnerIDs []int32       `json:"previous_owner_ids"`      // oldest first, append-only
	NoteIDs          []int32       `json:"note_ids"`
	Version          int32         `json:"-"`
	CreatedOn        time.Time     `json:"created_on"`
	UpdatedOn        time.Time     `json:"updated_on"`
}

// AcceptsRequests reports whether a new borrow request may be placed on the book.
func (b *Book) AcceptsRequests() bool {
	return b.Status == BookStatusAvailable && b.Enlisted
}

// Reserved reports whether the book is in the window between a borrow request
// and its resolution: still AVAILABLE but no longer enlisted.
func (b *Book) Reserved() bool {
	return b.Status == BookStatusAvailable && !b.Enlisted
}

// Clone returns a deep copy; CurrentOwner is not copied.
func (b *Book) Clone() *Book {
	c := *b
	c.CurrentOwner = nil
	c.PreviousOwnerIDs = slices.Clone(b.PreviousOwnerIDs)
	c.NoteIDs = slices.Clone(b.NoteIDs)
	return &c
}

// BookFilter narrows catalog searches. Zero fields are ignored.
// Locality fields match the current owner's address, case-insensitively.
type BookFilter struct {
	Status        BookStatus
	Enlisted      *bool
	Author        string
	Genre         BookGenre
	OwnerUsername string
	State         string
	Country       string
	Area          string
	City          string
	Pincode       string
}

// Matches applies the filter to a book whose CurrentOwner is populated.
func (f BookFilter) Matches(b *Book) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Enlisted != nil && b.Enlisted != *f.Enlisted {
		return false
	}
	if f.Author != "" && !strings.EqualFold(b.Author, f.Author) {
		return false
	}
	if f.Genre != "" && b.Genre != f.Genre {
		return false
	}
	if !f.hasOwnerCriteria() {
		return true
	}
	o := b.CurrentOwner
	if o == nil {
		return false
	}
	return eqFold(f.OwnerUsername, o.Username) &&
		eqFold(f.State, o.State) &&
		eqFold(f.Country, o.Country) &&
		eqFold(f.Area, o.Area) &&
		eqFold(f.City, o.City) &&
		eqFold(f.Pincode, o.Pincode)
}

func (f BookFilter) hasOwnerCriteria() bool {
	return f.OwnerUsername != "" || f.State != "" || f.Country != "" || f.Area != "" || f.City != "" || f.Pincode != ""
}

func eqFold(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}
