package domain

import "time"

// Note is free text a user attaches to a book, typically when enlisting it.
type Note struct {
	ID           int32     `json:"id"`
	BookID       int32     `json:"book_id"`
	AuthorUserID int32     `json:"author_user_id"`
	Content      string    `json:"content"`
	CustomTitle  string    `json:"custom_title"`
	CreatedOn    time.Time `json:"created_on"`
}
