package domain

import "time"

type NotificationType string

const (
	NotificationBorrowRequestCreated  NotificationType = "BORROW_REQUEST_CREATED"
	NotificationBorrowRequestAccepted NotificationType = "BORROW_REQUEST_ACCEPTED"
	NotificationBorrowRequestRejected NotificationType = "BORROW_REQUEST_REJECTED"
	NotificationBorrowRequestExpired  NotificationType = "BORROW_REQUEST_EXPIRED"
)

type Notification struct {
	ID         int32             `json:"id"`
	UserID     int32             `json:"user_id"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	IsRead     bool              `json:"is_read"`
	Attributes map[string]string `json:"attributes"`
	CreatedOn  time.Time         `json:"created_on"`
}
