package domain

import "time"

type BorrowRequestStatus string

const (
	BorrowRequestStatusPending   BorrowRequestStatus = "PENDING"
	BorrowRequestStatusAccepted  BorrowRequestStatus = "ACCEPTED"
	BorrowRequestStatusRejected  BorrowRequestStatus = "REJECTED"
	BorrowRequestStatusCancelled BorrowRequestStatus = "CANCELLED"
)

// ResolutionReason records why a request left PENDING.
type ResolutionReason string

const (
	ResolutionApproved        ResolutionReason = "APPROVED"
	ResolutionRejectedByOwner ResolutionReason = "REJECTED_BY_OWNER"
	ResolutionExpired         ResolutionReason = "EXPIRED"
	ResolutionRivalApproved   ResolutionReason = "RIVAL_APPROVED"
)

type BorrowRequest struct {
	ID          int32               `json:"id"`
	BookID      int32               `json:"book_id"`
	RequesterID int32               `json:"requester_id"`
	// OwnerID is the book's owner when the request was placed. It is never
	// updated, even if the book later changes hands.
	OwnerID          int32               `json:"owner_id"`
	RequestDate      time.Time           `json:"request_date"`
	Status           BorrowRequestStatus `json:"status"`
	ResolutionReason ResolutionReason    `json:"resolution_reason,omitempty"`
	ResolvedOn       *time.Time          `json:"resolved_on,omitempty"`
	Version          int32               `json:"-"`
}

func (r *BorrowRequest) IsPending() bool {
	return r.Status == BorrowRequestStatusPending
}

// Resolvable reports whether the transition PENDING -> to is allowed.
func (r *BorrowRequest) Resolvable(to BorrowRequestStatus) bool {
	if !r.IsPending() {
		return false
	}
	switch to {
	case BorrowRequestStatusAccepted, BorrowRequestStatusRejected, BorrowRequestStatusCancelled:
		return true
	}
	return false
}

func (r *BorrowRequest) Clone() *BorrowRequest {
	c := *r
	if r.ResolvedOn != nil {
		t := *r.ResolvedOn
		c.ResolvedOn = &t
	}
	return &c
}
