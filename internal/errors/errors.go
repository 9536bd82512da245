// Package errors provides coded domain errors for the lending core.
//
// Every declined lending operation returns an *Error carrying a Code (what kind of failure) and,
// for business-rule failures, a Reason (which rule). Callers branch on them with errors.Is:
//
//	book, err := lending.BorrowBook(ctx, bookID, "vera")
//	switch {
//	case errors.Is(err, errors.ErrNotEnlisted):
//	    // someone else already reserved the book
//	case errors.Is(err, errors.ErrConcurrencyConflict):
//	    // retries exhausted, try again later
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error category.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeValidation          Code = "VALIDATION"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeConcurrencyConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Reason names the precondition that declined an operation.
type Reason string

const (
	ReasonBookNotFound     Reason = "BOOK_NOT_FOUND"
	ReasonUserNotFound     Reason = "USER_NOT_FOUND"
	ReasonRequestNotFound  Reason = "REQUEST_NOT_FOUND"
	ReasonNotOwner         Reason = "NOT_OWNER"
	ReasonNotAvailable     Reason = "NOT_AVAILABLE"
	ReasonNotEnlisted      Reason = "NOT_ENLISTED"
	ReasonAlreadyEnlisted  Reason = "ALREADY_ENLISTED"
	ReasonSelfBorrow       Reason = "SELF_BORROW"
	ReasonAlreadyResolved  Reason = "ALREADY_RESOLVED"
	ReasonNotExpired       Reason = "NOT_EXPIRED"
	ReasonUsernameTaken    Reason = "USERNAME_TAKEN"
	ReasonInvalidInput     Reason = "INVALID_INPUT"
	ReasonRetriesExhausted Reason = "RETRIES_EXHAUSTED"
)

// Error is a domain error with a code, an optional reason and a message.
type Error struct {
	Code    Code              `json:"code"`
	Reason  Reason            `json:"reason,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"` // field name to problem, for validation failures
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// A target matches when its Code is equal and its Reason is either empty or equal,
// so ErrConflict matches every conflict while ErrNotOwner only matches NOT_OWNER.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Retryable reports whether repeating the same call may succeed without changing its input.
func (e *Error) Retryable() bool {
	return e.Code == CodeConcurrencyConflict || e.Code == CodeInternal
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Reason: e.Reason, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict            = &Error{Code: CodeConflict, Message: "conflict"}
	ErrConcurrencyConflict = &Error{Code: CodeConcurrencyConflict, Message: "concurrent modification"}
	ErrValidation          = &Error{Code: CodeValidation, Message: "validation error"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "internal error"}

	ErrBookNotFound    = &Error{Code: CodeNotFound, Reason: ReasonBookNotFound, Message: "book not found"}
	ErrUserNotFound    = &Error{Code: CodeNotFound, Reason: ReasonUserNotFound, Message: "user not found"}
	ErrRequestNotFound = &Error{Code: CodeNotFound, Reason: ReasonRequestNotFound, Message: "borrow request not found"}

	ErrNotOwner        = &Error{Code: CodeConflict, Reason: ReasonNotOwner, Message: "caller is not the current owner"}
	ErrNotAvailable    = &Error{Code: CodeConflict, Reason: ReasonNotAvailable, Message: "book is not available"}
	ErrNotEnlisted     = &Error{Code: CodeConflict, Reason: ReasonNotEnlisted, Message: "book is not accepting borrow requests"}
	ErrAlreadyEnlisted = &Error{Code: CodeConflict, Reason: ReasonAlreadyEnlisted, Message: "book is already enlisted"}
	ErrSelfBorrow      = &Error{Code: CodeConflict, Reason: ReasonSelfBorrow, Message: "cannot borrow your own book"}
	ErrAlreadyResolved = &Error{Code: CodeConflict, Reason: ReasonAlreadyResolved, Message: "borrow request is already resolved"}
	ErrNotExpired      = &Error{Code: CodeConflict, Reason: ReasonNotExpired, Message: "borrow request has not expired"}
)

// NotFound creates a not found error with the given reason.
func NotFound(reason Reason, msg string) *Error {
	return &Error{Code: CodeNotFound, Reason: reason, Message: msg}
}

// NotFoundf creates a not found error with a formatted message.
func NotFoundf(reason Reason, format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a precondition conflict with the given reason.
func Conflict(reason Reason, msg string) *Error {
	return &Error{Code: CodeConflict, Reason: reason, Message: msg}
}

// Conflictf creates a precondition conflict with a formatted message.
func Conflictf(reason Reason, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Reason: ReasonInvalidInput, Message: msg}
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Reason: ReasonInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error listing the offending fields.
func ValidationWithDetails(msg string, details map[string]string) *Error {
	return &Error{Code: CodeValidation, Reason: ReasonInvalidInput, Message: msg, Details: details}
}

// Internal wraps a persistence or infrastructure failure.
func Internal(err error, msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg, cause: err}
}

// ConcurrencyConflict reports that optimistic retries were exhausted.
func ConcurrencyConflict(err error, attempts int) *Error {
	return &Error{
		Code:    CodeConcurrencyConflict,
		Reason:  ReasonRetriesExhausted,
		Message: fmt.Sprintf("concurrent modification after %d attempts", attempts),
		cause:   err,
	}
}
