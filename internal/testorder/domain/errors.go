package domain

import (
	"errors"
	"fmt"
)

// Storage-level sentinels. Repositories return these; the service layer
// translates them into *Error values.
var (
	ErrSuiteNotFound    = errors.New("test suite not found")
	ErrProposalNotFound = errors.New("order proposal not found")
	ErrStaleWrite       = errors.New("the record has been modified; reload it and try again")
)

// ErrorKind groups workflow errors for boundary translation.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
)

// Reason codes carried by *Error.
const (
	ReasonConcurrencyConflict        = "CONCURRENCY_CONFLICT"
	ReasonOrderConfirmationRequired  = "ORDER_CONFIRMATION_REQUIRED"
	ReasonInvalidOrderSet            = "INVALID_ORDER_SET"
	ReasonEmptyEndpointSet           = "EMPTY_ENDPOINT_SET"
	ReasonInvalidEndpointID          = "INVALID_ENDPOINT_ID"
	ReasonEndpointNotInSpecification = "ENDPOINT_NOT_IN_SPECIFICATION"
	ReasonNotSuiteOwner              = "NOT_SUITE_OWNER"
	ReasonSuiteArchived              = "SUITE_ARCHIVED"
	ReasonProposalNotPending         = "PROPOSAL_NOT_PENDING"
	ReasonReviewNotesRequired        = "REVIEW_NOTES_REQUIRED"
	ReasonConcurrencyTokenRequired   = "CONCURRENCY_TOKEN_REQUIRED"
	ReasonInvalidSource              = "INVALID_SOURCE"
	ReasonSuiteNotFound              = "SUITE_NOT_FOUND"
	ReasonProposalNotFound           = "PROPOSAL_NOT_FOUND"
)

// Error is the typed error surface of the ordering workflow.
type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
	// Details names offending values, e.g. {"missing": [...]}.
	Details map[string][]string
	Err     error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(reason, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Validation(reason, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Conflict(reason, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches offending values and returns e.
func (e *Error) WithDetails(details map[string][]string) *Error {
	e.Details = details
	return e
}

// Wrap records the underlying cause and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }
func IsValidation(err error) bool { return kindOf(err) == KindValidation }
func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// ReasonOf returns the reason code of a workflow error, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
