package lifecycle

import (
	"errors"
	"fmt"

	"github.com/jredh-dev/goodwill/pkg/models"
)

// Kind classifies a lifecycle failure. Its String form is the stable code
// clients see.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindInvalidTransition
	KindDonationUnavailable
	KindDuplicateRequest
	KindRequestMismatch
	KindStorage
	KindValidation
)

var kindCodes = [...]string{
	KindInternal:            "INTERNAL",
	KindUnauthenticated:     "UNAUTHENTICATED",
	KindForbidden:           "FORBIDDEN",
	KindNotFound:            "NOT_FOUND",
	KindInvalidTransition:   "INVALID_TRANSITION",
	KindDonationUnavailable: "DONATION_UNAVAILABLE",
	KindDuplicateRequest:    "DUPLICATE_REQUEST",
	KindRequestMismatch:     "REQUEST_MISMATCH",
	KindStorage:             "STORAGE_ERROR",
	KindValidation:          "VALIDATION_ERROR",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindCodes) {
		return kindCodes[KindInternal]
	}
	return kindCodes[k]
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrForbidden           = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrDonationUnavailable = &Error{Kind: KindDonationUnavailable, Message: "donation is no longer available"}
	ErrDuplicateRequest    = &Error{Kind: KindDuplicateRequest, Message: "you have already requested this donation"}
	ErrRequestMismatch     = &Error{Kind: KindRequestMismatch, Message: "request does not belong to this donation"}
	ErrStorage             = &Error{Kind: KindStorage, Message: "storage failure"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "invalid input"}
)

// Error is the typed failure every engine operation returns.
type Error struct {
	Kind    Kind
	Message string

	// Set for InvalidTransition and DonationUnavailable.
	From models.DonationStatus
	To   models.DonationStatus

	// Retryable marks transient storage conditions (busy database, lock
	// wait exceeded, deadline). Nothing retries automatically.
	Retryable bool

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a transient *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Forbidden builds a Forbidden error with a specific message.
func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

// Unauthenticated builds an Unauthenticated error wrapping cause.
func Unauthenticated(cause error) *Error {
	return &Error{Kind: KindUnauthenticated, Message: "authentication required", Err: cause}
}

// Validation builds a Validation error with a specific message.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func notFound(what, id string) *Error {
	return newError(KindNotFound, "%s %s not found", what, id)
}

func invalidTransition(from, to models.DonationStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move donation from %s to %s", from, to),
		From:    from,
		To:      to,
	}
}

func unavailable(current, want models.DonationStatus) *Error {
	return &Error{
		Kind:    KindDonationUnavailable,
		Message: fmt.Sprintf("donation is %s, expected %s", current, want),
		From:    current,
		To:      want,
	}
}

// raced reports that a conditional write matched nothing: another writer
// changed the row after it was read.
func raced(from, to models.DonationStatus) *Error {
	return &Error{
		Kind:    KindDonationUnavailable,
		Message: "donation was changed by someone else",
		From:    from,
		To:      to,
	}
}
