// Package apperr defines the error taxonomy returned across the service
// boundary and its mapping to HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindTokenInvalid
	KindTokenRevoked
	KindLocked
	KindRateLimited
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindTokenInvalid:
		return "token_invalid"
	case KindTokenRevoked:
		return "token_revoked"
	case KindLocked:
		return "locked"
	case KindRateLimited:
		return "rate_limited"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication, KindTokenInvalid, KindTokenRevoked:
		return http.StatusUnauthorized
	case KindLocked, KindRateLimited:
		return http.StatusTooManyRequests
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Two errors match under errors.Is when their
// codes are equal, so sentinels can be decorated with details and still be
// compared.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// RetryAfter is set on Locked and RateLimited errors.
	RetryAfter time.Duration
	// Remaining is the number of attempts left, when known (-1 otherwise).
	Remaining int

	Err error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Remaining: -1}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithRetryAfter returns a copy carrying the remaining wait.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	c := *e
	if d < 0 {
		d = 0
	}
	c.RetryAfter = d
	return &c
}

// WithRemaining returns a copy carrying the number of attempts left.
func (e *Error) WithRemaining(n int) *Error {
	c := *e
	c.Remaining = n
	return &c
}

// WithMessage returns a copy with a different client message. The code is
// unchanged, so the copy still matches the original under errors.Is.
func (e *Error) WithMessage(message string) *Error {
	c := *e
	c.Message = message
	return &c
}

// Wrap returns a copy with err attached as the cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Validation builds a 400 error with a caller-supplied message.
func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_FAILED", message)
}

// Internal wraps an unexpected failure. The cause is kept for logging and
// never shown to clients.
func Internal(err error) *Error {
	return New(KindInternal, "INTERNAL_ERROR", "internal server error").Wrap(err)
}

// From classifies err, falling back to Internal for unclassified errors.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// KindOf returns the kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// RetryAfterSeconds rounds d up to whole seconds for a Retry-After header.
// The result is at least 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
