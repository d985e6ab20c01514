package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"positivex.app/server/internal/retry"
)

// ErrorKind is the stable machine-readable code surfaced to clients.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindRateLimited     ErrorKind = "rate_limited"
	KindUpstream        ErrorKind = "upstream_error"
	KindStorage         ErrorKind = "storage_error"
	KindInvalidRequest  ErrorKind = "invalid_request"
	KindInternal        ErrorKind = "internal_error"
)

// Error is the single error shape the service layer returns. Message is safe
// to show a user; Detail keeps the technical cause.
type Error struct {
	Kind       ErrorKind
	Message    string
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, message string, err error) *Error {
	e := &Error{Kind: kind, Message: message, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

// AsError returns err as an *Error, classifying unknown errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindInternal, "Something went wrong. Please try again later.", err)
}

// upstreamError classifies a failed X API call.
func upstreamError(err error) *Error {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		switch {
		case exhausted.RateLimited:
			e := NewError(KindRateLimited, "X API rate limit reached. Please try again later.", err)
			e.RetryAfter = exhausted.RetryAfter
			return e
		case exhausted.StatusCode == http.StatusUnauthorized || exhausted.StatusCode == http.StatusForbidden:
			return NewError(KindUnauthenticated, "Your X session is no longer valid. Please sign in again.", err)
		}
	}
	return NewError(KindUpstream, "Could not reach X right now. Please try again later.", err)
}
