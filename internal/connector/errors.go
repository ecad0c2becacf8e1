package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FetchErrorKind categorizes connector failures.
type FetchErrorKind string

const (
	KindRateLimited  FetchErrorKind = "RATE_LIMITED"
	KindUnauthorized FetchErrorKind = "UNAUTHORIZED"
	KindNotFound     FetchErrorKind = "NOT_FOUND"
	KindTransient    FetchErrorKind = "TRANSIENT"
	KindMalformed    FetchErrorKind = "MALFORMED"
)

// FetchError is the typed failure returned by a Fetcher.
type FetchError struct {
	Kind FetchErrorKind

	// Status is the HTTP status when the failure came from a response, else 0.
	Status int

	Message string
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTransient
}

// NewFetchError creates a FetchError of the given kind.
func NewFetchError(kind FetchErrorKind, message string) *FetchError {
	return &FetchError{Kind: kind, Message: message}
}

// ClassifyStatus maps an HTTP status to a FetchError. Returns nil for 2xx/3xx.
//
// 5xx is Transient. 401/403 is Unauthorized, 404 NotFound, 429 RateLimited
// and every other 4xx is Malformed; none of those are retried.
func ClassifyStatus(status int, message string) *FetchError {
	var kind FetchErrorKind
	switch {
	case status >= 500:
		kind = KindTransient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindUnauthorized
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status >= 400:
		kind = KindMalformed
	default:
		return nil
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &FetchError{Kind: kind, Status: status, Message: message}
}

// IsRetryable reports whether err is worth another attempt: a Transient
// FetchError or a network-level error. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// KindOf returns the FetchErrorKind of err, or "" when err is not a FetchError.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
