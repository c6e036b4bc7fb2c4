// Package sigerr defines the failure taxonomy shared by the signing core.
//
// Every failure surfaced by the cache, the browser pool, the gateway, the
// adapters or the orchestrator is an *Error carrying a Kind. Callers branch on
// the kind with errors.Is against the sentinel values below, and the HTTP
// layer maps the kind to a status code through Status().
package sigerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names a class of failure. The string value is the wire representation
// used in error response bodies.
type Kind string

const (
	KindUnsupportedPlatform Kind = "unsupported_platform"
	KindRefreshFailure      Kind = "refresh_failure"
	KindPoolExhausted       Kind = "pool_exhausted"
	KindPoolTimeout         Kind = "pool_timeout"
	KindCacheUnavailable    Kind = "cache_unavailable"
	KindSigningComputation  Kind = "signing_computation"
	KindTimeout             Kind = "timeout"
	KindInvalidRequest      Kind = "invalid_request"
)

// Sentinels for errors.Is comparisons. Matching is by kind only.
var (
	ErrUnsupportedPlatform = &Error{Kind: KindUnsupportedPlatform}
	ErrRefreshFailure      = &Error{Kind: KindRefreshFailure}
	ErrPoolExhausted       = &Error{Kind: KindPoolExhausted}
	ErrPoolTimeout         = &Error{Kind: KindPoolTimeout}
	ErrCacheUnavailable    = &Error{Kind: KindCacheUnavailable}
	ErrSigningComputation  = &Error{Kind: KindSigningComputation}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
)

// Error is a classified failure. Platform and Key are optional context used
// in messages and logs.
type Error struct {
	Kind     Kind
	Platform string
	Key      string
	Message  string
	Cause    error
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause as kind. If cause is already an *Error it is returned
// unchanged so that the innermost classification wins.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return cause
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// For returns a copy of e annotated with the platform and key it applies to.
func (e *Error) For(platform, key string) *Error {
	c := *e
	c.Platform = platform
	c.Key = key
	return &c
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Platform != "" {
		msg += " [" + e.Platform
		if e.Key != "" {
			msg += "/" + e.Key
		}
		msg += "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, allowing comparison against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the failure is transient and may succeed when the
// refresh path retries it.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindPoolTimeout, KindPoolExhausted, KindRefreshFailure, KindCacheUnavailable:
		return true
	default:
		return false
	}
}

// Status maps the kind to an HTTP status and the message shown to callers.
func (e *Error) Status() (int, string) {
	var status int
	switch e.Kind {
	case KindUnsupportedPlatform, KindSigningComputation, KindInvalidRequest:
		status = http.StatusBadRequest
	case KindRefreshFailure:
		status = http.StatusBadGateway
	case KindPoolExhausted, KindPoolTimeout, KindCacheUnavailable:
		status = http.StatusServiceUnavailable
	case KindTimeout:
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}

	return status, e.Error()
}

// KindOf extracts the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a classified, transient failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
