// Package gwerrors provides the stable error-kind vocabulary used across the
// gateway core (transport, supervisor, protocol, sandbox, router, ai, auth,
// hooks). Callers get a tagged error with a kind, a retryability hint, and an
// optional retry-after hint instead of a bare string, while still composing
// with the standard errors.Is/errors.As via Unwrap.
package gwerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a stable error classification, independent of the underlying cause.
type Kind string

// Transport and connection kinds.
const (
	KindNotConnected     Kind = "not_connected"
	KindConnectionClosed Kind = "connection_closed"
	KindConnectionFailed Kind = "connection_failed"
)

// Framing kinds.
const (
	KindParseError       Kind = "parse_error"
	KindBufferOverflow   Kind = "buffer_overflow"
	KindMalformedMessage Kind = "malformed_message"
)

// Handshake kinds.
const (
	KindHandshakeFailed    Kind = "handshake_failed"
	KindVersionUnsupported Kind = "version_unsupported"
)

// Correlation kinds.
const (
	KindRequestTimeout Kind = "request_timeout"
	KindCancelled      Kind = "cancelled"
)

// Sandbox / policy kinds.
const (
	KindCommandNotAllowed          Kind = "command_not_allowed"
	KindWorkingDirectoryOutsideRoot Kind = "working_directory_outside_root"
	KindOfflinePackageMissing      Kind = "offline_package_missing"
	KindPolicyViolation            Kind = "policy_violation"
)

// AI channel manager kinds.
const (
	KindAuthError       Kind = "auth_error"
	KindRateLimited     Kind = "rate_limited"
	KindInvalidRequest  Kind = "invalid_request"
	KindServerError     Kind = "server_error"
	KindTimeout         Kind = "timeout"
	KindNetworkError    Kind = "network_error"
	KindUnknown         Kind = "unknown"
)

// retryableKinds lists kinds that a caller may retry without further
// classification; everything else is terminal for the current attempt.
var retryableKinds = map[Kind]bool{
	KindConnectionFailed: true,
	KindRequestTimeout:   true,
	KindRateLimited:      true,
	KindServerError:      true,
	KindTimeout:          true,
	KindNetworkError:     true,
}

// Error is the tagged error type returned across package boundaries in the
// core. It never carries secrets (keys, tokens, raw env values) in Message.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter *time.Duration
	cause      error
}

// New creates a tagged error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithRetryAfter attaches a retry-after hint and returns the receiver for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = &d
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the error's kind is one a caller may retry.
func (e *Error) Retryable() bool { return retryableKinds[e.Kind] }

// Is implements kind-based comparison so that errors.Is(err, gwerrors.New(KindTimeout, "")) works.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, else KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a tagged *Error whose kind is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
