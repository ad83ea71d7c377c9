// Package apperr carries classified domain errors from the point of violation
// to the transport adapters.
package apperr

import (
	"errors"
	"maps"
	"net/http"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	// KindInvalidArgument marks missing or malformed input.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindNotFound marks an absent wallet or reservation.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict marks a request that contradicts current state.
	KindConflict Kind = "CONFLICT"
	// KindTransient marks lock contention or timeouts; callers may retry with backoff.
	KindTransient Kind = "TRANSIENT"
	// KindUnknown marks an unrecognised event type.
	KindUnknown Kind = "UNKNOWN"
	// KindInternal is the classification of any error that is not an *Error.
	KindInternal Kind = "INTERNAL"
)

// Error is a classified error with a stable machine code and structured details.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

// New builds an error with the given classification.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies a lower-level cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors sharing the same code, so enriched copies of a sentinel
// still satisfy errors.Is against it.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy carrying an extra detail.
func (e *Error) With(key, value string) *Error {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]string, 1)
	}
	c.Details[key] = value
	return c
}

// WithMessage returns a copy with a more specific message.
func (e *Error) WithMessage(message string) *Error {
	c := e.clone()
	c.Message = message
	return c
}

// WithCause returns a copy wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.Err = cause
	return c
}

func (e *Error) clone() *Error {
	c := *e
	c.Details = maps.Clone(e.Details)
	return &c
}

// KindOf reports the classification of err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given classification.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a classification to a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument, KindUnknown:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
