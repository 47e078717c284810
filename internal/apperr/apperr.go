// Package apperr defines the error kinds shared by every handoff component
// and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrExpired     = errors.New("expired")
	ErrAlreadyUsed = errors.New("already used")
	ErrMalformed   = errors.New("malformed")
	ErrTooLarge    = errors.New("too large")
	ErrIO          = errors.New("io failure")
)

// Error is a typed operation error. Kind is always one of the sentinels above
// so callers can match with errors.Is; Err carries the underlying cause, if any.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error without a cause.
func E(op string, kind error, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap builds an *Error around cause. A nil cause yields nil.
func Wrap(op string, kind error, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: cause}
}

// IOf is shorthand for wrapping a filesystem failure.
func IOf(op string, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrIO, Err: fmt.Errorf(format, args...)}
}

// Code returns the stable machine-readable name of err's kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	default:
		return "io_failure"
	}
}

// Status maps err onto an HTTP status code. Unknown errors are server faults.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing text for err: Msg when set, otherwise the
// kind. Causes are never exposed to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	if err == nil {
		return ""
	}
	return ErrIO.Error()
}
