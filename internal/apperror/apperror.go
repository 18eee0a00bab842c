// Package apperror defines the error kinds surfaced at the request boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	NotFound
	Forbidden
	Conflict
	InvalidArgument
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case InvalidArgument:
		return "invalid_argument"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto the status code used by both the HTTP
// handlers and the websocket response frames.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case InvalidArgument:
		return http.StatusBadRequest
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func (k Kind) Retryable() bool {
	return k == Unavailable
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func InvalidArgumentf(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns a message safe to show to the caller. Internal errors
// never leak their cause.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != Internal {
		return appErr.Message
	}

	return "internal server error"
}
