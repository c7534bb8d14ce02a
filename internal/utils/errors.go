package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidArgument marks malformed or missing input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict marks a uniqueness violation
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an unknown id
	ErrNotFound = errors.New("not found")

	// ErrPoolExhausted is returned when no enabled key can be selected
	ErrPoolExhausted = errors.New("key pool exhausted")

	// ErrUnauthorized marks a missing or invalid admin session
	ErrUnauthorized = errors.New("unauthorized")
)

var kinds = []error{ErrInvalidArgument, ErrConflict, ErrNotFound, ErrPoolExhausted, ErrUnauthorized}

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() []error {
	if e.err != nil {
		return []error{e.kind, e.err}
	}
	return []error{e.kind}
}

// Errorf builds an error of the given kind whose message is the formatted text.
// A %w verb in format keeps the wrapped cause reachable through errors.Is/As.
func Errorf(kind error, format string, args ...interface{}) error {
	wrapped := fmt.Errorf(format, args...)
	return &kindError{kind: kind, msg: wrapped.Error(), err: errors.Unwrap(wrapped)}
}

// KindOf returns the taxonomy sentinel err belongs to, or nil for internal errors
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StatusCode maps an error onto the envelope code
func StatusCode(err error) int {
	switch KindOf(err) {
	case ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrPoolExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
