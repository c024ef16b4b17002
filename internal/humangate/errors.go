package humangate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a HumanGate failure.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindNotPending ErrorKind = "not_pending"
	KindExpired    ErrorKind = "expired"
	KindInvalid    ErrorKind = "invalid"
	KindInternal   ErrorKind = "internal"
)

var (
	// ErrNotFound covers a missing workflow and an invalid token alike.
	ErrNotFound = errors.New("workflow not found")
	// ErrNotPending is returned when a workflow already left pending.
	ErrNotPending = errors.New("workflow is not pending")
	// ErrExpired is returned when the response window has passed.
	ErrExpired = errors.New("workflow has expired")
	// ErrInvalidRequest is returned for malformed requests or feedback.
	ErrInvalidRequest = errors.New("invalid request")
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:   ErrNotFound,
	KindNotPending: ErrNotPending,
	KindExpired:    ErrExpired,
	KindInvalid:    ErrInvalidRequest,
}

// Error is the only error type returned across the HumanGate boundary.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("humangate %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func newError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// invalid builds a validation cause that wraps ErrInvalidRequest.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
