package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown executions or tenant mismatches.
	ErrNotFound = errors.New("pipeline execution not found")
	// ErrInvalidState is returned when an operation does not fit the current status.
	ErrInvalidState = errors.New("pipeline is not in a valid state for this operation")
	// ErrApprovalExpired is returned and recorded when the founder approval
	// window closed without a decision.
	ErrApprovalExpired = errors.New("approval window expired")
	// ErrRevisionLimit is returned when the founder asks for too many revisions.
	ErrRevisionLimit = errors.New("revision limit exceeded")
	// ErrInvalidRequest is returned for malformed start or feedback requests.
	ErrInvalidRequest = errors.New("invalid pipeline request")

	// errHalted stops a background step once the execution went terminal.
	errHalted = errors.New("execution halted")
)

// Error is the only error type returned across the pipeline boundary.
type Error struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *Error) Error() string {
	if e.ExecutionID == "" {
		return fmt.Sprintf("pipeline %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("pipeline %s %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, id string, err error) *Error {
	return &Error{Op: op, ExecutionID: id, Err: err}
}
