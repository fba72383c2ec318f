package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for orchestration operations.
//
// Constraint violations are deliberately absent: a violated constraint is
// data on a BLOCKED plan, not an error. State-machine violations are caller
// errors raised synchronously; dispatch failures are retried at the dispatch
// boundary and only surface once retries exhaust.

// ValidationError indicates malformed plan or entity input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// NewValidationError wraps a message into a ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError indicates an operation attempted from a state that
// forbids it, e.g. approving an EXECUTING plan.
type InvalidStateError struct {
	PlanID string
	State  PlanState
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s plan %s in state %s", e.Op, e.PlanID, e.State)
}

// NotApprovedError indicates execute was attempted before the approval gate
// was satisfied.
type NotApprovedError struct {
	PlanID       string
	MissingRoles []string
	Have, Need   int
}

func (e *NotApprovedError) Error() string {
	if len(e.MissingRoles) > 0 {
		return fmt.Sprintf("not approved: plan %s missing roles %v (%d/%d approvals)", e.PlanID, e.MissingRoles, e.Have, e.Need)
	}
	return fmt.Sprintf("not approved: plan %s has %d/%d approvals", e.PlanID, e.Have, e.Need)
}

// NotFoundError indicates a referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// DispatchError indicates the agent was unreachable or rejected a plan.
// Temporary errors are retried with backoff at the dispatch boundary and are
// invisible to the engine's state machine unless retries exhaust.
type DispatchError struct {
	PlanID    string
	Temporary bool
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed for plan %s: %v", e.PlanID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ExecutionFailureError indicates the agent reported failure. Terminal for
// the plan; triggers an automatic rollback proposal for install/upgrade.
type ExecutionFailureError struct {
	PlanID string
	Reason string
}

func (e *ExecutionFailureError) Error() string {
	return fmt.Sprintf("execution failed for plan %s: %s", e.PlanID, e.Reason)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsNotApproved reports whether err is a NotApprovedError.
func IsNotApproved(err error) bool {
	var target *NotApprovedError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
