package engine

import (
	"errors"
	"fmt"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
	"kipdesk/internal/repo"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrAccessDenied       = errors.New("access denied")
	ErrNotFound           = errors.New("not found")
	ErrConflictingState   = errors.New("conflicting state")
	ErrAlreadyAssigned    = errors.New("already assigned")
	ErrAlreadyEscalated   = errors.New("already escalated")
	ErrNotEligible        = errors.New("not eligible for escalation")
	ErrFrozenThread       = errors.New("thread is frozen")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// ConflictingStateError reports a transition the current status does not allow.
type ConflictingStateError struct {
	Current   domain.Status
	Requested domain.Status
}

func (e ConflictingStateError) Error() string {
	return fmt.Sprintf("cannot move case from %s to %s", e.Current, e.Requested)
}

func (e ConflictingStateError) Unwrap() error { return ErrConflictingState }

// AlreadyAssignedError reports a lost claim race.
type AlreadyAssignedError struct {
	CaseID     int64
	AssignedTo string
}

func (e AlreadyAssignedError) Error() string {
	if e.AssignedTo == "" {
		return fmt.Sprintf("case %d is no longer claimable", e.CaseID)
	}
	return fmt.Sprintf("case %d already assigned to %s", e.CaseID, e.AssignedTo)
}

func (e AlreadyAssignedError) Unwrap() error { return ErrAlreadyAssigned }

// NotEligibleError tells the requester how long until escalation opens.
type NotEligibleError struct {
	DaysRemaining int
	Elapsed       int
	Threshold     int
	Resolved      bool
}

func (e NotEligibleError) Error() string {
	if e.Resolved {
		return "request is already resolved"
	}
	return fmt.Sprintf("%d of %d working days elapsed; %d remaining", e.Elapsed, e.Threshold, e.DaysRemaining)
}

func (e NotEligibleError) Unwrap() error { return ErrNotEligible }

// StorageError wraps any failure from the case store.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

func storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return StorageError{Op: op, Err: err}
}

// lookup maps a repo read failure to NotFound or a storage error.
func lookup(op string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return storage(op, err)
}

func denied(role domain.RoleClass, action string) error {
	return fmt.Errorf("%w: %w", ErrAccessDenied, auth.ForbiddenError{Role: role, Action: action})
}

// IsRetryable reports whether the caller may safely retry the same call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsBusinessOutcome reports an escalation precondition that was not met, as
// opposed to a technical failure.
func IsBusinessOutcome(err error) bool {
	return errors.Is(err, ErrAlreadyEscalated) || errors.Is(err, ErrNotEligible)
}
