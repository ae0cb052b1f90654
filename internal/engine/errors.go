package engine

import "fmt"

// Error kinds callers can match with errors.As. Validation and
// authorization failures are detected before any mutation.

// InvalidInputError covers malformed fields and illegal state-transition
// targets.
type InvalidInputError struct {
	Reason string
}

func (e InvalidInputError) Error() string { return e.Reason }

// ForbiddenError indicates the acting user may not touch the target entity.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string { return e.Reason }

// ConflictError indicates a uniqueness rule would be violated.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// PreconditionError indicates a required prior state is absent.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string { return e.Reason }

func invalidInputf(format string, args ...any) error {
	return InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) error {
	return ForbiddenError{Reason: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return ConflictError{Reason: fmt.Sprintf(format, args...)}
}

func preconditionf(format string, args ...any) error {
	return PreconditionError{Reason: fmt.Sprintf(format, args...)}
}
