package store

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptSnapshot is returned when bytes cannot be opened as a database image.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrUnknownField is returned for an update outside the fixed set of editable fields.
	ErrUnknownField = errors.New("unknown field")

	// ErrMigrationStepFailed marks a single additive migration that failed.
	ErrMigrationStepFailed = errors.New("migration step failed")
)

// MigrationError describes one failed migration step.
type MigrationError struct {
	Step string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMigrationStepFailed, e.Step, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigrationStepFailed, e.Err}
}
