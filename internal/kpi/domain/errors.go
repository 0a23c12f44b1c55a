package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientIO marks store failures a caller may retry.
	ErrTransientIO = errors.New("transient_io")
	// ErrConsistencyViolation marks states that must never be silently corrected.
	ErrConsistencyViolation = errors.New("consistency_violation")

	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidPeriodKey  = errors.New("invalid_period_key")
	ErrSummaryNotFound   = errors.New("summary_not_found")
	ErrOwnerRequired     = errors.New("owner_required")
	ErrRebuildNotFound   = errors.New("rebuild_not_found")
)

// Transient wraps a store error so callers can retry it.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
}

// Inconsistent reports a violated engine invariant.
func Inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistencyViolation, fmt.Sprintf(format, args...))
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// BatchCommitError reports a reconcile run that failed after some batches
// had already been committed.
type BatchCommitError struct {
	Committed int
	Err       error
}

func (e *BatchCommitError) Error() string {
	return fmt.Sprintf("reconcile stopped after %d committed summaries: %v", e.Committed, e.Err)
}

func (e *BatchCommitError) Unwrap() error {
	return e.Err
}
