package catalog

import (
	"errors"
	"strings"
)

// ClassifiedError wraps a sqlite error with a verdict on whether it is
// transient (and should trigger Repair + a single retry) or should be
// surfaced to the caller. Adapted from the teacher's
// pkg/resilience/errors.go ClassifiedError{Err, Type, Retryable}.
type ClassifiedError struct {
	Err       error
	Retryable bool
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// Classify decides whether err looks like a transient sqlite condition
// ("database is locked", "no such table") that Repair() can plausibly fix,
// ground: media_database.py's repeated `"no such table" in str(e).lower()
// or "database is locked" in str(e).lower()` checks.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	retryable := strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "no such table")
	return &ClassifiedError{Err: err, Retryable: retryable}
}

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("catalog: record not found")
