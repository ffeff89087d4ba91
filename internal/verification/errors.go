package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrorKind classifies an engine failure for bulk results and HTTP mapping.
type ErrorKind string

const (
	KindInvalidTransition    ErrorKind = "invalid_transition"
	KindVersionConflict      ErrorKind = "version_conflict"
	KindValidation           ErrorKind = "validation_error"
	KindIncompleteSubmission ErrorKind = "incomplete_submission"
	KindNotFound             ErrorKind = "not_found"
	KindCanceled             ErrorKind = "canceled"
	KindInternal             ErrorKind = "internal"
)

// InvalidTransitionError signals an action that is illegal for the process's
// current status. It is never retried automatically.
type InvalidTransitionError struct {
	ProcessID uuid.UUID
	From      Status
	Action    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("process %s: cannot %s while %s", e.ProcessID, e.Action, e.From)
}

// VersionConflictError signals a stale read: another reviewer mutated the
// process after the caller's snapshot. Safe to retry once after a re-fetch.
type VersionConflictError struct {
	ProcessID uuid.UUID
	Expected  int
	Actual    int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("process %s: already decided by another reviewer (expected version %d, now %d), please refresh",
		e.ProcessID, e.Expected, e.Actual)
}

// ValidationError signals malformed input; not retryable until corrected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IncompleteSubmissionError carries the still-outstanding field list so the
// admin can surface exactly what is missing.
type IncompleteSubmissionError struct {
	ProcessID uuid.UUID
	Missing   []string
}

func (e *IncompleteSubmissionError) Error() string {
	return fmt.Sprintf("process %s: resubmission missing required fields: %s",
		e.ProcessID, strings.Join(e.Missing, ", "))
}

// NotFoundError signals an unknown process ID.
type NotFoundError struct {
	ProcessID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("process %s not found", e.ProcessID)
}

// KindOf maps an error to its taxonomy kind.
func KindOf(err error) ErrorKind {
	var (
		transition *InvalidTransitionError
		conflict   *VersionConflictError
		validation *ValidationError
		incomplete *IncompleteSubmissionError
		notFound   *NotFoundError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &transition):
		return KindInvalidTransition
	case errors.As(err, &conflict):
		return KindVersionConflict
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &incomplete):
		return KindIncompleteSubmission
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}
