package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a stage or a facade call failed.
type ErrorKind string

const (
	// KindProviderUnavailable is a transient OCR/LLM/translation or storage outage. Retried.
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"
	// KindProviderRejected means the provider refused the content. Never retried.
	KindProviderRejected ErrorKind = "ProviderRejected"
	// KindValidationFailure is a malformed or empty upstream artifact. Never retried.
	KindValidationFailure ErrorKind = "ValidationFailure"
	// KindPersistenceConflict is a write rejected by the monotonic-status invariant.
	KindPersistenceConflict ErrorKind = "PersistenceConflict"
	// KindTimeout means the stage or whole-execution budget elapsed.
	KindTimeout ErrorKind = "Timeout"
	// KindInternal covers anything unclassified.
	KindInternal ErrorKind = "Internal"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrExecutionActive  = errors.New("an execution is already active for this document")
	ErrDuplicateUpload  = errors.New("upload was already processed")
	ErrExecutionRunning = errors.New("execution is already running")
)

// StageError carries the error kind and the stage that produced it.
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func newStageError(kind ErrorKind, stage string, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// Unavailable wraps err as a retryable provider outage.
func Unavailable(stage string, err error) error {
	return newStageError(KindProviderUnavailable, stage, err)
}

// Rejected wraps err as a permanent provider refusal.
func Rejected(stage string, err error) error {
	return newStageError(KindProviderRejected, stage, err)
}

// Invalid wraps err as a permanent validation failure.
func Invalid(stage string, err error) error {
	return newStageError(KindValidationFailure, stage, err)
}

// Conflict wraps err as a rejected persistence write.
func Conflict(stage string, err error) error {
	return newStageError(KindPersistenceConflict, stage, err)
}

// TimedOut wraps err as an exhausted time budget.
func TimedOut(stage string, err error) error {
	return newStageError(KindTimeout, stage, err)
}

// KindOf returns the kind of the first StageError in err's chain. Context
// deadline errors map to KindTimeout; anything else is KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Retryable reports whether the orchestrator may retry after err.
func Retryable(err error) bool {
	return KindOf(err) == KindProviderUnavailable
}
