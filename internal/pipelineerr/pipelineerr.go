// Package pipelineerr defines the closed error-kind taxonomy (§7) used to
// drive Temporal retry policy selection without string-matching errors.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry-policy and escalation purposes.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindNotFound         Kind = "not_found"
	KindPermission       Kind = "permission"
	KindConflict         Kind = "conflict"
	KindRetryable        Kind = "retryable"
	KindRateLimited      Kind = "rate_limited"
	KindMissingResource  Kind = "missing_resource"
	KindFatal            Kind = "fatal"
)

// Error wraps an underlying error with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindFatal if err does not
// carry one — an unclassified failure must never silently retry forever.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// IsRetryable reports whether the orchestrator should let Temporal's retry
// policy handle this error (retryable or rate_limited), versus failing fast.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRetryable, KindRateLimited:
		return true
	default:
		return false
	}
}

// IsMissingResource reports whether err represents a resource the Resource
// DAG Engine should mark unavailable rather than fail the whole build.
func IsMissingResource(err error) bool {
	return KindOf(err) == KindMissingResource
}
