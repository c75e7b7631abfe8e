package dispatch

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	// FailureTransient covers network errors, timeouts, 5xx and rate limits.
	FailureTransient FailureKind = "transient"
	// FailureRejected covers non-retryable platform rejections (4xx except 429).
	FailureRejected FailureKind = "rejected"
	// FailureExhausted marks a transient failure that outlived its retry budget.
	FailureExhausted FailureKind = "exhausted"
)

type Error struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("dispatch %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) FailureKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return FailureTransient
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == FailureTransient
}
