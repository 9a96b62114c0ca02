// Package errors holds the small set of sentinel/wrapper error types shared
// across the orchestration facade, adapted from the teacher's HTTP-era
// errors.go: the Unretriable wrapper is kept verbatim in spirit (it already
// expressed exactly the retryable/non-retryable distinction task.ErrorKind
// needs), while the HTTP response-writing helpers are dropped since this
// module exposes a Go facade and CLI, not an HTTP API (SPEC_FULL.md Ambient
// Stack: no HTTP surface in scope).
package errors

import "errors"

// UnretriableError marks an error that must not be retried regardless of
// its task.ErrorKind classification (e.g. a collaborator explicitly
// reporting permanent rejection).
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

// IsUnretriable reports whether err (or anything it wraps) is an UnretriableError.
func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// NotFoundError is returned by the facade's get_task/cancel_task/set_priority
// operations when the given task id is unknown (spec.md §6).
type NotFoundError struct {
	msg   string
	cause error
}

func (e NotFoundError) Error() string {
	return e.msg
}

func (e NotFoundError) Unwrap() error {
	return e.cause
}

func NewNotFoundError(msg string, cause error) error {
	return Unretriable(NotFoundError{msg: msg, cause: cause})
}

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	return errors.As(err, &NotFoundError{})
}

var (
	ErrGroupLocked  = errors.New("pipeline lock held by another file group")
	ErrQueueClosed  = errors.New("task queue is closed")
)
