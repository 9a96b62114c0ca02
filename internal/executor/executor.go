// Package executor implements the TaskExecutor (C7): a handler registry
// keyed by task.Type plus the retry/backoff policy applied when a handler
// fails. Grounded on clients/object_store_client.go's
// newExponentialBackOffExecutor/UploadRetryBackoff pair, generalized from a
// single upload retry loop into one backoff schedule, shared by all task
// types, consulted by the orchestrator between re-enqueues (spec.md §4.6).
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/livepeer/mediaindex-core/internal/task"
)

// Context is the execution context argument handlers receive (spec.md §9:
// "handlers receive references through an execution context argument, not
// from ambient state"). The orchestrator builds one per dispatched task;
// handlers reach collaborators and enqueue follow-on tasks only through it,
// never by importing orchestrator internals directly.
type Context struct {
	TaskID uuid.UUID

	// EnqueueFollowup creates a new task in the same file group, depending
	// on the current task, and pushes it through the priority queue (used
	// by preprocess handlers to fan out per-segment embed tasks once the
	// segment count is known).
	EnqueueFollowup func(typ task.Type, payload map[string]any, dependsOn ...uuid.UUID) uuid.UUID

	// Cancelled reports whether a cooperative cancellation was requested
	// for this task (spec.md §5).
	Cancelled func() bool
}

// Handler executes one task's payload and returns its result, or an error
// classified into one of task.ErrorKind by the caller's wrapping (spec.md §4.6:
// handlers return plain errors; the executor/orchestrator attach the Kind).
type Handler func(ctx context.Context, ectx Context, t task.Task) (any, error)

// Outcome is the result of one execution attempt.
type Outcome struct {
	Result    any
	Err       *task.TaskError
	Retryable bool
}

// Registry maps task.Type to its Handler (spec.md §4.1 "register_handler").
// Generalizes the teacher's fixed one-handler-per-pipeline-stage dispatch
// (pipeline/coordinator.go's switch on JobInfo state) into an open map so new
// task types can be registered without touching the executor itself.
type Registry struct {
	handlers map[task.Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.Type]Handler)}
}

func (r *Registry) Register(t task.Type, h Handler) {
	r.handlers[t] = h
}

func (r *Registry) Lookup(t task.Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Executor runs a task through its registered handler and classifies the
// result (spec.md §4.6).
type Executor struct {
	registry *Registry
}

func New(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Run executes t.Type's handler. A missing handler is a permanent
// InputError (spec.md §7: unregistered task types fail fast, never retry).
func (e *Executor) Run(ctx context.Context, ectx Context, t task.Task) Outcome {
	h, ok := e.registry.Lookup(t.Type)
	if !ok {
		return Outcome{Err: task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("no handler registered for task type %q", t.Type)), Retryable: false}
	}

	if err := validatePayload(t); err != nil {
		return Outcome{Err: task.NewTaskError(task.ErrorKindInput, err.Error()), Retryable: false}
	}

	result, err := h(ctx, ectx, t)
	if err == nil {
		return Outcome{Result: result}
	}

	kind, retryable := classify(err)
	return Outcome{Err: task.NewTaskError(kind, err.Error()), Retryable: retryable}
}

// classify maps a raw handler error to a task.ErrorKind and whether the
// orchestrator may schedule a retry for it (spec.md §7: HandlerError is
// retried up to max_attempts; InputError, DependencyUnsatisfied,
// DuplicateFile, CacheInsertFail, LockTimeout are not. ResourcePressure is
// never attached to a task error - it only ever surfaces from the resource
// monitor's own logs/stats - so it isn't a case here).
func classify(err error) (task.ErrorKind, bool) {
	if te, ok := err.(*task.TaskError); ok {
		switch te.Kind {
		case task.ErrorKindHandler:
			return te.Kind, true
		default:
			return te.Kind, false
		}
	}
	return task.ErrorKindHandler, true
}

// BackoffSchedule computes the delay before retry attempt n (1-indexed) for
// a given base/cap, matching clients/object_store_client.go's exponential
// backoff executor shape, parameterized by retry.base_delay /
// retry.max_delay (spec.md §6). The same schedule applies to every task type.
type BackoffSchedule struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultBackoffSchedule() BackoffSchedule {
	return BackoffSchedule{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
}

// NextDelay returns the delay to wait before retry attempt n (n starts at 1
// for the first retry after the initial failed attempt).
func (s BackoffSchedule) NextDelay(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.BaseDelay
	b.MaxInterval = s.MaxDelay
	b.MaxElapsedTime = 0 // schedule is consulted, never driven to exhaustion internally
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset() // start the first delay at BaseDelay rather than the library default

	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	if d > s.MaxDelay {
		d = s.MaxDelay
	}
	return d
}
