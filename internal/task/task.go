// Package task defines the core Task value, its status machine, and the
// priority calculator and queue that schedule tasks for execution.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of task tags interpreted by registered handlers.
type Type string

const (
	TypePreprocessImage  Type = "preprocess_image"
	TypePreprocessVideo  Type = "preprocess_video"
	TypePreprocessAudio  Type = "preprocess_audio"
	TypeSegmentVideo     Type = "segment_video"
	TypeEmbedImage       Type = "embed_image"
	TypeEmbedVideo       Type = "embed_video"
	TypeEmbedAudio       Type = "embed_audio"
	TypeGenerateThumb    Type = "generate_thumbnail"
	TypeGeneratePreview  Type = "generate_preview"
	TypeScanFile         Type = "scan_file"
)

// pipelineTypes is the set of task types that must run contiguously within a
// file group (spec.md §4.4).
var pipelineTypes = map[Type]bool{
	TypePreprocessImage: true,
	TypePreprocessVideo: true,
	TypePreprocessAudio: true,
	TypeSegmentVideo:    true,
	TypeEmbedImage:      true,
	TypeEmbedVideo:      true,
	TypeEmbedAudio:      true,
}

// IsPipelineType reports whether t must run under the file group's pipeline lock.
func IsPipelineType(t Type) bool {
	return pipelineTypes[t]
}

// Status is a node in the task status DAG. Sinks are Completed, Failed and Cancelled.
type Status string

const (
	StatusPending         Status = "pending"
	StatusWaitingDeps     Status = "waiting_deps"
	StatusWaitingPipeline Status = "waiting_pipeline"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// IsSink reports whether a status is terminal.
func (s Status) IsSink() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrorKind is the closed set of error kinds from spec.md §7.
type ErrorKind string

const (
	ErrorKindInput                ErrorKind = "InputError"
	ErrorKindDependencyUnsatisfied ErrorKind = "DependencyUnsatisfied"
	ErrorKindHandler              ErrorKind = "HandlerError"
	ErrorKindResourcePressure     ErrorKind = "ResourcePressure"
	ErrorKindDuplicateFile        ErrorKind = "DuplicateFile"
	ErrorKindCacheInsertFail      ErrorKind = "CacheInsertFail"
	ErrorKindLockTimeout          ErrorKind = "LockTimeout"
)

// TaskError carries a stable kind tag alongside a human message, per spec.md §7.
type TaskError struct {
	Kind    ErrorKind
	Message string
}

func (e *TaskError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func NewTaskError(kind ErrorKind, message string) *TaskError {
	return &TaskError{Kind: kind, Message: message}
}

// Timestamps groups the task's lifecycle timestamps.
type Timestamps struct {
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// Task is an immutable-identity record of a unit of work (C1, spec.md §3).
// Mutable fields are only ever touched under the owning TaskMonitor's lock;
// Task itself has no internal synchronization, consistent with the
// single-owner arena pattern in spec.md §9.
type Task struct {
	ID         uuid.UUID
	Type       Type
	Payload    map[string]any
	Priority   int
	Status     Status
	FileID     uuid.UUID
	HasFileID  bool
	DependsOn  []uuid.UUID

	Timestamps Timestamps

	RetryCount int
	MaxRetries int

	Error  *TaskError
	Result any

	// FilePriority is the file-level priority (1-10); New sets it to 5 and
	// nothing else in this module changes it. It feeds the priority formula
	// in spec.md §4.1.
	FilePriority int
}

// New creates a task with a fresh identity and pending status.
func New(typ Type, payload map[string]any, maxRetries int, now time.Time) *Task {
	return &Task{
		ID:         uuid.New(),
		Type:       typ,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		Timestamps: Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
		FilePriority: 5,
	}
}

// WithFileID attaches the task to a file group.
func (t *Task) WithFileID(fileID uuid.UUID) *Task {
	t.FileID = fileID
	t.HasFileID = true
	return t
}

// WithDependsOn sets the task's dependency set.
func (t *Task) WithDependsOn(ids ...uuid.UUID) *Task {
	t.DependsOn = ids
	return t
}

// IsPipeline reports whether this task participates in the preprocess->embed chain.
func (t *Task) IsPipeline() bool {
	return IsPipelineType(t.Type)
}

// Snapshot returns a shallow copy safe to hand to callers outside the monitor's lock.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.DependsOn = append([]uuid.UUID(nil), t.DependsOn...)
	return cp
}
