package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/mediaindex-core/internal/task"
)

func TestRunMissingHandlerIsPermanentInputError(t *testing.T) {
	e := New(NewRegistry())
	out := e.Run(context.Background(), Context{}, task.Task{Type: task.TypeScanFile})
	require.NotNil(t, out.Err)
	require.Equal(t, task.ErrorKindInput, out.Err.Kind)
	require.False(t, out.Retryable)
}

func TestRunSuccessReturnsResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(task.TypeScanFile, func(ctx context.Context, ectx Context, t task.Task) (any, error) {
		return "ok", nil
	})
	e := New(reg)
	out := e.Run(context.Background(), Context{}, task.Task{Type: task.TypeScanFile, Payload: map[string]any{"path": "/tmp/f.jpg"}})
	require.Nil(t, out.Err)
	require.Equal(t, "ok", out.Result)
}

func TestRunClassifiesExplicitHandlerErrorAsRetryable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(task.TypeEmbedImage, func(ctx context.Context, ectx Context, t task.Task) (any, error) {
		return nil, task.NewTaskError(task.ErrorKindHandler, "embedding service unavailable")
	})
	e := New(reg)
	out := e.Run(context.Background(), Context{}, task.Task{Type: task.TypeEmbedImage, Payload: map[string]any{"path": "/tmp/f.jpg"}})
	require.Equal(t, task.ErrorKindHandler, out.Err.Kind)
	require.True(t, out.Retryable)
}

// ResourcePressure is never attached to a task error (spec.md §7) - a
// handler that somehow tagged one anyway must not be retried as if it were
// a HandlerError.
func TestRunClassifiesResourcePressureAsNonRetryable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(task.TypeEmbedImage, func(ctx context.Context, ectx Context, t task.Task) (any, error) {
		return nil, task.NewTaskError(task.ErrorKindResourcePressure, "gpu busy")
	})
	e := New(reg)
	out := e.Run(context.Background(), Context{}, task.Task{Type: task.TypeEmbedImage, Payload: map[string]any{"path": "/tmp/f.jpg"}})
	require.Equal(t, task.ErrorKindResourcePressure, out.Err.Kind)
	require.False(t, out.Retryable)
}

func TestRunClassifiesInputErrorAsNonRetryable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(task.TypeEmbedImage, func(ctx context.Context, ectx Context, t task.Task) (any, error) {
		return nil, task.NewTaskError(task.ErrorKindInput, "bad payload")
	})
	e := New(reg)
	out := e.Run(context.Background(), Context{}, task.Task{Type: task.TypeEmbedImage, Payload: map[string]any{"path": "/tmp/f.jpg"}})
	require.False(t, out.Retryable)
}

func TestRunWrapsPlainErrorAsRetryableHandlerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(task.TypeEmbedImage, func(ctx context.Context, ectx Context, t task.Task) (any, error) {
		return nil, errors.New("boom")
	})
	e := New(reg)
	out := e.Run(context.Background(), Context{}, task.Task{Type: task.TypeEmbedImage, Payload: map[string]any{"path": "/tmp/f.jpg"}})
	require.Equal(t, task.ErrorKindHandler, out.Err.Kind)
	require.True(t, out.Retryable)
}

func TestRunPassesExecutionContextThrough(t *testing.T) {
	reg := NewRegistry()
	var seenID string
	reg.Register(task.TypeEmbedImage, func(ctx context.Context, ectx Context, t task.Task) (any, error) {
		seenID = ectx.TaskID.String()
		return nil, nil
	})
	e := New(reg)
	id := task.New(task.TypeEmbedImage, nil, 0, time.Now()).ID
	e.Run(context.Background(), Context{TaskID: id}, task.Task{Type: task.TypeEmbedImage, Payload: map[string]any{"path": "/tmp/f.jpg"}})
	require.Equal(t, id.String(), seenID)
}

func TestBackoffScheduleIsMonotoneAndCapped(t *testing.T) {
	s := BackoffSchedule{BaseDelay: time.Second, MaxDelay: 8 * time.Second}
	d1 := s.NextDelay(1)
	d2 := s.NextDelay(2)
	d3 := s.NextDelay(3)
	d4 := s.NextDelay(10)

	require.True(t, d1 <= d2)
	require.True(t, d2 <= d3)
	require.LessOrEqual(t, d4, 8*time.Second)
}
