package taskgroup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/mediaindex-core/internal/task"
)

func pipelineTask(fileID uuid.UUID) *task.Task {
	t := task.New(task.TypePreprocessVideo, nil, 3, time.Now())
	return t.WithFileID(fileID)
}

func TestAcquireNonPipelineTaskAlwaysSucceeds(t *testing.T) {
	m := New()
	scan := task.New(task.TypeScanFile, nil, 0, time.Now())
	require.True(t, m.AcquirePipelineLock(scan, time.Now()))
}

func TestAcquireLocksOutOtherGroup(t *testing.T) {
	m := New()
	now := time.Now()
	fileA, fileB := uuid.New(), uuid.New()

	taskA := pipelineTask(fileA)
	taskB := pipelineTask(fileB)

	require.True(t, m.AcquirePipelineLock(taskA, now))
	require.False(t, m.AcquirePipelineLock(taskB, now))
}

func TestAcquireIsReentrantWithinSameGroup(t *testing.T) {
	m := New()
	now := time.Now()
	fileA := uuid.New()

	taskA1 := pipelineTask(fileA)
	taskA2 := pipelineTask(fileA)

	require.True(t, m.AcquirePipelineLock(taskA1, now))
	require.True(t, m.AcquirePipelineLock(taskA2, now))
}

func TestReleaseFreesLockForOtherGroups(t *testing.T) {
	m := New()
	now := time.Now()
	fileA, fileB := uuid.New(), uuid.New()
	taskA := pipelineTask(fileA)
	taskB := pipelineTask(fileB)

	require.True(t, m.AcquirePipelineLock(taskA, now))
	m.ReleasePipelineLock(taskA, false, now)
	require.True(t, m.AcquirePipelineLock(taskB, now))
}

func TestReleaseDeferredWhenMorePipelineWorkPending(t *testing.T) {
	m := New()
	now := time.Now()
	fileA, fileB := uuid.New(), uuid.New()
	taskA := pipelineTask(fileA)
	taskB := pipelineTask(fileB)

	require.True(t, m.AcquirePipelineLock(taskA, now))
	m.ReleasePipelineLock(taskA, true, now)
	require.False(t, m.AcquirePipelineLock(taskB, now))
	require.True(t, m.IsLocked(fileA))
}

func TestStaleLockIsForceReleased(t *testing.T) {
	m := New().WithLockTimeout(time.Minute)
	now := time.Now()
	fileA, fileB := uuid.New(), uuid.New()
	taskA := pipelineTask(fileA)
	taskB := pipelineTask(fileB)

	require.True(t, m.AcquirePipelineLock(taskA, now))
	later := now.Add(2 * time.Minute)
	require.True(t, m.AcquirePipelineLock(taskB, later))
	require.True(t, m.IsLocked(fileB))
}

func TestForceReleaseStaleReportsFileID(t *testing.T) {
	m := New().WithLockTimeout(time.Minute)
	now := time.Now()
	fileA := uuid.New()
	taskA := pipelineTask(fileA)
	require.True(t, m.AcquirePipelineLock(taskA, now))

	_, _, ok := m.ForceReleaseStale(now.Add(30 * time.Second))
	require.False(t, ok)

	fid, ownerID, ok := m.ForceReleaseStale(now.Add(2 * time.Minute))
	require.True(t, ok)
	require.Equal(t, fileA, fid)
	require.Equal(t, taskA.ID, ownerID)
	require.False(t, m.IsLocked(fileA))
}
