// Package taskgroup implements the TaskGroupManager (C4): per-file task
// grouping and the single global pipeline lock that keeps one file's
// preprocess->embed chain contiguous with respect to every other file's
// pipeline tasks (spec.md §4.4, P4). Grounded on pipeline/coordinator.go's
// per-job sync.Mutex discipline (JobInfo.mu), generalized from one lock per
// upload job to one system-wide lock arbitrated between file groups.
package taskgroup

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livepeer/mediaindex-core/internal/task"
)

// Lock is the holder record for the pipeline lock (spec.md §3). Only one
// Lock is ever active system-wide: the scarce, stateful preprocess->embed
// chain for a single file runs to completion before another file's pipeline
// tasks may start (spec.md §4.4 rationale, P4).
type Lock struct {
	FileID      uuid.UUID
	OwnerTaskID uuid.UUID
	AcquiredAt  time.Time
}

// Group is the per-file task collection (C4, spec.md §3).
type Group struct {
	FileID    uuid.UUID
	FilePath  string
	CreatedAt time.Time

	TaskIDs map[uuid.UUID]bool
}

// Manager is the single lock-protected index of groups plus the one global
// pipeline lock (spec.md §5: "one lock protecting group and pipeline-lock
// state; held only for the duration of a single acquire/release operation").
type Manager struct {
	mu          sync.Mutex
	groups      map[uuid.UUID]*Group
	active      *Lock
	lockTimeout time.Duration
}

const defaultLockTimeout = 300 * time.Second

func New() *Manager {
	return &Manager{
		groups:      make(map[uuid.UUID]*Group),
		lockTimeout: defaultLockTimeout,
	}
}

// WithLockTimeout overrides the stale-lock threshold (pipeline.lock_timeout, spec.md §6).
func (m *Manager) WithLockTimeout(d time.Duration) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockTimeout = d
	return m
}

// Add registers a task under its file_id, lazily creating the group.
func (m *Manager) Add(fileID uuid.UUID, filePath string, taskID uuid.UUID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.groupLocked(fileID, filePath, now)
	g.TaskIDs[taskID] = true
}

// Remove drops a task id from its group's bookkeeping (called once the task
// reaches a sink status and is no longer relevant to lock contiguity).
func (m *Manager) Remove(fileID, taskID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[fileID]; ok {
		delete(g.TaskIDs, taskID)
	}
}

// TaskIDs returns the ids of the tasks still registered for fileID's group
// (a superset the caller narrows with its own status lookup); used to decide
// whether to defer an actual lock release.
func (m *Manager) TaskIDs(fileID uuid.UUID) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[fileID]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(g.TaskIDs))
	for id := range g.TaskIDs {
		ids = append(ids, id)
	}
	return ids
}

// AcquirePipelineLock implements spec.md §4.4's acquire_pipeline_lock:
//   - non-pipeline tasks trivially succeed;
//   - the global lock is unheld -> acquire for this task's file_id;
//   - the lock is held by the *same* file_id -> re-entrance permitted
//     (spec.md §9 Open Question 1);
//   - the lock is held by a different file_id but stale (older than
//     lock_timeout) -> take the lock over for this task's file_id (nothing is
//     logged here; the orchestrator's per-tick sweep logs stale releases);
//   - otherwise fail: another group holds the chain.
func (m *Manager) AcquirePipelineLock(t *task.Task, now time.Time) bool {
	if !t.IsPipeline() || !t.HasFileID {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.groupLocked(t.FileID, "", now)

	if m.active == nil {
		m.active = &Lock{FileID: t.FileID, OwnerTaskID: t.ID, AcquiredAt: now}
		return true
	}
	if m.active.FileID == t.FileID {
		// Re-entrant: refresh ownership to the new task without releasing.
		m.active.OwnerTaskID = t.ID
		return true
	}
	if now.Sub(m.active.AcquiredAt) > m.lockTimeout {
		m.active = &Lock{FileID: t.FileID, OwnerTaskID: t.ID, AcquiredAt: now}
		return true
	}
	return false
}

// ReleasePipelineLock releases the global lock currently held for t's file
// group. If hasMorePendingPipeline is true, the implementation defers the
// actual release (spec.md §4.4) to keep the chain contiguous: the lock stays
// assigned to the group (so another pipeline task of the *same* file can
// still re-enter) but its timestamp is refreshed so it isn't mistaken for
// stale.
func (m *Manager) ReleasePipelineLock(t *task.Task, hasMorePendingPipeline bool, now time.Time) {
	if !t.HasFileID {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.FileID != t.FileID {
		return
	}
	if hasMorePendingPipeline {
		m.active.AcquiredAt = now
		return
	}
	m.active = nil
}

// ForceReleaseStale releases the active lock if it has exceeded lockTimeout,
// returning the file id and owner task id that were released (spec.md §7:
// "a pipeline lock exceeded its timeout -> holder's task is marked failed
// with this cause and the lock is released"). Returns zero ids, false when
// nothing was released.
func (m *Manager) ForceReleaseStale(now time.Time) (fileID, ownerTaskID uuid.UUID, released bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return uuid.Nil, uuid.Nil, false
	}
	if now.Sub(m.active.AcquiredAt) <= m.lockTimeout {
		return uuid.Nil, uuid.Nil, false
	}
	fid, owner := m.active.FileID, m.active.OwnerTaskID
	m.active = nil
	return fid, owner, true
}

func (m *Manager) groupLocked(fileID uuid.UUID, filePath string, now time.Time) *Group {
	g, ok := m.groups[fileID]
	if !ok {
		g = &Group{FileID: fileID, FilePath: filePath, CreatedAt: now, TaskIDs: make(map[uuid.UUID]bool)}
		m.groups[fileID] = g
	} else if filePath != "" {
		g.FilePath = filePath
	}
	return g
}

// IsLocked reports whether fileID currently holds the global pipeline lock.
func (m *Manager) IsLocked(fileID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.FileID == fileID
}

// LockedBy returns the file id currently holding the lock, if any.
func (m *Manager) LockedBy() (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return uuid.Nil, false
	}
	return m.active.FileID, true
}
