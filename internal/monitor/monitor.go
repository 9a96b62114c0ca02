// Package monitor implements the TaskMonitor (C8): the single authoritative
// task index, plus subscribe/publish event fan-out, modeled on the
// teacher's clients.TranscodeStatusClient callback contract
// (pipeline/coordinator.go) generalized to a registry of subscribers.
package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livepeer/mediaindex-core/internal/task"
)

// Filter selects tasks for ListTasks (§6 facade list_tasks).
type Filter struct {
	Status   task.Status
	HasStatus bool
	Type     task.Type
	HasType  bool
	FileID   uuid.UUID
	HasFileID bool
	Since    time.Time
	Until    time.Time
	HasRange bool
}

// Event is published on every status transition recorded by the monitor.
type Event struct {
	TaskID uuid.UUID
	FileID uuid.UUID
	HasFileID bool
	From   task.Status
	To     task.Status
	At     time.Time
}

// Monitor is the arena: tasks are owned here exclusively (spec.md §9); every
// other component refers to tasks only by id. One exclusive lock guards
// mutation; readers get a consistent snapshot copy.
type Monitor struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*task.Task

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

func New() *Monitor {
	return &Monitor{
		tasks:       make(map[uuid.UUID]*task.Task),
		subscribers: make(map[int]chan Event),
	}
}

// Add registers a newly created task under the monitor's authority.
func (m *Monitor) Add(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

// Get implements task.StatusLookup and returns a snapshot copy (never the
// live pointer) so callers cannot mutate monitor-owned state.
func (m *Monitor) Get(id uuid.UUID) (*task.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	snap := t.Snapshot()
	return &snap, true
}

// List returns snapshots matching filter.
func (m *Monitor) List(f Filter) []task.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]task.Task, 0)
	for _, t := range m.tasks {
		if f.HasStatus && t.Status != f.Status {
			continue
		}
		if f.HasType && t.Type != f.Type {
			continue
		}
		if f.HasFileID && (!t.HasFileID || t.FileID != f.FileID) {
			continue
		}
		if f.HasRange {
			if t.Timestamps.CreatedAt.Before(f.Since) || t.Timestamps.CreatedAt.After(f.Until) {
				continue
			}
		}
		out = append(out, t.Snapshot())
	}
	return out
}

// Transition applies a status change under the exclusive lock and publishes
// an Event to all subscribers. newStatus must never be a no-op back into a
// sink (spec.md §3's invariant: no sink is ever left).
func (m *Monitor) Transition(id uuid.UUID, newStatus task.Status, now time.Time) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if t.Status.IsSink() {
		m.mu.Unlock()
		return false
	}
	from := t.Status
	t.Status = newStatus
	t.Timestamps.UpdatedAt = now
	switch newStatus {
	case task.StatusRunning:
		t.Timestamps.StartedAt = now
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
		t.Timestamps.CompletedAt = now
	}
	fileID := t.FileID
	hasFileID := t.HasFileID
	m.mu.Unlock()

	m.publish(Event{TaskID: id, FileID: fileID, HasFileID: hasFileID, From: from, To: newStatus, At: now})
	return true
}

// Update applies arbitrary mutations to the stored task under the exclusive
// lock (used by the executor to set Error/Result/RetryCount).
func (m *Monitor) Update(id uuid.UUID, fn func(t *task.Task)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	fn(t)
	return true
}

// CountRunning returns the number of tasks currently in StatusRunning,
// consulted by the orchestrator against the concurrency budget (spec.md §4.9 step 2).
func (m *Monitor) CountRunning() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == task.StatusRunning {
			n++
		}
	}
	return n
}

// DependentsOf returns ids of tasks whose depends_on set includes id.
func (m *Monitor) DependentsOf(id uuid.UUID) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for _, t := range m.tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// DependenciesSatisfied reports whether every dependency of id is completed.
func (m *Monitor) DependenciesSatisfied(id uuid.UUID) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, false
	}
	for _, dep := range t.DependsOn {
		d, ok := m.tasks[dep]
		if !ok || d.Status != task.StatusCompleted {
			return false, true
		}
	}
	return true, true
}

// AnyDependencyFailed reports whether any of id's dependencies is failed or
// cancelled, meaning id must transition directly to failed with
// DependencyUnsatisfied (spec.md §7) rather than wait forever.
func (m *Monitor) AnyDependencyFailed(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return false
	}
	for _, dep := range t.DependsOn {
		d, ok := m.tasks[dep]
		if !ok {
			continue
		}
		if d.Status == task.StatusFailed || d.Status == task.StatusCancelled {
			return true
		}
	}
	return false
}

// HasCompletedPipelineTask implements task.GroupView for the priority
// calculator's continuity_bonus term.
func (m *Monitor) HasCompletedPipelineTask(fileID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.HasFileID && t.FileID == fileID && t.IsPipeline() && t.Status == task.StatusCompleted {
			return true
		}
	}
	return false
}

// Subscribe returns a channel of events plus an unsubscribe func. The
// channel is buffered; slow subscribers drop events rather than block
// Transition (mirroring the teacher's best-effort status-callback pattern in
// pipeline/coordinator.go's ReportProgress, which itself ignores send errors).
func (m *Monitor) Subscribe(buffer int) (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, buffer)
	m.subscribers[id] = ch
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

func (m *Monitor) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Stats aggregates counters for the facade's stats() call (spec.md §6).
type Stats struct {
	Running   int
	Completed int
	Failed    int
	ByType    map[task.Type]int
}

func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{ByType: make(map[task.Type]int)}
	for _, t := range m.tasks {
		switch t.Status {
		case task.StatusRunning:
			s.Running++
		case task.StatusCompleted:
			s.Completed++
		case task.StatusFailed:
			s.Failed++
		}
		s.ByType[t.Type]++
	}
	return s
}
