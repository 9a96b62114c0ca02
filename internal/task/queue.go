package task

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// queueItem is the heap element: a task id plus the ordering key computed at
// enqueue (or update) time. The queue never dereferences the Task itself for
// ordering, avoiding a dependency on the monitor's lock.
type queueItem struct {
	id        uuid.UUID
	priority  int
	createdAt time.Time
	index     int // position in the heap, maintained by container/heap
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

// Less implements the tie-break order from spec.md §4.2: priority key, then
// earliest created_at, then lexicographic id.
func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.id.String() < b.id.String()
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// StatusLookup is used by dequeue to drop stale entries per spec.md §4.2: the
// queue only ever holds ids, so it asks the monitor for the task's current
// status (and full value) to decide whether the entry is still live.
type StatusLookup interface {
	Get(id uuid.UUID) (*Task, bool)
}

// Queue is a priority-ordered waiting set of task ids (C3, spec.md §4.2).
// It is internally synchronized; callers need no external lock. Task values
// themselves are owned by the TaskMonitor (StatusLookup); the queue holds
// only ids and their ordering keys, consistent with the arena pattern in
// spec.md §9.
type Queue struct {
	mu     sync.Mutex
	heap   itemHeap
	byID   map[uuid.UUID]*queueItem
	lookup StatusLookup
}

// NewQueue creates an empty queue. lookup supplies task status for the
// dequeue-time staleness check; it may be nil for tests that never call
// Dequeue with status-filtering concerns (Peek/Dequeue tolerate a nil lookup
// by skipping the staleness check).
func NewQueue(lookup StatusLookup) *Queue {
	q := &Queue{
		byID:   make(map[uuid.UUID]*queueItem),
		lookup: lookup,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue inserts a task id at the given priority/created_at. Re-enqueuing an
// id already present updates its key in place (idempotent on task id) and
// reports false (not newly added).
func (q *Queue) Enqueue(id uuid.UUID, priority int, createdAt time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.byID[id]; ok {
		item.priority = priority
		item.createdAt = createdAt
		heap.Fix(&q.heap, item.index)
		return false
	}
	item := &queueItem{id: id, priority: priority, createdAt: createdAt}
	heap.Push(&q.heap, item)
	q.byID[id] = item
	return true
}

// Dequeue removes and returns the id of the lowest-key task, skipping (and
// dropping) any entries whose status is no longer pending/waiting_pipeline.
func (q *Queue) Dequeue() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (uuid.UUID, bool) {
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*queueItem)
		delete(q.byID, item.id)
		if q.isStale(item.id) {
			continue
		}
		return item.id, true
	}
	return uuid.Nil, false
}

func (q *Queue) isStale(id uuid.UUID) bool {
	if q.lookup == nil {
		return false
	}
	t, ok := q.lookup.Get(id)
	if !ok {
		return true
	}
	return t.Status != StatusPending && t.Status != StatusWaitingPipeline
}

// Peek returns the id that Dequeue would return, without removing it. Stale
// entries encountered while peeking are dropped, same as Dequeue.
func (q *Queue) Peek() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 {
		item := q.heap[0]
		if q.isStale(item.id) {
			heap.Pop(&q.heap)
			delete(q.byID, item.id)
			continue
		}
		return item.id, true
	}
	return uuid.Nil, false
}

// Remove drops an id from the queue. Returns false if it wasn't present.
func (q *Queue) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, id)
	return true
}

// UpdatePriority re-keys an already-queued id. Returns false if absent.
func (q *Queue) UpdatePriority(id uuid.UUID, newKey int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	item.priority = newKey
	heap.Fix(&q.heap, item.index)
	return true
}

// Size returns the number of ids currently queued (including any that will
// turn out to be stale on the next Dequeue).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
