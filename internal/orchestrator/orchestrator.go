// Package orchestrator implements the TaskOrchestrator (C9) main loop and
// the Core facade (spec.md §4.9, §6), wiring C2 through C8 into a single
// in-process engine. The worker dispatch is grounded on
// pipeline/coordinator.go's runHandlerAsync/finishJob pair: one
// panic-recovering goroutine per unit of work, state mutated under a lock,
// a single finishing function that records the outcome and fans out
// whatever happens next. The polling loop generalizes
// balancer/catalyst_balancer.go's StartMetricSending ticker idiom into the
// tighter sub-100ms scheduling cadence spec.md §5 requires.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/livepeer/mediaindex-core/internal/cache"
	"github.com/livepeer/mediaindex-core/internal/collaborators"
	"github.com/livepeer/mediaindex-core/internal/concurrency"
	"github.com/livepeer/mediaindex-core/internal/dedup"
	"github.com/livepeer/mediaindex-core/internal/executor"
	"github.com/livepeer/mediaindex-core/internal/monitor"
	"github.com/livepeer/mediaindex-core/internal/resource"
	"github.com/livepeer/mediaindex-core/internal/task"
	"github.com/livepeer/mediaindex-core/internal/taskgroup"
	"github.com/livepeer/mediaindex-core/log"
)

// SubmitOutcome is submit_file's result tag (spec.md §6).
type SubmitOutcome string

const (
	OutcomeQueuedNew       SubmitOutcome = "queued_new"
	OutcomeQueuedRetry     SubmitOutcome = "queued_retry"
	OutcomePathUpdated     SubmitOutcome = "path_updated"
	OutcomeSkippedDup      SubmitOutcome = "skipped_duplicate"
	OutcomeRejected        SubmitOutcome = "rejected"
)

// SubmitResult is submit_file's return value.
type SubmitResult struct {
	Outcome SubmitOutcome
	FileID  uuid.UUID
	HasFile bool
}

// Stats is the facade's stats() result (spec.md §6).
type Stats struct {
	QueueSize         int
	Running           int
	Completed         int
	Failed            int
	ByType            map[task.Type]int
	ConcurrencyTarget int
	ResourceState     resource.State
}

// metadataDedupAdapter bridges the collaborators.FileMetadataStore contract
// into dedup.Store's narrower shape.
type metadataDedupAdapter struct {
	store collaborators.FileMetadataStore
}

func (a metadataDedupAdapter) GetByHash(hash string) (dedup.ExistingRecord, bool) {
	rec, ok, err := a.store.GetFileByHash(hash)
	if err != nil || !ok {
		return dedup.ExistingRecord{}, false
	}
	return dedup.ExistingRecord{FileID: rec.ID.String(), FilePath: rec.FilePath, Status: dedup.Status(rec.Status)}, true
}

// Orchestrator is the Core facade plus its background main loop.
type Orchestrator struct {
	monitor    *monitor.Monitor
	queue      *task.Queue
	priority   *task.PriorityCalculator
	groups     *taskgroup.Manager
	resource   *resource.Monitor
	concur     *concurrency.Controller
	exec       *executor.Executor
	registry   *executor.Registry
	cache      *cache.Cache
	dedup      *dedup.Deduplicator
	metaStore  collaborators.FileMetadataStore

	maxRetries      int
	backoffSchedule executor.BackoffSchedule

	stopCh chan struct{}
	doneCh chan struct{}

	// cancelMu guards cancelFlags: scheduleOne (main-loop goroutine) inserts,
	// finishTask (worker goroutine) deletes, CancelTask/IsCancelled (facade/
	// worker goroutines) read - spec.md §5's locking discipline requires a
	// single exclusive lock around the shared map (unguarded concurrent map
	// access panics at runtime, not just a theoretical race).
	cancelMu    sync.Mutex
	cancelFlags map[uuid.UUID]*atomic.Bool
}

// Config bundles the pieces needed to build an Orchestrator; each field is
// independently constructible (spec.md §9: "only three singletons exist in
// the core: the monitor, the queue, and the configuration snapshot").
type Config struct {
	Monitor         *monitor.Monitor
	Queue           *task.Queue
	Priority        *task.PriorityCalculator
	Groups          *taskgroup.Manager
	Resource        *resource.Monitor
	Concurrency     *concurrency.Controller
	Registry        *executor.Registry
	Cache           *cache.Cache
	Dedup           *dedup.Deduplicator
	MetaStore       collaborators.FileMetadataStore
	MaxRetries      int
	BackoffSchedule executor.BackoffSchedule
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		monitor:         cfg.Monitor,
		queue:           cfg.Queue,
		priority:        cfg.Priority,
		groups:          cfg.Groups,
		resource:        cfg.Resource,
		concur:          cfg.Concurrency,
		exec:            executor.New(cfg.Registry),
		registry:        cfg.Registry,
		cache:           cfg.Cache,
		dedup:           cfg.Dedup,
		metaStore:       cfg.MetaStore,
		maxRetries:      cfg.MaxRetries,
		backoffSchedule: cfg.BackoffSchedule,
		cancelFlags:     make(map[uuid.UUID]*atomic.Bool),
	}
}

// RegisterHandler implements register_handler (spec.md §6).
func (o *Orchestrator) RegisterHandler(t task.Type, h executor.Handler) {
	o.registry.Register(t, h)
}

// SubmitFile implements submit_file (spec.md §6, §4.8): hash the file,
// consult the deduplicator, and either enqueue a new pipeline or report the
// existing outcome without creating a task.
func (o *Orchestrator) SubmitFile(ctx context.Context, path string, kind dedup.FileKind, now time.Time) SubmitResult {
	hash, err := o.dedup.HashFile(path, kind)
	if err != nil {
		log.LogNoRequestID("failed to hash submitted file, treating as new", "path", path, "err", err)
	}

	outcome, existing, found := o.dedup.ProcessNewFile(hash, path)
	switch outcome {
	case dedup.OutcomeSkipped:
		return SubmitResult{Outcome: OutcomeSkippedDup}
	case dedup.OutcomeUpdatePath:
		if found {
			if fid, err := uuid.Parse(existing.FileID); err == nil {
				if err := o.metaStore.UpdateFilePath(fid, path); err != nil {
					log.LogNoRequestID("failed to update file path on dedup match", "file_id", fid.String(), "err", err)
				}
				return SubmitResult{Outcome: OutcomePathUpdated, FileID: fid, HasFile: true}
			}
		}
		return SubmitResult{Outcome: OutcomePathUpdated}
	}

	var fileID uuid.UUID
	if outcome == dedup.OutcomeRetry && found {
		parsed, err := uuid.Parse(existing.FileID)
		if err == nil {
			fileID = parsed
		}
	}
	if fileID == uuid.Nil {
		fileID = uuid.New()
	}

	// Record the hash->file mapping before enqueuing work, so a concurrent
	// or later submission of identical bytes can actually be recognized as
	// a duplicate (spec.md §4.8) - without this the metadata store never
	// learns about a file until its pipeline completes.
	if outcome == dedup.OutcomeRetry {
		if err := o.metaStore.UpdateFileStatus(fileID, "pending"); err != nil {
			log.LogNoRequestID("failed to reset file status for retry", "file_id", fileID.String(), "err", err)
		}
		if err := o.metaStore.UpdateFilePath(fileID, path); err != nil {
			log.LogNoRequestID("failed to update file path for retry", "file_id", fileID.String(), "err", err)
		}
	} else {
		rec := collaborators.FileRecord{
			ID:        fileID,
			FilePath:  path,
			FileHash:  hash,
			Status:    "pending",
			CreatedAt: now.Unix(),
			UpdatedAt: now.Unix(),
		}
		if err := o.metaStore.InsertFileMetadata(rec); err != nil {
			log.LogNoRequestID("failed to insert file metadata", "file_id", fileID.String(), "err", err)
		}
	}

	o.enqueuePipeline(fileID, path, kind, now)

	if outcome == dedup.OutcomeRetry {
		return SubmitResult{Outcome: OutcomeQueuedRetry, FileID: fileID, HasFile: true}
	}
	return SubmitResult{Outcome: OutcomeQueuedNew, FileID: fileID, HasFile: true}
}

// enqueuePipeline creates the fixed preprocess task for fileID and pushes it
// through C2 into C3 (spec.md §3: "emits a fixed DAG of tasks: preprocess ->
// (optional) segment -> embed"). Downstream stages are chained by the main
// loop's completion handling rather than created up front, since segment
// count for video isn't known until preprocessing runs.
func (o *Orchestrator) enqueuePipeline(fileID uuid.UUID, path string, kind dedup.FileKind, now time.Time) {
	typ := preprocessTypeFor(kind)
	t := task.New(typ, map[string]any{"path": path}, o.maxRetries, now).WithFileID(fileID)
	o.submitTask(t, now)
}

func preprocessTypeFor(kind dedup.FileKind) task.Type {
	switch kind {
	case dedup.KindVideo:
		return task.TypePreprocessVideo
	case dedup.KindAudio:
		return task.TypePreprocessAudio
	default:
		return task.TypePreprocessImage
	}
}

// submitTask registers t with the monitor and group manager, then pushes it
// into the priority queue (spec.md §3/§4.9 step prior to scheduling).
func (o *Orchestrator) submitTask(t *task.Task, now time.Time) {
	o.monitor.Add(t)
	if t.HasFileID {
		o.groups.Add(t.FileID, "", t.ID, now)
	}
	key := o.priority.Calculate(t, now, o.monitor)
	o.queue.Enqueue(t.ID, key, now)
}

// GetTask implements get_task.
func (o *Orchestrator) GetTask(id uuid.UUID) (*task.Task, bool) {
	return o.monitor.Get(id)
}

// ListTasks implements list_tasks.
func (o *Orchestrator) ListTasks(f monitor.Filter) []task.Task {
	return o.monitor.List(f)
}

// CancelTask implements cancel_task (spec.md §5): pending/waiting_* tasks
// are removed from the queue outright; running tasks get a cooperative flag.
func (o *Orchestrator) CancelTask(id uuid.UUID, now time.Time) bool {
	t, ok := o.monitor.Get(id)
	if !ok {
		return false
	}
	switch t.Status {
	case task.StatusPending, task.StatusWaitingDeps, task.StatusWaitingPipeline:
		o.queue.Remove(id)
		return o.monitor.Transition(id, task.StatusCancelled, now)
	case task.StatusRunning:
		o.cancelMu.Lock()
		flag, ok := o.cancelFlags[id]
		o.cancelMu.Unlock()
		if ok {
			flag.Store(true)
			return true
		}
		return false
	default:
		return false
	}
}

// IsCancelled is consulted by handlers that accept a cancel flag (spec.md §5).
func (o *Orchestrator) IsCancelled(id uuid.UUID) bool {
	o.cancelMu.Lock()
	flag, ok := o.cancelFlags[id]
	o.cancelMu.Unlock()
	if ok {
		return flag.Load()
	}
	return false
}

// SetPriority implements set_priority: overrides the computed key with an
// explicit value (spec.md §6).
func (o *Orchestrator) SetPriority(id uuid.UUID, priority int) bool {
	return o.queue.UpdatePriority(id, priority)
}

// Stats implements stats().
func (o *Orchestrator) Stats() Stats {
	ms := o.monitor.Stats()
	return Stats{
		QueueSize:         o.queue.Size(),
		Running:           ms.Running,
		Completed:         ms.Completed,
		Failed:            ms.Failed,
		ByType:            ms.ByType,
		ConcurrencyTarget: o.concur.Target(),
		ResourceState:     o.resource.State(),
	}
}

// CacheStats exposes C11's aggregate state for the metrics collector.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// DedupStats exposes C10's path-to-hash cache size for the metrics collector.
func (o *Orchestrator) DedupStats() dedup.CacheStats {
	return o.dedup.CacheStats()
}

// Monitor exposes C8 for debug surfaces (e.g. the websocket event feed)
// that need to subscribe to task-state transitions directly.
func (o *Orchestrator) Monitor() *monitor.Monitor {
	return o.monitor
}

const pollInterval = 50 * time.Millisecond

// Start launches the background main loop (spec.md §4.9) and the resource
// monitor sampler. Stop must be called to release both.
func (o *Orchestrator) Start() {
	o.resource.Start()
	o.concur.StartAdjusting(o.resource.Last)

	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	go func() {
		defer close(o.doneCh)
		for {
			select {
			case <-o.stopCh:
				return
			default:
			}
			o.tick(time.Now())
		}
	}()
}

func (o *Orchestrator) Stop() {
	if o.stopCh != nil {
		close(o.stopCh)
		<-o.doneCh
	}
	o.concur.StopAdjusting()
	o.resource.Stop()
}

// tick runs one iteration of the main loop (spec.md §4.9, steps 1-6).
func (o *Orchestrator) tick(now time.Time) {
	o.sweepStaleLock(now)

	state := o.resource.State()
	if state == resource.StatePause {
		if !o.dequeueCriticalOnly(now) {
			time.Sleep(pollInterval)
		}
		return
	}

	if o.monitor.CountRunning() >= o.concur.Target() {
		time.Sleep(pollInterval)
		return
	}

	id, ok := o.queue.Dequeue()
	if !ok {
		time.Sleep(pollInterval)
		return
	}
	o.scheduleOne(id, now, state)
}

// dequeueCriticalOnly implements step 1's pause behavior: only schedule
// pipeline tasks belonging to a group with an already-completed predecessor
// (the chain must not be abandoned mid-flight), everything else stays queued.
func (o *Orchestrator) dequeueCriticalOnly(now time.Time) bool {
	id, ok := o.queue.Peek()
	if !ok {
		return false
	}
	t, ok := o.monitor.Get(id)
	if !ok {
		o.queue.Remove(id)
		return true
	}
	critical := t.IsPipeline() && t.HasFileID && o.monitor.HasCompletedPipelineTask(t.FileID)
	if !critical {
		return false
	}
	o.queue.Remove(id)
	o.scheduleOne(id, now, resource.StatePause)
	return true
}

// scheduleOne implements §4.9 steps 4-6 for a single dequeued id.
func (o *Orchestrator) scheduleOne(id uuid.UUID, now time.Time, state resource.State) {
	t, ok := o.monitor.Get(id)
	if !ok {
		return
	}

	if state == resource.StateWarning && isNonCritical(t.Type) {
		o.queue.Enqueue(id, o.priority.Calculate(t, now, o.monitor), now)
		return
	}

	if satisfied, exist := o.monitor.DependenciesSatisfied(id); exist && !satisfied {
		if o.monitor.AnyDependencyFailed(id) {
			o.monitor.Update(id, func(tt *task.Task) {
				tt.Error = task.NewTaskError(task.ErrorKindDependencyUnsatisfied, "a dependency failed")
			})
			o.monitor.Transition(id, task.StatusFailed, now)
			return
		}
		o.monitor.Transition(id, task.StatusWaitingDeps, now)
		o.queue.Enqueue(id, o.priority.Calculate(t, now, o.monitor), now)
		return
	}

	if t.IsPipeline() {
		if !o.groups.AcquirePipelineLock(t, now) {
			o.monitor.Transition(id, task.StatusWaitingPipeline, now)
			o.queue.Enqueue(id, o.priority.Calculate(t, now, o.monitor), now)
			return
		}
	}

	o.monitor.Transition(id, task.StatusRunning, now)
	o.cancelMu.Lock()
	o.cancelFlags[id] = &atomic.Bool{}
	o.cancelMu.Unlock()
	o.runAsync(id)
}

func isNonCritical(t task.Type) bool {
	return t == task.TypeGenerateThumb || t == task.TypeGeneratePreview
}

// runAsync dispatches id to a worker goroutine, grounded on
// pipeline/coordinator.go's runHandlerAsync: a panic-recovering goroutine
// that always reaches finishTask regardless of how the handler exits.
func (o *Orchestrator) runAsync(id uuid.UUID) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.LogNoRequestID("panic in task handler goroutine, recovering", "task_id", id.String(), "trace", string(debug.Stack()))
				o.finishTask(id, executor.Outcome{Err: task.NewTaskError(task.ErrorKindHandler, fmt.Sprintf("panic: %v", r)), Retryable: false}, time.Now())
				return
			}
		}()

		if err := o.concur.Acquire(context.Background()); err != nil {
			return
		}
		defer o.concur.Release()

		t, ok := o.monitor.Get(id)
		if !ok {
			return
		}
		ectx := executor.Context{
			TaskID:          id,
			EnqueueFollowup: o.enqueueFollowup(id, t.FileID, t.HasFileID),
			Cancelled:       func() bool { return o.IsCancelled(id) },
		}
		outcome := o.exec.Run(context.Background(), ectx, *t)
		o.finishTask(id, outcome, time.Now())
	}()
}

// enqueueFollowup builds the EnqueueFollowup closure a dispatched task's
// executor.Context is given: a new task of the requested type, depending on
// parentID, inheriting the parent's file group so the pipeline lock and
// group-scoped priority bonus (spec.md §4.3) still apply to it.
func (o *Orchestrator) enqueueFollowup(parentID uuid.UUID, fileID uuid.UUID, hasFileID bool) func(task.Type, map[string]any, ...uuid.UUID) uuid.UUID {
	return func(typ task.Type, payload map[string]any, dependsOn ...uuid.UUID) uuid.UUID {
		deps := append([]uuid.UUID{parentID}, dependsOn...)
		nt := task.New(typ, payload, o.maxRetries, time.Now()).WithDependsOn(deps...)
		if hasFileID {
			nt = nt.WithFileID(fileID)
		}
		o.submitTask(nt, time.Now())
		return nt.ID
	}
}

// finishTask implements executor step 3-5 plus orchestrator step 7: records
// the outcome, releases the pipeline lock if held, and wakes dependents.
func (o *Orchestrator) finishTask(id uuid.UUID, outcome executor.Outcome, now time.Time) {
	t, ok := o.monitor.Get(id)
	if !ok {
		return
	}
	o.cancelMu.Lock()
	delete(o.cancelFlags, id)
	o.cancelMu.Unlock()

	if outcome.Err == nil {
		o.monitor.Update(id, func(tt *task.Task) { tt.Result = outcome.Result })
		o.monitor.Transition(id, task.StatusCompleted, now)
		o.releaseLockAndWake(t, now)
		return
	}

	if outcome.Retryable && t.RetryCount < t.MaxRetries {
		o.monitor.Update(id, func(tt *task.Task) {
			tt.RetryCount++
			tt.Error = outcome.Err
			tt.Status = task.StatusPending
		})
		delay := o.backoffSchedule.NextDelay(t.RetryCount + 1)
		go func() {
			time.Sleep(delay)
			o.queue.Enqueue(id, o.priority.Calculate(t, time.Now(), o.monitor), time.Now())
		}()
		o.releaseLockAndWake(t, now)
		return
	}

	o.monitor.Update(id, func(tt *task.Task) { tt.Error = outcome.Err })
	o.monitor.Transition(id, task.StatusFailed, now)
	o.releaseLockAndWake(t, now)
}

// sweepStaleLock implements spec.md §4.4's lock_timeout recovery: force-
// release a pipeline lock that has outlived lock_timeout, fail its holder
// task with LockTimeout (spec.md §7, SPEC_FULL.md §9), and wake whatever was
// waiting behind it. A no-op when the active lock (if any) isn't stale.
func (o *Orchestrator) sweepStaleLock(now time.Time) {
	fileID, ownerID, released := o.groups.ForceReleaseStale(now)
	if !released {
		return
	}
	log.LogNoRequestID("pipeline lock exceeded lock_timeout, force-releasing", "file_id", fileID.String(), "task_id", ownerID.String())

	t, ok := o.monitor.Get(ownerID)
	if !ok {
		return
	}
	if t.Status == task.StatusRunning {
		o.cancelMu.Lock()
		if flag, ok := o.cancelFlags[ownerID]; ok {
			flag.Store(true)
		}
		o.cancelMu.Unlock()
	}
	if !t.Status.IsSink() {
		o.monitor.Update(ownerID, func(tt *task.Task) {
			tt.Error = task.NewTaskError(task.ErrorKindLockTimeout, "pipeline lock exceeded lock_timeout")
		})
		o.monitor.Transition(ownerID, task.StatusFailed, now)
		o.groups.Remove(fileID, ownerID)
	}
	for _, depID := range o.monitor.DependentsOf(ownerID) {
		dt, ok := o.monitor.Get(depID)
		if !ok || dt.Status != task.StatusWaitingDeps {
			continue
		}
		o.monitor.Update(depID, func(tt *task.Task) {
			tt.Error = task.NewTaskError(task.ErrorKindDependencyUnsatisfied, "dependency failed with LockTimeout")
		})
		o.monitor.Transition(depID, task.StatusFailed, now)
	}
}

func (o *Orchestrator) releaseLockAndWake(t *task.Task, now time.Time) {
	if t.IsPipeline() && t.HasFileID {
		hasMore := o.groupHasPendingPipelineWork(t.FileID)
		o.groups.ReleasePipelineLock(t, hasMore, now)
		o.groups.Remove(t.FileID, t.ID)
	}

	for _, depID := range o.monitor.DependentsOf(t.ID) {
		dt, ok := o.monitor.Get(depID)
		if !ok || dt.Status != task.StatusWaitingDeps {
			continue
		}
		if satisfied, _ := o.monitor.DependenciesSatisfied(depID); satisfied {
			o.monitor.Transition(depID, task.StatusPending, now)
			o.queue.Enqueue(depID, o.priority.Calculate(dt, now, o.monitor), now)
		}
	}
}

func (o *Orchestrator) groupHasPendingPipelineWork(fileID uuid.UUID) bool {
	for _, id := range o.groups.TaskIDs(fileID) {
		t, ok := o.monitor.Get(id)
		if !ok {
			continue
		}
		if t.IsPipeline() && !t.Status.IsSink() {
			return true
		}
	}
	return false
}
