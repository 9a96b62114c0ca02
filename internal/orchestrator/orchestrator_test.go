package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/mediaindex-core/internal/cache"
	"github.com/livepeer/mediaindex-core/internal/collaborators"
	"github.com/livepeer/mediaindex-core/internal/concurrency"
	"github.com/livepeer/mediaindex-core/internal/dedup"
	"github.com/livepeer/mediaindex-core/internal/executor"
	"github.com/livepeer/mediaindex-core/internal/handlers"
	"github.com/livepeer/mediaindex-core/internal/monitor"
	"github.com/livepeer/mediaindex-core/internal/resource"
	"github.com/livepeer/mediaindex-core/internal/segment"
	"github.com/livepeer/mediaindex-core/internal/task"
	"github.com/livepeer/mediaindex-core/internal/taskgroup"
)

// fakeSampler lets a test drive resource.Monitor's state deterministically
// instead of sampling the real machine, mirroring the teacher's own
// injected-clock test style (config/timestamp.go's FixedTimestampGenerator).
type fakeSampler struct {
	mu  sync.Mutex
	cpu float64
	mem float64
}

func (s *fakeSampler) set(cpu, mem float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu, s.mem = cpu, mem
}

func (s *fakeSampler) Sample() (resource.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resource.Sample{CPUPercent: s.cpu, MemoryPercent: s.mem, At: time.Now()}, nil
}

// fakeMetadataStore implements both collaborators.FileMetadataStore and
// dedup.Store over the same map, the way cmd/indexer/stubs.go's
// inMemoryMetadataStore does.
type fakeMetadataStore struct {
	mu     sync.Mutex
	byHash map[string]collaborators.FileRecord
	byID   map[uuid.UUID]collaborators.FileRecord
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{byHash: map[string]collaborators.FileRecord{}, byID: map[uuid.UUID]collaborators.FileRecord{}}
}

func (s *fakeMetadataStore) GetFileByHash(hash string) (collaborators.FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byHash[hash]
	return rec, ok, nil
}

func (s *fakeMetadataStore) InsertFileMetadata(rec collaborators.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[rec.FileHash] = rec
	s.byID[rec.ID] = rec
	return nil
}

func (s *fakeMetadataStore) UpdateFileStatus(id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[id]; ok {
		rec.Status = status
		s.byID[id] = rec
		s.byHash[rec.FileHash] = rec
	}
	return nil
}

func (s *fakeMetadataStore) UpdateFilePath(id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[id]; ok {
		rec.FilePath = path
		s.byID[id] = rec
		s.byHash[rec.FileHash] = rec
	}
	return nil
}

func (s *fakeMetadataStore) GetByHash(hash string) (dedup.ExistingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byHash[hash]
	if !ok {
		return dedup.ExistingRecord{}, false
	}
	return dedup.ExistingRecord{FileID: rec.ID.String(), FilePath: rec.FilePath, Status: dedup.Status(rec.Status)}, true
}

func (s *fakeMetadataStore) recordFor(hash string) (collaborators.FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byHash[hash]
	return rec, ok
}

type fakeEmbeddings struct{}

func (fakeEmbeddings) Embed(ctx context.Context, artifact []byte, modality collaborators.Modality) ([]float32, error) {
	return []float32{1, 2, 3, 4}, nil
}

type fakeVectorStore struct {
	mu      sync.Mutex
	upserts []collaborators.VectorMatch
}

func (s *fakeVectorStore) Upsert(ctx context.Context, fileID uuid.UUID, segmentID string, hasSegmentID bool, vector []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, collaborators.VectorMatch{FileID: fileID, Metadata: metadata})
	return nil
}

func (s *fakeVectorStore) ANNSearch(ctx context.Context, vector []float32, k int, filter map[string]any) ([]collaborators.VectorMatch, error) {
	return nil, nil
}

func (s *fakeVectorStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserts)
}

// fakeDurationProber reports a fixed duration per path, so segment_video
// exercises its time-based planning without shelling out to ffprobe.
type fakeDurationProber struct {
	durations map[string]time.Duration
}

func (p fakeDurationProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return p.durations[path], nil
}

// testEnv bundles one freshly wired Orchestrator plus the fakes a test wants
// to assert against directly.
type testEnv struct {
	o        *Orchestrator
	meta     *fakeMetadataStore
	vectors  *fakeVectorStore
	cache    *cache.Cache
	sampler  *fakeSampler
	resource *resource.Monitor
}

func newTestEnv(t *testing.T, durations map[string]time.Duration) *testEnv {
	t.Helper()

	meta := newFakeMetadataStore()
	vectors := &fakeVectorStore{}
	derivCache := cache.New(cache.DefaultConfig())
	sampler := &fakeSampler{}
	resMon := resource.New(sampler).WithInterval(24 * time.Hour)

	reg := executor.NewRegistry()
	handlers.Register(reg, handlers.Deps{
		Embeddings: fakeEmbeddings{},
		Vectors:    vectors,
		Metadata:   meta,
		Segmenter:  segment.New(segment.DefaultConfig(), fakeDurationProber{durations: durations}, nil),
		Cache:      derivCache,
	})

	o := New(Config{
		Monitor:         monitor.New(),
		Queue:           task.NewQueue(nil),
		Priority:        task.NewPriorityCalculator(),
		Groups:          taskgroup.New(),
		Resource:        resMon,
		Concurrency:     concurrency.NewStatic(4),
		Registry:        reg,
		Cache:           derivCache,
		Dedup:           dedup.New(dedup.DefaultConfig(), meta),
		MetaStore:       meta,
		MaxRetries:      2,
		BackoffSchedule: executor.BackoffSchedule{BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	})
	// Queue was built with a nil lookup above; rebuild wired to the monitor
	// so stale dequeues are dropped, matching production wiring in cmd/indexer.
	o.queue = task.NewQueue(o.monitor)

	o.Start()
	t.Cleanup(o.Stop)

	return &testEnv{o: o, meta: meta, vectors: vectors, cache: derivCache, sampler: sampler, resource: resMon}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func writeTempFile(t *testing.T, name string, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	return path
}

// Scenario 1 (spec.md §8): a brand-new image file flows through
// preprocess_image -> embed_image + generate_thumbnail to completion, with
// the vector store and derivative cache both populated.
func TestSubmitFileImagePipelineCompletesAndEmbeds(t *testing.T) {
	env := newTestEnv(t, nil)
	path := writeTempFile(t, "photo.jpg", []byte("fake-jpeg-bytes"))

	res := env.o.SubmitFile(context.Background(), path, dedup.KindImage, time.Now())
	require.Equal(t, OutcomeQueuedNew, res.Outcome)
	require.True(t, res.HasFile)

	waitFor(t, 2*time.Second, func() bool {
		return env.vectors.count() == 1
	})

	waitFor(t, time.Second, func() bool {
		_, hit := env.cache.Get("thumbnail:"+path, time.Now())
		return hit
	})
}

func mustHashOf(t *testing.T, env *testEnv, path string, kind dedup.FileKind) string {
	t.Helper()
	h, err := env.o.dedup.HashFile(path, kind)
	require.NoError(t, err)
	return h
}

// Scenario: submitting identical bytes under a new path after the first
// file completed reports path_updated and rewrites the stored path, without
// creating a second pipeline (spec.md §4.8, §8 scenario: duplicate image
// path-update).
func TestSubmitDuplicateCompletedFileReturnsPathUpdated(t *testing.T) {
	env := newTestEnv(t, nil)
	original := writeTempFile(t, "a.jpg", []byte("identical-bytes"))

	first := env.o.SubmitFile(context.Background(), original, dedup.KindImage, time.Now())
	require.Equal(t, OutcomeQueuedNew, first.Outcome)

	waitFor(t, 2*time.Second, func() bool {
		rec, ok := env.meta.recordFor(mustHashOf(t, env, original, dedup.KindImage))
		return ok && rec.Status == "completed"
	})

	moved := filepath.Join(t.TempDir(), "a-moved.jpg")
	require.NoError(t, os.WriteFile(moved, []byte("identical-bytes"), 0o644))

	before := env.vectors.count()
	second := env.o.SubmitFile(context.Background(), moved, dedup.KindImage, time.Now())
	require.Equal(t, OutcomePathUpdated, second.Outcome)
	require.Equal(t, first.FileID, second.FileID)

	rec, ok := env.meta.recordFor(mustHashOf(t, env, moved, dedup.KindImage))
	require.True(t, ok)
	require.Equal(t, moved, rec.FilePath)

	// No new pipeline is created for a path update: the vector count must
	// not grow.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, env.vectors.count())
}

// Scenario 2 (spec.md §8): a video at or under the short-video threshold
// gets exactly one full-video segment, and therefore exactly one
// embed_video task.
func TestSubmitShortVideoProducesSingleFullSegment(t *testing.T) {
	path := writeTempFile(t, "clip.mp4", []byte("fake-mp4-bytes"))
	env := newTestEnv(t, map[string]time.Duration{path: 3 * time.Second})

	res := env.o.SubmitFile(context.Background(), path, dedup.KindVideo, time.Now())
	require.Equal(t, OutcomeQueuedNew, res.Outcome)

	waitFor(t, 2*time.Second, func() bool {
		return env.vectors.count() == 1
	})
}

// Scenario 3 (spec.md §8): a 50s video with a 5s MaxSegmentDuration plans
// exactly ten contiguous time-based segments (nil SceneDetector falls
// straight through to planByTime), each producing its own embed_video task.
func TestSubmitLongVideoProducesTenTimeBasedSegments(t *testing.T) {
	path := writeTempFile(t, "long.mp4", []byte("fake-long-mp4-bytes"))
	env := newTestEnv(t, map[string]time.Duration{path: 50 * time.Second})

	res := env.o.SubmitFile(context.Background(), path, dedup.KindVideo, time.Now())
	require.Equal(t, OutcomeQueuedNew, res.Outcome)

	waitFor(t, 3*time.Second, func() bool {
		return env.vectors.count() == 10
	})
}

// Back-pressure: once the resource monitor reports Pause, the main loop
// does not schedule a newly submitted file's tasks (none of them continues a
// pipeline with a completed predecessor); they run once the state returns
// to Normal (spec.md §4.3/§4.9 step 1).
func TestResourcePauseHoldsNewWorkUntilNormal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.sampler.set(96, 10) // above PausePercent (95)
	env.resource.SampleOnce()

	waitFor(t, time.Second, func() bool {
		return env.resource.State() == resource.StatePause
	})

	idlePath := writeTempFile(t, "idle.jpg", []byte("never-should-run"))
	res := env.o.SubmitFile(context.Background(), idlePath, dedup.KindImage, time.Now())
	require.Equal(t, OutcomeQueuedNew, res.Outcome)

	// Give the main loop several ticks to (not) schedule it.
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 0, env.vectors.count(), "no work should complete while paused and no predecessor has finished")

	env.sampler.set(5, 5)
	env.resource.SampleOnce()
	waitFor(t, time.Second, func() bool {
		return env.resource.State() == resource.StateNormal
	})
	waitFor(t, time.Second, func() bool {
		return env.vectors.count() == 1
	})
}

// Pipeline lock contiguity: file A's pipeline tasks all complete before any
// of file B's pipeline tasks begin running, even though both are submitted
// back to back (spec.md §4.4, P4).
func TestPipelineLockSerializesTwoFilesPipelineTasks(t *testing.T) {
	env := newTestEnv(t, nil)
	pathA := writeTempFile(t, "a.jpg", []byte("file-a-bytes"))
	pathB := writeTempFile(t, "b.jpg", []byte("file-b-bytes"))

	resA := env.o.SubmitFile(context.Background(), pathA, dedup.KindImage, time.Now())
	resB := env.o.SubmitFile(context.Background(), pathB, dedup.KindImage, time.Now())
	require.Equal(t, OutcomeQueuedNew, resA.Outcome)
	require.Equal(t, OutcomeQueuedNew, resB.Outcome)

	waitFor(t, 2*time.Second, func() bool {
		return env.vectors.count() == 2
	})

	aTasks := env.o.monitor.List(monitor.Filter{FileID: resA.FileID, HasFileID: true})
	bTasks := env.o.monitor.List(monitor.Filter{FileID: resB.FileID, HasFileID: true})
	require.NotEmpty(t, aTasks)
	require.NotEmpty(t, bTasks)

	var aLastDone, bFirstStart time.Time
	for _, tk := range aTasks {
		if tk.IsPipeline() && tk.Timestamps.CompletedAt.After(aLastDone) {
			aLastDone = tk.Timestamps.CompletedAt
		}
	}
	bFirstStart = bTasks[0].Timestamps.StartedAt
	for _, tk := range bTasks {
		if tk.IsPipeline() && (bFirstStart.IsZero() || tk.Timestamps.StartedAt.Before(bFirstStart)) {
			bFirstStart = tk.Timestamps.StartedAt
		}
	}
	require.False(t, aLastDone.IsZero())
	require.False(t, bFirstStart.IsZero())
	require.True(t, !bFirstStart.Before(aLastDone), "file B's pipeline must not start before file A's pipeline finished")
}

// Retry-then-succeed: a handler that fails once with a retryable error
// completes on its second attempt (spec.md §4.6, §7).
func TestRetryThenSucceedCompletesOnSecondAttempt(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	attempts := 0
	env.o.RegisterHandler(task.TypeScanFile, func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, task.NewTaskError(task.ErrorKindHandler, "transient")
		}
		return "ok", nil
	})

	now := time.Now()
	tk := task.New(task.TypeScanFile, map[string]any{"path": "/tmp/whatever"}, 2, now)
	env.o.submitTask(tk, now)

	waitFor(t, time.Second, func() bool {
		got, ok := env.o.GetTask(tk.ID)
		return ok && got.Status == task.StatusCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, attempts)
}
