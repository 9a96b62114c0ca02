package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/mediaindex-core/internal/orchestrator"
	"github.com/livepeer/mediaindex-core/internal/resource"
	"github.com/livepeer/mediaindex-core/internal/task"
)

type fakeStats struct {
	s orchestrator.Stats
}

func (f fakeStats) Stats() orchestrator.Stats { return f.s }

func TestSampleUpdatesGauges(t *testing.T) {
	prevCompleted, prevFailed := 0, 0
	sample(fakeStats{s: orchestrator.Stats{
		QueueSize:         3,
		Running:           2,
		Completed:         5,
		Failed:            1,
		ByType:            map[task.Type]int{task.TypeEmbedImage: 2},
		ConcurrencyTarget: 4,
		ResourceState:     resource.StateWarning,
	}}, &prevCompleted, &prevFailed)

	require.Equal(t, float64(3), testutil.ToFloat64(Metrics.Orchestrator.QueueSize))
	require.Equal(t, float64(2), testutil.ToFloat64(Metrics.Orchestrator.TasksRunning))
	require.Equal(t, float64(4), testutil.ToFloat64(Metrics.Orchestrator.ConcurrencyTarget))
	require.Equal(t, 5, prevCompleted)
	require.Equal(t, 1, prevFailed)
	require.Equal(t, float64(1), testutil.ToFloat64(Metrics.Orchestrator.ResourceState.WithLabelValues("warning")))
	require.Equal(t, float64(0), testutil.ToFloat64(Metrics.Orchestrator.ResourceState.WithLabelValues("normal")))
}

func TestSampleOnlyAddsPositiveDeltas(t *testing.T) {
	prevCompleted, prevFailed := 10, 10
	before := testutil.ToFloat64(Metrics.Orchestrator.TasksCompleted)
	sample(fakeStats{s: orchestrator.Stats{Completed: 10, Failed: 10}}, &prevCompleted, &prevFailed)
	require.Equal(t, before, testutil.ToFloat64(Metrics.Orchestrator.TasksCompleted))
}

func TestStartCollectingStopsCleanly(t *testing.T) {
	stop := StartCollecting(fakeStats{s: orchestrator.Stats{QueueSize: 7}}, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(stop)
	require.Equal(t, float64(7), testutil.ToFloat64(Metrics.Orchestrator.QueueSize))
}

func TestRecordDedupOutcomeIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(Metrics.Dedup.Outcomes.WithLabelValues("queued_new"))
	RecordDedupOutcome("queued_new")
	require.Equal(t, before+1, testutil.ToFloat64(Metrics.Dedup.Outcomes.WithLabelValues("queued_new")))
}

func TestRecordCacheStatsSetsGauges(t *testing.T) {
	RecordCacheStats(12, 4096, 3)
	require.Equal(t, float64(12), testutil.ToFloat64(Metrics.Cache.Entries))
	require.Equal(t, float64(4096), testutil.ToFloat64(Metrics.Cache.SizeBytes))
	require.Equal(t, float64(3), testutil.ToFloat64(Metrics.Cache.HotCount))
}
