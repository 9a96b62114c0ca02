// Package metrics exposes the orchestrator's runtime state as Prometheus
// collectors, grounded on the teacher's CatalystAPIMetrics struct-of-gauges
// pattern (one struct built once by NewMetrics, a package-level singleton,
// registered with promauto so collectors attach to the default registry on
// construction) and on catabalancer's StartMetricSending ticker idiom for
// pushing periodic samples rather than computing them on scrape.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/livepeer/mediaindex-core/internal/orchestrator"
	"github.com/livepeer/mediaindex-core/internal/resource"
)

// OrchestratorStats is the subset of the orchestrator facade the collector
// polls; satisfied by *orchestrator.Orchestrator.
type OrchestratorStats interface {
	Stats() orchestrator.Stats
}

// OrchestratorMetrics is the queue/scheduler/resource gauge set (spec.md §4.9
// stats(), generalized from a single poll into a continuously updated
// collector so it can be scraped without blocking on the orchestrator's
// internal locks on every HTTP request).
type OrchestratorMetrics struct {
	QueueSize         prometheus.Gauge
	TasksRunning      prometheus.Gauge
	TasksCompleted    prometheus.Counter
	TasksFailed       prometheus.Counter
	TasksByType       *prometheus.GaugeVec
	ConcurrencyTarget prometheus.Gauge
	ResourceState     *prometheus.GaugeVec
}

// DedupMetrics counts handle_duplicate outcomes (spec.md §4.8).
type DedupMetrics struct {
	Outcomes     *prometheus.CounterVec
	HashCacheLen prometheus.Gauge
}

// CacheMetrics reports the cache strategy manager's aggregate state
// (spec.md §4.9 cache hit/miss/eviction collectors; this core tracks
// entries/bytes/hot-count continuously since C11 itself doesn't keep
// cumulative hit/miss counters).
type CacheMetrics struct {
	Entries   prometheus.Gauge
	SizeBytes prometheus.Gauge
	HotCount  prometheus.Gauge
}

// Metrics bundles every collector this process registers, following the
// teacher's single struct-of-collectors-plus-package-singleton shape.
type Metrics struct {
	Version      *prometheus.CounterVec
	Orchestrator OrchestratorMetrics
	Dedup        DedupMetrics
	Cache        CacheMetrics
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mediaindex_version",
			Help: "Current version that's running. Incremented once on app startup.",
		}, []string{"app", "version"}),
		Orchestrator: OrchestratorMetrics{
			QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_orchestrator_queue_size",
				Help: "Number of tasks currently queued, not yet dispatched.",
			}),
			TasksRunning: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_orchestrator_tasks_running",
				Help: "Number of tasks currently executing.",
			}),
			TasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "mediaindex_orchestrator_tasks_completed_total",
				Help: "Cumulative count of tasks that finished successfully.",
			}),
			TasksFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "mediaindex_orchestrator_tasks_failed_total",
				Help: "Cumulative count of tasks that exhausted their retries.",
			}),
			TasksByType: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "mediaindex_orchestrator_tasks_by_type",
				Help: "Current task count broken down by task type.",
			}, []string{"type"}),
			ConcurrencyTarget: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_orchestrator_concurrency_target",
				Help: "Current concurrency controller target worker count.",
			}),
			ResourceState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "mediaindex_orchestrator_resource_state",
				Help: "1 for the resource monitor's currently active state, 0 otherwise.",
			}, []string{"state"}),
		},
		Dedup: DedupMetrics{
			Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mediaindex_dedup_outcomes_total",
				Help: "Count of submit_file outcomes, by outcome.",
			}, []string{"outcome"}),
			HashCacheLen: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_dedup_hash_cache_entries",
				Help: "Entries currently held in the path-to-hash cache.",
			}),
		},
		Cache: CacheMetrics{
			Entries: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_cache_entries",
				Help: "Entries currently held by the cache strategy manager.",
			}),
			SizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_cache_size_bytes",
				Help: "Total bytes currently held by the cache strategy manager.",
			}),
			HotCount: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "mediaindex_cache_hot_entries",
				Help: "Entries currently promoted to the hot tier.",
			}),
		},
	}
	return m
}

var Metrics = NewMetrics()

var resourceStates = []resource.State{resource.StateNormal, resource.StateWarning, resource.StatePause}

// sample records one poll of the orchestrator's stats() facade into the
// gauge/counter set. TasksCompleted/TasksFailed are monotone counters, so
// each tick adds only the delta since the previous sample.
func sample(o OrchestratorStats, prevCompleted, prevFailed *int) {
	s := o.Stats()

	Metrics.Orchestrator.QueueSize.Set(float64(s.QueueSize))
	Metrics.Orchestrator.TasksRunning.Set(float64(s.Running))
	Metrics.Orchestrator.ConcurrencyTarget.Set(float64(s.ConcurrencyTarget))

	if d := s.Completed - *prevCompleted; d > 0 {
		Metrics.Orchestrator.TasksCompleted.Add(float64(d))
	}
	*prevCompleted = s.Completed
	if d := s.Failed - *prevFailed; d > 0 {
		Metrics.Orchestrator.TasksFailed.Add(float64(d))
	}
	*prevFailed = s.Failed

	for typ, count := range s.ByType {
		Metrics.Orchestrator.TasksByType.WithLabelValues(string(typ)).Set(float64(count))
	}

	for _, st := range resourceStates {
		v := 0.0
		if s.ResourceState == st {
			v = 1.0
		}
		Metrics.Orchestrator.ResourceState.WithLabelValues(string(st)).Set(v)
	}
}

// StartCollecting launches a background ticker that polls the orchestrator's
// Stats every interval (cache and dedup gauges are set separately through
// RecordCacheStats/RecordDedupCacheLen), mirroring
// catabalancer.StartMetricSending's fire-and-forget ticker goroutine.
// Stop the returned ticker-owning goroutine by closing the returned channel.
func StartCollecting(o OrchestratorStats, interval time.Duration) chan<- struct{} {
	stop := make(chan struct{})
	prevCompleted, prevFailed := 0, 0
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sample(o, &prevCompleted, &prevFailed)
			}
		}
	}()
	return stop
}

// RecordDedupOutcome implements the dedup-outcome counter side of spec.md
// §4.9's observability surface; called from orchestrator.SubmitFile's call
// site rather than sampled, since handle_duplicate outcomes are discrete
// events rather than a continuous gauge.
func RecordDedupOutcome(outcome string) {
	Metrics.Dedup.Outcomes.WithLabelValues(outcome).Inc()
}

// RecordCacheStats snapshots the cache strategy manager's aggregate state;
// called alongside RecordDedupOutcome from the composition root's poll loop
// since *cache.Cache and *dedup.Deduplicator aren't reachable through
// OrchestratorStats.
func RecordCacheStats(entries int, sizeBytes int64, hotCount int) {
	Metrics.Cache.Entries.Set(float64(entries))
	Metrics.Cache.SizeBytes.Set(float64(sizeBytes))
	Metrics.Cache.HotCount.Set(float64(hotCount))
}

// RecordDedupCacheLen snapshots the path-to-hash cache's entry count.
func RecordDedupCacheLen(n int) {
	Metrics.Dedup.HashCacheLen.Set(float64(n))
}
