package config

import (
	"strings"
	"time"

	"github.com/livepeer/mediaindex-core/internal/cache"
	"github.com/livepeer/mediaindex-core/internal/concurrency"
	"github.com/livepeer/mediaindex-core/internal/dedup"
	"github.com/livepeer/mediaindex-core/internal/executor"
	"github.com/livepeer/mediaindex-core/internal/resource"
	"github.com/livepeer/mediaindex-core/internal/segment"
	"github.com/livepeer/mediaindex-core/internal/task"
)

// ResourceThresholds builds the CPU/memory and GPU threshold pairs C5
// consumes from the flat Cli fields (spec.md §6: resource.{memory,gpu}.{warn,pause}).
func (c Cli) ResourceThresholds() (cpuMem, gpu resource.Thresholds) {
	cpuMem = resource.Thresholds{WarnPercent: c.ResourceMemoryWarnPercent, PausePercent: c.ResourceMemoryPausePercent}
	gpu = resource.Thresholds{WarnPercent: c.ResourceGPUWarnPercent, PausePercent: c.ResourceGPUPausePercent}
	return cpuMem, gpu
}

// ConcurrencyController builds C6 in static or dynamic mode per
// concurrency.mode (spec.md §4.3): dynamic mode steps the target within
// [min,max] against the per-signal concurrency.targets.{cpu,mem,gpu}
// set-points every concurrency.adjust_interval.
func (c Cli) ConcurrencyController() *concurrency.Controller {
	if Mode(c.ConcurrencyMode) == ModeStaticConcurrency {
		return concurrency.NewStatic(c.ConcurrencyBase)
	}
	setpoints := concurrency.SetPoints{CPU: c.ConcurrencyTargetCPU, Mem: c.ConcurrencyTargetMem, GPU: c.ConcurrencyTargetGPU}
	return concurrency.NewDynamic(c.ConcurrencyMin, c.ConcurrencyMax, c.ConcurrencyBase, c.ConcurrencyStep, setpoints, c.ConcurrencyAdjustInterval)
}

// Mode distinguishes the two concurrency.mode string values without
// importing the concurrency package's own Mode type into the Cli struct.
type Mode string

const ModeStaticConcurrency Mode = "static"

// DedupConfig builds C10's configuration (spec.md §6: dedup.*).
func (c Cli) DedupConfig() dedup.Config {
	return dedup.Config{
		Enabled:         c.DedupEnabled,
		VideoSampleSize: c.DedupVideoSampleBytes,
		CacheSize:       c.DedupHashCacheSize,
		CacheTTL:        time.Hour,
	}
}

// CacheConfig builds C11's configuration (spec.md §6: cache.*).
func (c Cli) CacheConfig() cache.Config {
	return cache.Config{
		MaxSizeBytes:   c.CacheMaxSizeBytes,
		DefaultTTL:     c.CacheDefaultTTL,
		EvictionPolicy: cache.EvictionPolicy(strings.ToUpper(c.CacheEvictionPolicy)),
		HotThreshold:   c.CacheHotThreshold,
		ColdTTL:        c.CacheColdTTL,
		ProtectedKeys:  map[string]bool{},
	}
}

// SegmentConfig builds C12's configuration (spec.md §6: video.*).
func (c Cli) SegmentConfig() segment.Config {
	return segment.Config{
		MaxSegmentDuration:     c.VideoSegmentMaxDuration,
		MinSegmentDuration:     c.VideoSegmentMinDuration,
		ShortVideoThreshold:    c.VideoShortVideoThreshold,
		TimestampPrecision:     100 * time.Millisecond,
		SceneDetectEnabled:     c.VideoSceneDetectEnabled,
		SceneDetectThreshold:   c.VideoSceneDetectThreshold,
		SceneDetectMinDuration: time.Second,
	}
}

// BackoffSchedule builds C7's retry schedule (spec.md §6: retry.backoff_seconds).
func (c Cli) BackoffSchedule() executor.BackoffSchedule {
	return executor.BackoffSchedule{BaseDelay: c.RetryBackoffSeconds, MaxDelay: c.RetryMaxBackoffSeconds}
}

// PriorityCalculator builds C2 with the wait-compensation and
// continuity-bonus terms from Cli (spec.md §4.1, §6: priority.*).
func (c Cli) PriorityCalculator() *task.PriorityCalculator {
	pc := task.NewPriorityCalculator()
	pc.WaitInterval = c.PriorityWaitInterval
	pc.WaitStep = c.PriorityWaitStep
	pc.MaxWait = c.PriorityWaitMax
	pc.ContinuityBonus = c.PriorityContinuityBonus
	return pc
}
