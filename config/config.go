// Package config holds the orchestration core's package-level defaults and
// the flag/env loader that produces a Cli, mirroring the teacher's flat
// const/var default style (config.go) plus ff/v3-based flag parsing (main.go).
package config

import "time"

var Version string

// Used so tests can generate fixed timestamps instead of time.Now().
var Clock TimestampGenerator = RealTimestampGenerator{}

// Concurrency defaults (spec.md §6: concurrency.{mode,min,max,base,targets,adjust_interval}).
const (
	DefaultConcurrencyMode           = "dynamic"
	DefaultConcurrencyMin            = 1
	DefaultConcurrencyMax            = 8
	DefaultConcurrencyBase           = 4
	DefaultConcurrencyTargetCPU      = 70.0
	DefaultConcurrencyTargetMem      = 70.0
	DefaultConcurrencyTargetGPU      = 80.0
	DefaultConcurrencyAdjustInterval = time.Second
	DefaultConcurrencyStep           = 1
)

// Resource back-pressure defaults (spec.md §6: resource.{memory,gpu}.{warn,pause}, .sample_interval).
const (
	DefaultResourceMemoryWarnPercent  = 80.0
	DefaultResourceMemoryPausePercent = 95.0
	DefaultResourceGPUWarnPercent     = 80.0
	DefaultResourceGPUPausePercent    = 95.0
	DefaultResourceSampleInterval     = 5 * time.Second
)

// Priority formula defaults (spec.md §4.1, §6: priority.wait.*, priority.continuity_bonus).
const (
	DefaultPriorityWaitInterval    = 60
	DefaultPriorityWaitStep        = 1
	DefaultPriorityWaitMax         = 999
	DefaultPriorityContinuityBonus = -20
)

// Pipeline lock staleness threshold (spec.md §6: pipeline.lock_timeout).
const DefaultPipelineLockTimeout = 300 * time.Second

// Dedup defaults (spec.md §6: dedup.{enabled,video_sample_bytes,hash_cache_size}).
const (
	DefaultDedupEnabled          = true
	DefaultDedupVideoSampleBytes = 1 << 20
	DefaultDedupHashCacheSize    = 10000
)

// Cache defaults (spec.md §6: cache.{max_size_bytes,default_ttl,eviction_policy,hot_threshold,cold_ttl}).
const (
	DefaultCacheMaxSizeBytes   = 5 << 30
	DefaultCacheDefaultTTL     = 30 * 24 * time.Hour
	DefaultCacheEvictionPolicy = "lfu"
	DefaultCacheHotThreshold   = 10
	DefaultCacheColdTTL        = 7 * 24 * time.Hour
)

// Video segmentation defaults (spec.md §6: video.{short_video_threshold,segment.{min,max}_duration,scene_detect.{enabled,threshold}}).
const (
	DefaultVideoShortVideoThreshold  = 6 * time.Second
	DefaultVideoSegmentMinDuration   = 500 * time.Millisecond
	DefaultVideoSegmentMaxDuration   = 5 * time.Second
	DefaultVideoSceneDetectEnabled   = true
	DefaultVideoSceneDetectThreshold = 0.3
)

// Retry defaults (spec.md §6: retry.{max_attempts,backoff_seconds}).
const (
	DefaultRetryMaxAttempts      = 3
	DefaultRetryBackoffSeconds   = 2 * time.Second
	DefaultRetryMaxBackoffSeconds = 60 * time.Second
)

// DefaultMetricsPort is the Prometheus scrape port, mirroring the teacher's
// own -metrics-port default.
const DefaultMetricsPort = 9090

// Default applies every package default to a zero-value Cli, mirroring the
// teacher's pattern of flag.XxxVar(&field, name, defaultValue, usage) - here
// centralized into one function so config/load.go and tests share one
// source of truth for defaults.
func Default() Cli {
	return Cli{
		ConcurrencyMode:           DefaultConcurrencyMode,
		ConcurrencyMin:            DefaultConcurrencyMin,
		ConcurrencyMax:            DefaultConcurrencyMax,
		ConcurrencyBase:           DefaultConcurrencyBase,
		ConcurrencyTargetCPU:      DefaultConcurrencyTargetCPU,
		ConcurrencyTargetMem:      DefaultConcurrencyTargetMem,
		ConcurrencyTargetGPU:      DefaultConcurrencyTargetGPU,
		ConcurrencyAdjustInterval: DefaultConcurrencyAdjustInterval,
		ConcurrencyStep:           DefaultConcurrencyStep,

		ResourceMemoryWarnPercent:  DefaultResourceMemoryWarnPercent,
		ResourceMemoryPausePercent: DefaultResourceMemoryPausePercent,
		ResourceGPUWarnPercent:     DefaultResourceGPUWarnPercent,
		ResourceGPUPausePercent:    DefaultResourceGPUPausePercent,
		ResourceSampleInterval:     DefaultResourceSampleInterval,

		PriorityWaitInterval:    DefaultPriorityWaitInterval,
		PriorityWaitStep:        DefaultPriorityWaitStep,
		PriorityWaitMax:         DefaultPriorityWaitMax,
		PriorityContinuityBonus: DefaultPriorityContinuityBonus,

		PipelineLockTimeout: DefaultPipelineLockTimeout,

		DedupEnabled:          DefaultDedupEnabled,
		DedupVideoSampleBytes: DefaultDedupVideoSampleBytes,
		DedupHashCacheSize:    DefaultDedupHashCacheSize,

		CacheMaxSizeBytes:   DefaultCacheMaxSizeBytes,
		CacheDefaultTTL:     DefaultCacheDefaultTTL,
		CacheEvictionPolicy: DefaultCacheEvictionPolicy,
		CacheHotThreshold:   DefaultCacheHotThreshold,
		CacheColdTTL:        DefaultCacheColdTTL,

		VideoShortVideoThreshold:  DefaultVideoShortVideoThreshold,
		VideoSegmentMinDuration:   DefaultVideoSegmentMinDuration,
		VideoSegmentMaxDuration:   DefaultVideoSegmentMaxDuration,
		VideoSceneDetectEnabled:   DefaultVideoSceneDetectEnabled,
		VideoSceneDetectThreshold: DefaultVideoSceneDetectThreshold,

		RetryMaxAttempts:       DefaultRetryMaxAttempts,
		RetryBackoffSeconds:    DefaultRetryBackoffSeconds,
		RetryMaxBackoffSeconds: DefaultRetryMaxBackoffSeconds,

		MetricsPort: DefaultMetricsPort,
	}
}
