package config

import (
	"flag"

	"github.com/peterbourgon/ff/v3"
)

// Load parses args (typically os.Args[1:]) into a Cli, starting from
// Default() and layering flags/env over it via ff/v3 - the same
// flag.NewFlagSet + ff.Parse(ff.WithEnvVarPrefix(...)) pattern main.go uses,
// generalized from catalyst-api's dozens of bespoke flags to this core's
// smaller orchestration-only surface (spec.md §6's config table).
func Load(args []string) (Cli, error) {
	cli := Default()
	fs := flag.NewFlagSet("mediaindex", flag.ContinueOnError)

	fs.StringVar(&cli.ConcurrencyMode, "concurrency-mode", cli.ConcurrencyMode, "static or dynamic worker pool sizing")
	fs.IntVar(&cli.ConcurrencyMin, "concurrency-min", cli.ConcurrencyMin, "minimum worker count")
	fs.IntVar(&cli.ConcurrencyMax, "concurrency-max", cli.ConcurrencyMax, "maximum worker count")
	fs.IntVar(&cli.ConcurrencyBase, "concurrency-base", cli.ConcurrencyBase, "worker count at normal resource state")
	fs.Float64Var(&cli.ConcurrencyTargetCPU, "concurrency-target-cpu", cli.ConcurrencyTargetCPU, "dynamic adjust set-point for CPU percent")
	fs.Float64Var(&cli.ConcurrencyTargetMem, "concurrency-target-mem", cli.ConcurrencyTargetMem, "dynamic adjust set-point for memory percent")
	fs.Float64Var(&cli.ConcurrencyTargetGPU, "concurrency-target-gpu", cli.ConcurrencyTargetGPU, "dynamic adjust set-point for GPU percent")
	fs.DurationVar(&cli.ConcurrencyAdjustInterval, "concurrency-adjust-interval", cli.ConcurrencyAdjustInterval, "how often the dynamic controller reconsiders its target")
	fs.IntVar(&cli.ConcurrencyStep, "concurrency-step", cli.ConcurrencyStep, "worker count adjusted per dynamic-mode step")

	fs.Float64Var(&cli.ResourceMemoryWarnPercent, "resource-memory-warn-percent", cli.ResourceMemoryWarnPercent, "memory percent that enters warning state")
	fs.Float64Var(&cli.ResourceMemoryPausePercent, "resource-memory-pause-percent", cli.ResourceMemoryPausePercent, "memory percent that enters pause state")
	fs.Float64Var(&cli.ResourceGPUWarnPercent, "resource-gpu-warn-percent", cli.ResourceGPUWarnPercent, "GPU percent that enters warning state")
	fs.Float64Var(&cli.ResourceGPUPausePercent, "resource-gpu-pause-percent", cli.ResourceGPUPausePercent, "GPU percent that enters pause state")
	fs.DurationVar(&cli.ResourceSampleInterval, "resource-sample-interval", cli.ResourceSampleInterval, "resource monitor sampling cadence")

	fs.IntVar(&cli.PriorityWaitInterval, "priority-wait-interval", cli.PriorityWaitInterval, "seconds of wait time per wait-compensation step")
	fs.IntVar(&cli.PriorityWaitStep, "priority-wait-step", cli.PriorityWaitStep, "priority points subtracted per wait-compensation step")
	fs.IntVar(&cli.PriorityWaitMax, "priority-wait-max", cli.PriorityWaitMax, "cap on wait-compensation bonus")
	fs.IntVar(&cli.PriorityContinuityBonus, "priority-continuity-bonus", cli.PriorityContinuityBonus, "priority bonus for continuing an in-progress pipeline")

	fs.DurationVar(&cli.PipelineLockTimeout, "pipeline-lock-timeout", cli.PipelineLockTimeout, "staleness threshold before a pipeline lock is force-released")

	fs.BoolVar(&cli.DedupEnabled, "dedup-enabled", cli.DedupEnabled, "enable content-hash deduplication")
	fs.Int64Var(&cli.DedupVideoSampleBytes, "dedup-video-sample-bytes", cli.DedupVideoSampleBytes, "bytes sampled from head/tail for video content hashing")
	fs.IntVar(&cli.DedupHashCacheSize, "dedup-hash-cache-size", cli.DedupHashCacheSize, "max entries in the path->hash cache")

	fs.Int64Var(&cli.CacheMaxSizeBytes, "cache-max-size-bytes", cli.CacheMaxSizeBytes, "max total bytes held by the cache strategy manager")
	fs.DurationVar(&cli.CacheDefaultTTL, "cache-default-ttl", cli.CacheDefaultTTL, "default entry TTL")
	fs.StringVar(&cli.CacheEvictionPolicy, "cache-eviction-policy", cli.CacheEvictionPolicy, "lru, lfu, fifo, or ttl")
	fs.IntVar(&cli.CacheHotThreshold, "cache-hot-threshold", cli.CacheHotThreshold, "access count that promotes an entry to hot")
	fs.DurationVar(&cli.CacheColdTTL, "cache-cold-ttl", cli.CacheColdTTL, "TTL applied to cold entries")

	fs.DurationVar(&cli.VideoShortVideoThreshold, "video-short-video-threshold", cli.VideoShortVideoThreshold, "videos at or under this duration get a single segment")
	fs.DurationVar(&cli.VideoSegmentMinDuration, "video-segment-min-duration", cli.VideoSegmentMinDuration, "minimum segment duration")
	fs.DurationVar(&cli.VideoSegmentMaxDuration, "video-segment-max-duration", cli.VideoSegmentMaxDuration, "maximum segment duration")
	fs.BoolVar(&cli.VideoSceneDetectEnabled, "video-scene-detect-enabled", cli.VideoSceneDetectEnabled, "use scene detection instead of fixed time slicing")
	fs.Float64Var(&cli.VideoSceneDetectThreshold, "video-scene-detect-threshold", cli.VideoSceneDetectThreshold, "scene-change sensitivity")

	fs.IntVar(&cli.RetryMaxAttempts, "retry-max-attempts", cli.RetryMaxAttempts, "max retries for a retryable task error")
	fs.DurationVar(&cli.RetryBackoffSeconds, "retry-backoff-seconds", cli.RetryBackoffSeconds, "base backoff delay")
	fs.DurationVar(&cli.RetryMaxBackoffSeconds, "retry-max-backoff-seconds", cli.RetryMaxBackoffSeconds, "backoff delay cap")

	fs.StringVar(&cli.WatchPath, "watch-path", "", "directory to watch for new media files")
	fs.IntVar(&cli.MetricsPort, "metrics-port", cli.MetricsPort, "port the Prometheus /metrics endpoint listens on")
	_ = fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("MEDIAINDEX"),
	)
	return cli, err
}
