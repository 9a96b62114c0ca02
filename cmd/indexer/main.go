// Command indexer wires C1-C12 into a running TaskOrchestrator and submits
// files reported by a file-event source, mirroring cmd/http-server.go's
// flag-parse-then-serve shape: parse flags, build the dependency graph,
// block until a shutdown signal.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/livepeer/mediaindex-core/config"
	"github.com/livepeer/mediaindex-core/internal/collaborators"
	"github.com/livepeer/mediaindex-core/internal/dedup"
	"github.com/livepeer/mediaindex-core/internal/executor"
	"github.com/livepeer/mediaindex-core/internal/handlers"
	"github.com/livepeer/mediaindex-core/internal/monitor"
	"github.com/livepeer/mediaindex-core/internal/orchestrator"
	"github.com/livepeer/mediaindex-core/internal/resource"
	"github.com/livepeer/mediaindex-core/internal/segment"
	"github.com/livepeer/mediaindex-core/internal/task"
	"github.com/livepeer/mediaindex-core/internal/taskgroup"
	"github.com/livepeer/mediaindex-core/log"
	"github.com/livepeer/mediaindex-core/metrics"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}

	cli, err := config.Load(os.Args[1:])
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	if cli.WatchPath == "" {
		glog.Fatal("-watch-path (or MEDIAINDEX_WATCH_PATH) is required")
	}

	o := buildOrchestrator(cli)
	o.Start()
	stopMetrics := metrics.StartCollecting(o, 5*time.Second)
	stopCollaboratorMetrics := startCollaboratorMetrics(o, 5*time.Second)

	http.Handle("/debug/feed", monitor.NewFeedHandler(o.Monitor()))
	go func() {
		if err := metrics.ListenAndServe(cli.MetricsPort); err != nil {
			glog.Errorf("metrics server stopped: %s", err)
		}
	}()

	watcher := newPollingFileEventSource(cli.WatchPath, time.Second)
	go func() {
		for ev := range watcher.Events() {
			if ev.Kind != collaborators.FileEventCreateOrModify {
				continue
			}
			result := o.SubmitFile(context.Background(), ev.Path, kindForPath(ev.Path), time.Now())
			metrics.RecordDedupOutcome(string(result.Outcome))
			log.LogNoRequestID("submitted file", "path", ev.Path, "outcome", string(result.Outcome))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	glog.Info("shutting down")
	watcher.Stop()
	close(stopCollaboratorMetrics)
	close(stopMetrics)
	o.Stop()
}

// startCollaboratorMetrics polls the cache and dedup collaborators, which
// aren't reachable through metrics.OrchestratorStats, and feeds their
// aggregate state into the same collector set.
func startCollaboratorMetrics(o *orchestrator.Orchestrator, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cs := o.CacheStats()
				metrics.RecordCacheStats(cs.Entries, cs.SizeBytes, cs.HotCount)
				metrics.RecordDedupCacheLen(o.DedupStats().CacheSize)
			}
		}
	}()
	return stop
}

func buildOrchestrator(cli config.Cli) *orchestrator.Orchestrator {
	cpuMemThresh, gpuThresh := cli.ResourceThresholds()
	resMonitor := resource.New(resource.GopsutilSampler{}).
		WithInterval(cli.ResourceSampleInterval).
		WithThresholds(cpuMemThresh, gpuThresh)

	mon := monitor.New()
	queue := task.NewQueue(mon)
	groups := taskgroup.New().WithLockTimeout(cli.PipelineLockTimeout)
	registry := executor.NewRegistry()

	metaStore := newInMemoryMetadataStore()
	cacheMgr := newDerivativeCache(cli)
	dedupr := dedup.New(cli.DedupConfig(), metaStore)
	planner := segment.New(cli.SegmentConfig(), segment.FFProbeDurationProber{}, nil)

	handlers.Register(registry, handlers.Deps{
		Embeddings: noopEmbeddingService{},
		Vectors:    newInMemoryVectorStore(),
		Metadata:   metaStore,
		Segmenter:  planner,
		Cache:      cacheMgr,
	})

	o := orchestrator.New(orchestrator.Config{
		Monitor:         mon,
		Queue:           queue,
		Priority:        cli.PriorityCalculator(),
		Groups:          groups,
		Resource:        resMonitor,
		Concurrency:     cli.ConcurrencyController(),
		Registry:        registry,
		Cache:           cacheMgr,
		Dedup:           dedupr,
		MetaStore:       metaStore,
		MaxRetries:      cli.RetryMaxAttempts,
		BackoffSchedule: cli.BackoffSchedule(),
	})
	return o
}

func kindForPath(path string) dedup.FileKind {
	switch ext(path) {
	case ".mp4", ".mov", ".mkv", ".webm":
		return dedup.KindVideo
	case ".mp3", ".wav", ".flac", ".ogg":
		return dedup.KindAudio
	default:
		return dedup.KindImage
	}
}

func ext(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
