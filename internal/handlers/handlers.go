// Package handlers supplies the default executor.Handler implementations for
// every task.Type the orchestrator schedules (spec.md §3's fixed pipeline
// DAG: preprocess -> (optional) segment -> embed, plus the thumbnail/preview
// side branches). Grounded on pipeline/coordinator.go's per-stage handler
// functions (e.g. pipeFfmpeg/pipeExternal) - one function per pipeline
// stage, reading its typed payload out of the job and returning a result or
// error for the coordinator to record - generalized here from a fixed
// two-handler pipeline into a registry entry per task.Type.
package handlers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/livepeer/mediaindex-core/internal/cache"
	"github.com/livepeer/mediaindex-core/internal/collaborators"
	"github.com/livepeer/mediaindex-core/internal/executor"
	"github.com/livepeer/mediaindex-core/internal/segment"
	"github.com/livepeer/mediaindex-core/internal/task"
	"github.com/livepeer/mediaindex-core/log"
)

// Deps bundles the collaborators and internal components handlers are
// allowed to reach, injected once at registration time rather than imported
// globally (spec.md §9's execution-context discipline extends to the
// handler's own dependencies, not just the per-call Context).
type Deps struct {
	Embeddings collaborators.EmbeddingService
	Vectors    collaborators.VectorStore
	Metadata   collaborators.FileMetadataStore
	Segmenter  *segment.Planner
	Cache      *cache.Cache
}

// Register installs one handler per task.Type into reg (spec.md §4.1
// register_handler, called once at startup by cmd/indexer).
func Register(reg *executor.Registry, deps Deps) {
	reg.Register(task.TypeScanFile, scanFile)
	reg.Register(task.TypePreprocessImage, preprocessImage(deps))
	reg.Register(task.TypePreprocessVideo, preprocessVideo(deps))
	reg.Register(task.TypePreprocessAudio, preprocessAudio(deps))
	reg.Register(task.TypeSegmentVideo, segmentVideo(deps))
	reg.Register(task.TypeEmbedImage, embedArtifact(deps, collaborators.ModalityImage))
	reg.Register(task.TypeEmbedAudio, embedArtifact(deps, collaborators.ModalityAudio))
	reg.Register(task.TypeEmbedVideo, embedVideoSegment(deps))
	reg.Register(task.TypeGenerateThumb, generateDerivative(deps, "thumbnail"))
	reg.Register(task.TypeGeneratePreview, generateDerivative(deps, "preview"))
}

// filePayload is the payload shape every pipeline task carries: the path to
// the file under inspection, decoded via mapstructure rather than a type
// assertion so the opaque payload map stays JSON-friendly across the
// orchestrator's facade boundary (spec.md §6's submit_file payload).
type filePayload struct {
	Path string `mapstructure:"path"`
}

func decodePayload(raw map[string]any, out any) error {
	return mapstructure.Decode(raw, out)
}

// scanFile implements the scan_file task: confirms the file still exists
// and reports its size and modification time. Nothing in this module
// enqueues scan_file; the file watcher calls SubmitFile directly.
func scanFile(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
	var p filePayload
	if err := decodePayload(t.Payload, &p); err != nil {
		return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding scan_file payload: %v", err))
	}
	info, err := os.Stat(p.Path)
	if err != nil {
		return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("stat %s: %v", p.Path, err))
	}
	return map[string]any{"size": info.Size(), "mod_time": info.ModTime()}, nil
}

// preprocessImage checks the artifact exists and fans out an embed_image and
// a generate_thumbnail followup (images have no segmentation stage).
func preprocessImage(deps Deps) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		var p filePayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding preprocess_image payload: %v", err))
		}
		if _, err := os.Stat(p.Path); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("stat %s: %v", p.Path, err))
		}
		if ectx.Cancelled != nil && ectx.Cancelled() {
			return nil, task.NewTaskError(task.ErrorKindHandler, "cancelled before embed fan-out")
		}
		ectx.EnqueueFollowup(task.TypeEmbedImage, map[string]any{"path": p.Path})
		ectx.EnqueueFollowup(task.TypeGenerateThumb, map[string]any{"path": p.Path})
		return map[string]any{"path": p.Path}, nil
	}
}

func preprocessAudio(deps Deps) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		var p filePayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding preprocess_audio payload: %v", err))
		}
		if _, err := os.Stat(p.Path); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("stat %s: %v", p.Path, err))
		}
		ectx.EnqueueFollowup(task.TypeEmbedAudio, map[string]any{"path": p.Path})
		return map[string]any{"path": p.Path}, nil
	}
}

// preprocessVideo checks the video exists (it does not probe it), enqueues
// generate_preview, and hands off to segment_video, which
// owns the actual segmentation plan and per-segment embed fan-out (spec.md
// §8 scenario 3: ten embed_video tasks, each depending on preprocess_video -
// here they additionally depend on the intervening segment_video task,
// which is still a dependent of preprocess_video, preserving the chain).
func preprocessVideo(deps Deps) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		var p filePayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding preprocess_video payload: %v", err))
		}
		if _, err := os.Stat(p.Path); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("stat %s: %v", p.Path, err))
		}
		ectx.EnqueueFollowup(task.TypeSegmentVideo, map[string]any{"path": p.Path})
		ectx.EnqueueFollowup(task.TypeGeneratePreview, map[string]any{"path": p.Path})
		return map[string]any{"path": p.Path}, nil
	}
}

// segmentVideo runs the VideoSegmentPlanner and enqueues one embed_video
// followup per planned segment (spec.md §4.7/§8 scenario 3).
func segmentVideo(deps Deps) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		if deps.Segmenter == nil {
			return nil, task.NewTaskError(task.ErrorKindHandler, "no video segment planner configured")
		}
		var p filePayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding segment_video payload: %v", err))
		}
		segments, err := deps.Segmenter.Plan(ctx, p.Path, baseName(p.Path))
		if err != nil {
			return nil, task.NewTaskError(task.ErrorKindHandler, fmt.Sprintf("planning segments for %s: %v", p.Path, err))
		}

		ids := make([]string, 0, len(segments))
		for _, seg := range segments {
			if ectx.Cancelled != nil && ectx.Cancelled() {
				break
			}
			ectx.EnqueueFollowup(task.TypeEmbedVideo, map[string]any{
				"path":       p.Path,
				"segment_id": seg.ID,
				"start_ms":   seg.StartTime.Milliseconds(),
				"end_ms":     seg.EndTime.Milliseconds(),
			})
			ids = append(ids, seg.ID)
		}
		return map[string]any{"segment_ids": ids, "segment_count": len(ids)}, nil
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// embedArtifact handles embed_image/embed_audio: read the whole file,
// embed it, upsert into the vector store, and mark the file record
// completed (spec.md §6 end-to-end scenario 1/2).
func embedArtifact(deps Deps, modality collaborators.Modality) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		var p filePayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding embed payload: %v", err))
		}
		artifact, err := os.ReadFile(p.Path)
		if err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("reading %s: %v", p.Path, err))
		}
		return embedAndUpsert(ctx, deps, t, p.Path, artifact, modality, false, "")
	}
}

// embedSegmentPayload is embed_video's payload shape (produced by
// segmentVideo above).
type embedSegmentPayload struct {
	Path      string `mapstructure:"path"`
	SegmentID string `mapstructure:"segment_id"`
	StartMS   int64  `mapstructure:"start_ms"`
	EndMS     int64  `mapstructure:"end_ms"`
}

// embedVideoSegment handles embed_video: the segment's byte range isn't
// decoded here (no media-codec dependency is in scope per spec.md §1's
// non-goals), so the whole file stands in as the embedding artifact and the
// segment's timing is carried through as vector-store metadata instead -
// the model-preprocessing boundary spec.md §1 excludes.
func embedVideoSegment(deps Deps) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		var p embedSegmentPayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding embed_video payload: %v", err))
		}
		artifact, err := os.ReadFile(p.Path)
		if err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("reading %s: %v", p.Path, err))
		}
		return embedAndUpsert(ctx, deps, t, p.Path, artifact, collaborators.ModalityVideo, true, p.SegmentID)
	}
}

func embedAndUpsert(ctx context.Context, deps Deps, t task.Task, path string, artifact []byte, modality collaborators.Modality, hasSegment bool, segmentID string) (any, error) {
	if deps.Embeddings == nil || deps.Vectors == nil {
		return nil, task.NewTaskError(task.ErrorKindHandler, "no embedding service/vector store configured")
	}
	vector, err := deps.Embeddings.Embed(ctx, artifact, modality)
	if err != nil {
		return nil, task.NewTaskError(task.ErrorKindHandler, fmt.Sprintf("embedding %s: %v", path, err))
	}

	meta := map[string]any{"path": path, "modality": string(modality)}
	if hasSegment {
		meta["segment_id"] = segmentID
	}
	if err := deps.Vectors.Upsert(ctx, t.FileID, segmentID, hasSegment, vector, meta); err != nil {
		return nil, task.NewTaskError(task.ErrorKindHandler, fmt.Sprintf("upserting vector for %s: %v", path, err))
	}

	if deps.Metadata != nil && t.HasFileID {
		if err := deps.Metadata.UpdateFileStatus(t.FileID, "completed"); err != nil {
			log.LogNoRequestID("failed to update file status after embed", "file_id", t.FileID.String(), "err", err)
		}
	}
	return map[string]any{"dims": len(vector)}, nil
}

// generateDerivative handles generate_thumbnail/generate_preview: no image
// bytes are rendered; it puts a placeholder entry (the file's modification
// time, accounted as 1024 bytes, 24h TTL) under "<kind>:<path>" as an
// ordinary, not hot, entry in the CacheStrategyManager
// rather than the vector store or file metadata store (spec.md §4.6's
// cache is "read-through for hot derivative artifacts", never the vector
// index - derivative bytes and embeddings live in separate stores).
func generateDerivative(deps Deps, kind string) executor.Handler {
	return func(ctx context.Context, ectx executor.Context, t task.Task) (any, error) {
		var p filePayload
		if err := decodePayload(t.Payload, &p); err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("decoding %s payload: %v", kind, err))
		}
		info, err := os.Stat(p.Path)
		if err != nil {
			return nil, task.NewTaskError(task.ErrorKindInput, fmt.Sprintf("stat %s: %v", p.Path, err))
		}

		key := fmt.Sprintf("%s:%s", kind, p.Path)
		if deps.Cache != nil {
			deps.Cache.Put(key, info.ModTime(), 1024, 24*time.Hour, true, time.Now())
		}
		return map[string]any{"cache_key": key}, nil
	}
}
