// Package collaborators declares the four external interface contracts the
// core consumes (spec.md §6): file-event source, embedding service, vector
// store, and file metadata store. Grounded on clients/ (the teacher's own
// collection of narrow, request-scoped interfaces to external services,
// e.g. clients.TranscodeStatusClient, clients.MistAPIClient) - one small
// interface per external system, implemented by a handler package and
// injected into the orchestrator rather than imported directly.
package collaborators

import (
	"context"

	"github.com/google/uuid"
)

// Modality is the media kind an artifact is embedded as.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
	ModalityAudio Modality = "audio"
)

// EmbeddingService is collaborator 2 (spec.md §6): embed(artifact, modality) -> vector.
type EmbeddingService interface {
	Embed(ctx context.Context, artifact []byte, modality Modality) ([]float32, error)
}

// VectorMatch is one ann_search result.
type VectorMatch struct {
	FileID   uuid.UUID
	Score    float64
	Metadata map[string]any
}

// VectorStore is collaborator 3 (spec.md §6). Similarity is cosine-distance
// based; the store itself is authoritative for search.
type VectorStore interface {
	Upsert(ctx context.Context, fileID uuid.UUID, segmentID string, hasSegmentID bool, vector []float32, metadata map[string]any) error
	ANNSearch(ctx context.Context, vector []float32, k int, filter map[string]any) ([]VectorMatch, error)
}

// FileRecord is what the metadata store holds per distinct content hash.
type FileRecord struct {
	ID        uuid.UUID
	FilePath  string
	FileName  string
	FileType  string
	FileSize  int64
	FileHash  string
	Status    string
	CreatedAt int64
	UpdatedAt int64
}

// FileMetadataStore is collaborator 4 (spec.md §6).
type FileMetadataStore interface {
	GetFileByHash(hash string) (FileRecord, bool, error)
	InsertFileMetadata(rec FileRecord) error
	UpdateFileStatus(id uuid.UUID, status string) error
	UpdateFilePath(id uuid.UUID, path string) error
}

// FileEvent is what the file-event source (collaborator 1) reports.
type FileEventKind string

const (
	FileEventCreateOrModify FileEventKind = "create_or_modify"
	FileEventDelete         FileEventKind = "delete"
)

type FileEvent struct {
	Kind FileEventKind
	Path string
}

// FileEventSource is collaborator 1 (spec.md §6): calls submit_file for
// create/modify; emits delete(path) for later wiring. The orchestrator
// consumes a channel of events rather than being called into directly, so
// any watcher implementation (fsnotify, polling, message queue) can sit
// behind it.
type FileEventSource interface {
	Events() <-chan FileEvent
}
