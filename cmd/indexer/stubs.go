package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/livepeer/mediaindex-core/config"
	"github.com/livepeer/mediaindex-core/internal/cache"
	"github.com/livepeer/mediaindex-core/internal/collaborators"
	"github.com/livepeer/mediaindex-core/internal/dedup"
)

// noopEmbeddingService is the default EmbeddingService collaborator when no
// real model-serving endpoint is configured: a deterministic zero vector of
// a fixed width, letting the pipeline exercise its full wiring without a
// live inference backend (spec.md §1 excludes embedding model algorithms
// from this core's scope - it only orchestrates calls to one).
type noopEmbeddingService struct{}

func (noopEmbeddingService) Embed(ctx context.Context, artifact []byte, modality collaborators.Modality) ([]float32, error) {
	return make([]float32, 8), nil
}

// inMemoryVectorStore is a development-only VectorStore collaborator; a
// production deployment wires a real ANN index instead (spec.md §1 excludes
// vector DB internals).
type inMemoryVectorStore struct {
	mu      sync.Mutex
	vectors []collaborators.VectorMatch
}

func newInMemoryVectorStore() *inMemoryVectorStore {
	return &inMemoryVectorStore{}
}

func (s *inMemoryVectorStore) Upsert(ctx context.Context, fileID uuid.UUID, segmentID string, hasSegmentID bool, vector []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, collaborators.VectorMatch{FileID: fileID, Metadata: metadata})
	return nil
}

func (s *inMemoryVectorStore) ANNSearch(ctx context.Context, vector []float32, k int, filter map[string]any) ([]collaborators.VectorMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k > len(s.vectors) {
		k = len(s.vectors)
	}
	return append([]collaborators.VectorMatch(nil), s.vectors[:k]...), nil
}

// inMemoryMetadataStore is a development-only FileMetadataStore, and also
// implements dedup.Store directly so it can be handed straight to
// dedup.New without an adapter (spec.md §6's collaborator 4).
type inMemoryMetadataStore struct {
	mu      sync.Mutex
	byHash  map[string]collaborators.FileRecord
	byID    map[uuid.UUID]collaborators.FileRecord
}

func newInMemoryMetadataStore() *inMemoryMetadataStore {
	return &inMemoryMetadataStore{byHash: map[string]collaborators.FileRecord{}, byID: map[uuid.UUID]collaborators.FileRecord{}}
}

func (s *inMemoryMetadataStore) GetFileByHash(hash string) (collaborators.FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byHash[hash]
	return rec, ok, nil
}

func (s *inMemoryMetadataStore) InsertFileMetadata(rec collaborators.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[rec.FileHash] = rec
	s.byID[rec.ID] = rec
	return nil
}

func (s *inMemoryMetadataStore) UpdateFileStatus(id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[id]; ok {
		rec.Status = status
		s.byID[id] = rec
		s.byHash[rec.FileHash] = rec
	}
	return nil
}

func (s *inMemoryMetadataStore) UpdateFilePath(id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[id]; ok {
		rec.FilePath = path
		s.byID[id] = rec
		s.byHash[rec.FileHash] = rec
	}
	return nil
}

// GetByHash implements dedup.Store directly over the same map.
func (s *inMemoryMetadataStore) GetByHash(hash string) (dedup.ExistingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byHash[hash]
	if !ok {
		return dedup.ExistingRecord{}, false
	}
	return dedup.ExistingRecord{FileID: rec.ID.String(), FilePath: rec.FilePath, Status: dedup.Status(rec.Status)}, true
}

func newDerivativeCache(cli config.Cli) *cache.Cache {
	return cache.New(cli.CacheConfig())
}

// defaultIgnorePatterns are doublestar glob patterns for paths the watcher
// never reports, matching the kind of incomplete-download/editor-swap-file
// noise a directory watcher sees in practice (spec.md §6 collaborator 1
// leaves ignore-list policy to the host process).
var defaultIgnorePatterns = []string{"**/.*", "**/*.tmp", "**/*.part", "**/~*"}

// pollingFileEventSource implements collaborators.FileEventSource by
// periodically re-listing a directory, since no filesystem-notification
// library is part of the teacher's or the pack's dependency set (spec.md §6
// collaborator 1 leaves the watcher implementation to the host process -
// polling is the simplest one that needs no new third-party dependency).
// Ignored-path filtering uses doublestar for full ** glob semantics, since
// path.Match/filepath.Match can't express "anywhere under this directory".
type pollingFileEventSource struct {
	root     string
	interval time.Duration
	events   chan collaborators.FileEvent
	stopCh   chan struct{}
	seen     map[string]time.Time
	ignore   []string
}

func newPollingFileEventSource(root string, interval time.Duration) *pollingFileEventSource {
	w := &pollingFileEventSource{
		root:     root,
		interval: interval,
		events:   make(chan collaborators.FileEvent, 64),
		stopCh:   make(chan struct{}),
		seen:     map[string]time.Time{},
		ignore:   defaultIgnorePatterns,
	}
	go w.run()
	return w
}

func (w *pollingFileEventSource) isIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *pollingFileEventSource) Events() <-chan collaborators.FileEvent {
	return w.events
}

func (w *pollingFileEventSource) Stop() {
	close(w.stopCh)
}

func (w *pollingFileEventSource) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			close(w.events)
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *pollingFileEventSource) scan() {
	_ = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.isIgnored(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if last, ok := w.seen[path]; ok && !info.ModTime().After(last) {
			return nil
		}
		w.seen[path] = info.ModTime()
		select {
		case w.events <- collaborators.FileEvent{Kind: collaborators.FileEventCreateOrModify, Path: path}:
		default:
		}
		return nil
	})
}
