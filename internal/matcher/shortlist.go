package matcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// ErrIndexNotReady is returned by HNSWShortlister before the first Rebuild.
var ErrIndexNotReady = errors.New("gallery index not built")

// HNSWShortlister shortlists identities with an in-process HNSW graph over the gallery.
// When path is set the graph is persisted and reused across restarts while it still
// describes the stored gallery.
type HNSWShortlister struct {
	index *database.GalleryIndex
	path  string
	log   *logger.Logger
}

// NewHNSWShortlister creates a shortlister, path may be empty.
func NewHNSWShortlister(path string, log *logger.Logger) *HNSWShortlister {
	if log == nil {
		log = logger.Nop()
	}
	return &HNSWShortlister{
		index: database.NewGalleryIndex(),
		path:  path,
		log:   log.With("component", "gallery_index"),
	}
}

// Rebuild loads the persisted graph when it is fresh, otherwise builds and saves a new one.
func (s *HNSWShortlister) Rebuild(gallery map[int64][]database.EmbeddingRecord) error {
	if s.path != "" {
		loaded, err := s.index.Load(s.path, gallery)
		if err != nil {
			s.log.Warn("loading persisted gallery index failed", "path", s.path, "error", err)
		}
		if loaded {
			s.log.Debug("gallery index loaded", "path", s.path, "embeddings", s.index.Count())
			return nil
		}
	}

	s.index.Build(gallery)
	s.log.Debug("gallery index built", "embeddings", s.index.Count())

	if s.path != "" {
		if err := s.index.Save(s.path); err != nil {
			return fmt.Errorf("saving gallery index: %w", err)
		}
	}
	return nil
}

// Shortlist returns up to k identities owning the nearest embeddings.
func (s *HNSWShortlister) Shortlist(ctx context.Context, query []float32, k int) ([]int64, error) {
	if s.index.IsEmpty() {
		return nil, ErrIndexNotReady
	}
	return s.index.Candidates(query, k)
}
