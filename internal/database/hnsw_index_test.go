package database

import (
	"errors"
	"path/filepath"
	"testing"
)

func mixedGallery() map[int64][]EmbeddingRecord {
	return map[int64][]EmbeddingRecord{
		1: {{ID: 1, IdentityID: 1, Vector: []float32{1, 0}}},
		2: {{ID: 2, IdentityID: 2, Vector: []float32{0, 1}}},
		3: {{ID: 3, IdentityID: 3, Vector: []float32{1, 0, 0}}},
	}
}

func TestGalleryIndex_BuildSkipsOtherDimensions(t *testing.T) {
	idx := NewGalleryIndex()
	idx.Build(mixedGallery())

	if got := idx.Count(); got != 2 {
		t.Errorf("expected 2 indexed embeddings, got %d", got)
	}
	ids, err := idx.Candidates([]float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Candidates = %v, want [2]", ids)
	}
}

func TestGalleryIndex_CandidatesDimensionMismatch(t *testing.T) {
	idx := NewGalleryIndex()
	idx.Build(mixedGallery())

	if _, err := idx.Candidates([]float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestGalleryIndex_LoadAppliesSameFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.hnsw")
	built := NewGalleryIndex()
	built.Build(mixedGallery())
	if err := built.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded := NewGalleryIndex()
	ok, err := loaded.Load(path, mixedGallery())
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v; want fresh index", ok, err)
	}
	if _, err := loaded.Candidates([]float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch after Load, got %v", err)
	}
	ids, err := loaded.Candidates([]float32{1, 0}, 1)
	if err != nil || len(ids) != 1 || ids[0] != 1 {
		t.Errorf("Candidates = %v, %v; want [1]", ids, err)
	}
}
