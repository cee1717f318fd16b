package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// GalleryIndexMetadata stores metadata for validating a persisted gallery index.
type GalleryIndexMetadata struct {
	EmbeddingCount int       `json:"embedding_count"`
	MaxEmbeddingID int64     `json:"max_embedding_id"`
	BuildTime      time.Time `json:"build_time"`
	Version        int       `json:"version"`
}

const galleryMetadataVersion = 1

// GalleryIndex is an HNSW graph over every stored embedding, used to shortlist
// candidate identities before exact mean scoring on large galleries.
type GalleryIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64]
	identityOf map[int64]int64 // embedding ID -> identity ID
	maxID      int64
	dims       int
	mu         sync.RWMutex
}

// dominantDim returns the most common non-zero vector length in gallery, preferring
// the smaller length on ties. Vectors of any other length are left out of the index.
func dominantDim(gallery map[int64][]EmbeddingRecord) int {
	counts := make(map[int]int)
	for _, records := range gallery {
		for _, rec := range records {
			if len(rec.Vector) > 0 {
				counts[len(rec.Vector)]++
			}
		}
	}
	best, bestCount := 0, 0
	for dim, n := range counts {
		if n > bestCount || (n == bestCount && dim < best) {
			best, bestCount = dim, n
		}
	}
	return best
}

// NewGalleryIndex creates a new empty index.
func NewGalleryIndex() *GalleryIndex {
	return &GalleryIndex{
		identityOf: make(map[int64]int64),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index content with the given gallery.
func (g *GalleryIndex) Build(gallery map[int64][]EmbeddingRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.savedGraph = nil
	g.identityOf = make(map[int64]int64)
	g.maxID = 0
	g.dims = dominantDim(gallery)

	graph := newGraph()
	added := 0
	for identityID, records := range gallery {
		for _, rec := range records {
			if len(rec.Vector) != g.dims {
				continue
			}
			graph.Add(hnsw.MakeNode(rec.ID, rec.Vector))
			g.identityOf[rec.ID] = identityID
			g.maxID = max(g.maxID, rec.ID)
			added++
		}
	}
	if added == 0 {
		g.graph = nil
		return
	}
	g.graph = graph
}

// Candidates returns the distinct identity IDs owning the k nearest embeddings to query,
// nearest first.
func (g *GalleryIndex) Candidates(query []float32, k int) ([]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph == nil && g.savedGraph == nil {
		return nil, errors.New("index not initialized")
	}
	if len(query) != g.dims {
		return nil, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(query), g.dims)
	}

	var neighbors []hnsw.Node[int64]
	if g.savedGraph != nil {
		neighbors = g.savedGraph.Search(query, k*HNSWSearchMultiplier)
	} else {
		neighbors = g.graph.Search(query, k*HNSWSearchMultiplier)
	}

	seen := make(map[int64]struct{})
	var out []int64
	for _, n := range neighbors {
		identityID, ok := g.identityOf[n.Key]
		if !ok {
			continue
		}
		if _, dup := seen[identityID]; dup {
			continue
		}
		seen[identityID] = struct{}{}
		out = append(out, identityID)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Count returns the number of indexed embeddings.
func (g *GalleryIndex) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.identityOf)
}

// IsEmpty returns true if the index has no graph loaded.
func (g *GalleryIndex) IsEmpty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.graph == nil && g.savedGraph == nil
}

// Save persists the graph to path and its metadata to path+".meta".
func (g *GalleryIndex) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create gallery index file: %w", err)
	}
	defer f.Close()

	if err := g.graph.Export(f); err != nil {
		return fmt.Errorf("exporting gallery graph: %w", err)
	}

	meta, err := json.Marshal(GalleryIndexMetadata{
		EmbeddingCount: len(g.identityOf),
		MaxEmbeddingID: g.maxID,
		BuildTime:      time.Now(),
		Version:        galleryMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", meta, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load restores a graph saved by Save if its metadata still describes the gallery.
// Returns false when the file is missing or stale, in which case the caller rebuilds.
func (g *GalleryIndex) Load(path string, gallery map[int64][]EmbeddingRecord) (bool, error) {
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read metadata file: %w", err)
	}
	var meta GalleryIndexMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return false, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	dims := dominantDim(gallery)
	identityOf := make(map[int64]int64)
	var maxID int64
	for identityID, records := range gallery {
		for _, rec := range records {
			if len(rec.Vector) != dims {
				continue
			}
			identityOf[rec.ID] = identityID
			maxID = max(maxID, rec.ID)
		}
	}
	if meta.Version != galleryMetadataVersion || meta.EmbeddingCount != len(identityOf) || meta.MaxEmbeddingID != maxID {
		return false, nil
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return false, fmt.Errorf("failed to load gallery index: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.graph = nil
	g.savedGraph = saved
	g.identityOf = identityOf
	g.maxID = maxID
	g.dims = dims
	return true, nil
}
