package database

// Source labels recorded on embeddings and attendance rows.
const (
	SourceEnrollment  = "enrollment"
	SourceRecognition = "recognition"
	SourceManual      = "manual"
)

// HNSW index parameters for face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more nodes from HNSW
	// so that enough distinct identities remain after grouping.
	HNSWSearchMultiplier = 3
)
