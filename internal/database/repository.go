package database

import (
	"context"
	"time"
)

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// GetIdentity retrieves an identity by ID, returns nil if not found
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	// GetIdentityByRef retrieves an identity by external reference, returns nil if not found
	GetIdentityByRef(ctx context.Context, externalRef string) (*Identity, error)
	// ListIdentities returns identities ordered by name
	ListIdentities(ctx context.Context, activeOnly bool) ([]Identity, error)
}

// IdentityWriter provides write access to identities.
// Identities are never hard-deleted; SetActive(false) is the soft delete.
type IdentityWriter interface {
	IdentityReader

	// CreateIdentity stores a new active identity. Fails with ErrDuplicateRef for a taken externalRef.
	CreateIdentity(ctx context.Context, name, externalRef string) (*Identity, error)
	// SetActive toggles the active flag, ErrNotFound for unknown IDs
	SetActive(ctx context.Context, id int64, active bool) error
}

// EmbeddingReader provides read-only access to stored face embeddings
type EmbeddingReader interface {
	// EmbeddingsFor returns all embeddings of one identity in insertion order
	EmbeddingsFor(ctx context.Context, identityID int64) ([]EmbeddingRecord, error)
	// AllGroupedByIdentity returns every embedding keyed by identity ID
	AllGroupedByIdentity(ctx context.Context) (map[int64][]EmbeddingRecord, error)
	// CountFor returns the number of embeddings of one identity
	CountFor(ctx context.Context, identityID int64) (int, error)
	// Stats summarizes the whole embedding table
	Stats(ctx context.Context) (EmbeddingStats, error)
}

// EmbeddingStore provides write access to face embeddings.
// All vectors are L2-normalized and quality is clipped to [0, 1] before storage.
type EmbeddingStore interface {
	EmbeddingReader

	// Dimension returns the fixed vector dimension accepted by the store
	Dimension() int
	// Add stores one embedding and returns its ID. Fails with ErrDimensionMismatch on a wrong-length vector.
	Add(ctx context.Context, identityID int64, vector []float32, quality float64, source string) (int64, error)
	// RemoveAll deletes every embedding of an identity and returns the number removed
	RemoveAll(ctx context.Context, identityID int64) (int64, error)
	// ReplaceAll atomically swaps an identity's embeddings for a new set
	ReplaceAll(ctx context.Context, identityID int64, embeddings []NewEmbedding) ([]int64, error)
}

// AttendanceLedger stores at most one attendance row per (identity, activity, date, session).
type AttendanceLedger interface {
	// MarkPresent inserts a PRESENT row. Returns false, without error, when the key already exists.
	// The insert is atomic: concurrent callers on one key never both observe true.
	MarkPresent(ctx context.Context, key AttendanceKey, markedBy string) (bool, error)
	// RecordsForIdentity returns all records of an identity, newest date first
	RecordsForIdentity(ctx context.Context, identityID int64) ([]AttendanceRecord, error)
	// RecordsForActivity returns all records of an activity, newest date first
	RecordsForActivity(ctx context.Context, activityID int64) ([]AttendanceRecord, error)
	// RecordsForDate returns all records of a calendar date
	RecordsForDate(ctx context.Context, date time.Time) ([]AttendanceRecord, error)
	// RecordsForActivityBetween returns records of an activity within [from, to]
	RecordsForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]AttendanceRecord, error)
	// UpdateStatus corrects status and remarks of an existing record, ErrNotFound if absent
	UpdateStatus(ctx context.Context, key AttendanceKey, status AttendanceStatus, remarks string) error
}

// RecognitionLogStore persists recognition events for auditing
type RecognitionLogStore interface {
	// AppendEvent stores an event and sets its ID
	AppendEvent(ctx context.Context, ev *RecognitionEvent) error
	// Statistics aggregates events created at or after since
	Statistics(ctx context.Context, since time.Time) (RecognitionStats, error)
	// PurgeOlderThan deletes events created before cutoff and returns the count
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles every repository a backend provides.
type Store interface {
	IdentityWriter
	EmbeddingStore
	AttendanceLedger
	RecognitionLogStore
	Close() error
}
