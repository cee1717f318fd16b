// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockIdentityStore is an in-memory database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[int64]*database.Identity
	nextID     int64

	// Error injection
	CreateError    error
	GetError       error
	ListError      error
	SetActiveError error
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[int64]*database.Identity),
	}
}

// AddIdentity inserts an identity with a fixed ID
func (m *MockIdentityStore) AddIdentity(id database.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[id.ID] = &id
	if id.ID > m.nextID {
		m.nextID = id.ID
	}
}

// CreateIdentity stores a new active identity
func (m *MockIdentityStore) CreateIdentity(ctx context.Context, name, externalRef string) (*database.Identity, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	if strings.TrimSpace(name) == "" {
		return nil, &database.ValidationError{Field: "name", Err: database.ErrInvalidValue}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if externalRef != "" {
		for _, id := range m.identities {
			if id.ExternalRef == externalRef {
				return nil, &database.ValidationError{Field: "external_ref", Err: database.ErrDuplicateRef}
			}
		}
	}
	m.nextID++
	now := time.Now()
	id := &database.Identity{ID: m.nextID, Name: name, ExternalRef: externalRef, Active: true, CreatedAt: now, UpdatedAt: now}
	m.identities[id.ID] = id
	copied := *id
	return &copied, nil
}

// GetIdentity retrieves an identity by ID
func (m *MockIdentityStore) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if got, ok := m.identities[id]; ok {
		copied := *got
		return &copied, nil
	}
	return nil, nil
}

// GetIdentityByRef retrieves an identity by external reference
func (m *MockIdentityStore) GetIdentityByRef(ctx context.Context, externalRef string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.identities {
		if id.ExternalRef == externalRef {
			copied := *id
			return &copied, nil
		}
	}
	return nil, nil
}

// ListIdentities returns identities ordered by name
func (m *MockIdentityStore) ListIdentities(ctx context.Context, activeOnly bool) ([]database.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Identity
	for _, id := range m.identities {
		if activeOnly && !id.Active {
			continue
		}
		out = append(out, *id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetActive toggles the active flag
func (m *MockIdentityStore) SetActive(ctx context.Context, id int64, active bool) error {
	if m.SetActiveError != nil {
		return m.SetActiveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	got, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	got.Active = active
	got.UpdatedAt = time.Now()
	return nil
}

// MockEmbeddingStore is an in-memory database.EmbeddingStore
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	dim        int
	embeddings map[int64][]database.EmbeddingRecord
	nextID     int64

	// Error injection
	AddError     error
	RemoveError  error
	ReplaceError error
	ReadError    error

	// ReplaceCalls counts ReplaceAll invocations
	ReplaceCalls int
}

// NewMockEmbeddingStore creates a new mock embedding store with a fixed dimension
func NewMockEmbeddingStore(dim int) *MockEmbeddingStore {
	return &MockEmbeddingStore{
		dim:        dim,
		embeddings: make(map[int64][]database.EmbeddingRecord),
	}
}

// Dimension returns the fixed vector dimension
func (m *MockEmbeddingStore) Dimension() int {
	return m.dim
}

func (m *MockEmbeddingStore) record(identityID int64, vector []float32, quality float64, source string) (database.EmbeddingRecord, error) {
	vec, q, err := database.PrepareEmbedding(m.dim, vector, quality)
	if err != nil {
		return database.EmbeddingRecord{}, err
	}
	m.nextID++
	return database.EmbeddingRecord{
		ID:         m.nextID,
		IdentityID: identityID,
		Vector:     vec,
		Dimension:  len(vec),
		Quality:    q,
		Source:     source,
		CreatedAt:  time.Now(),
	}, nil
}

// Add stores one embedding
func (m *MockEmbeddingStore) Add(ctx context.Context, identityID int64, vector []float32, quality float64, source string) (int64, error) {
	if m.AddError != nil {
		return 0, m.AddError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.record(identityID, vector, quality, source)
	if err != nil {
		return 0, err
	}
	m.embeddings[identityID] = append(m.embeddings[identityID], rec)
	return rec.ID, nil
}

// AddRaw inserts a record as-is, bypassing normalization and the dimension check
func (m *MockEmbeddingStore) AddRaw(rec database.EmbeddingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if rec.ID == 0 {
		rec.ID = m.nextID
	}
	if rec.Dimension == 0 {
		rec.Dimension = len(rec.Vector)
	}
	m.embeddings[rec.IdentityID] = append(m.embeddings[rec.IdentityID], rec)
}

// RemoveAll deletes every embedding of an identity
func (m *MockEmbeddingStore) RemoveAll(ctx context.Context, identityID int64) (int64, error) {
	if m.RemoveError != nil {
		return 0, m.RemoveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.embeddings[identityID])
	delete(m.embeddings, identityID)
	return int64(n), nil
}

// ReplaceAll swaps an identity's embeddings
func (m *MockEmbeddingStore) ReplaceAll(ctx context.Context, identityID int64, embeddings []database.NewEmbedding) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaceCalls++
	if m.ReplaceError != nil {
		return nil, m.ReplaceError
	}
	recs := make([]database.EmbeddingRecord, 0, len(embeddings))
	for _, e := range embeddings {
		rec, err := m.record(identityID, e.Vector, e.Quality, e.Source)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	m.embeddings[identityID] = recs
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// EmbeddingsFor returns all embeddings of one identity
func (m *MockEmbeddingStore) EmbeddingsFor(ctx context.Context, identityID int64) ([]database.EmbeddingRecord, error) {
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.EmbeddingRecord(nil), m.embeddings[identityID]...), nil
}

// AllGroupedByIdentity returns every embedding keyed by identity
func (m *MockEmbeddingStore) AllGroupedByIdentity(ctx context.Context) (map[int64][]database.EmbeddingRecord, error) {
	if m.ReadError != nil {
		return nil, m.ReadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64][]database.EmbeddingRecord, len(m.embeddings))
	for id, recs := range m.embeddings {
		out[id] = append([]database.EmbeddingRecord(nil), recs...)
	}
	return out, nil
}

// CountFor returns the number of embeddings of one identity
func (m *MockEmbeddingStore) CountFor(ctx context.Context, identityID int64) (int, error) {
	if m.ReadError != nil {
		return 0, m.ReadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings[identityID]), nil
}

// Stats summarizes stored embeddings
func (m *MockEmbeddingStore) Stats(ctx context.Context) (database.EmbeddingStats, error) {
	if m.ReadError != nil {
		return database.EmbeddingStats{}, m.ReadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats database.EmbeddingStats
	var sum float64
	for _, recs := range m.embeddings {
		if len(recs) == 0 {
			continue
		}
		stats.Identities++
		for _, r := range recs {
			stats.TotalEmbeddings++
			sum += r.Quality
		}
	}
	if stats.TotalEmbeddings > 0 {
		stats.AverageQuality = sum / float64(stats.TotalEmbeddings)
	}
	return stats, nil
}

// MockLedger is an in-memory database.AttendanceLedger.
// MarkPresent holds the lock across check and insert so it is atomic like a unique constraint.
type MockLedger struct {
	mu      sync.Mutex
	records map[database.AttendanceKey]*database.AttendanceRecord
	nextID  int64

	// Error injection
	MarkError   error
	QueryError  error
	UpdateError error

	// MarkCalls counts MarkPresent invocations
	MarkCalls int
}

// NewMockLedger creates a new mock ledger
func NewMockLedger() *MockLedger {
	return &MockLedger{
		records: make(map[database.AttendanceKey]*database.AttendanceRecord),
	}
}

// MarkPresent inserts a PRESENT record unless the key exists
func (m *MockLedger) MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkCalls++
	if m.MarkError != nil {
		return false, m.MarkError
	}
	if err := key.Validate(); err != nil {
		return false, err
	}
	key = key.Normalized()
	if _, exists := m.records[key]; exists {
		return false, nil
	}
	m.nextID++
	m.records[key] = &database.AttendanceRecord{
		ID:            m.nextID,
		AttendanceKey: key,
		Status:        database.StatusPresent,
		MarkedAt:      time.Now(),
		MarkedBy:      markedBy,
	}
	return true, nil
}

// Calls returns the number of MarkPresent invocations so far
func (m *MockLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MarkCalls
}

func (m *MockLedger) filter(match func(database.AttendanceRecord) bool) ([]database.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if match(*r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// RecordsForIdentity returns all records of an identity
func (m *MockLedger) RecordsForIdentity(ctx context.Context, identityID int64) ([]database.AttendanceRecord, error) {
	return m.filter(func(r database.AttendanceRecord) bool { return r.IdentityID == identityID })
}

// RecordsForActivity returns all records of an activity
func (m *MockLedger) RecordsForActivity(ctx context.Context, activityID int64) ([]database.AttendanceRecord, error) {
	return m.filter(func(r database.AttendanceRecord) bool { return r.ActivityID == activityID })
}

// RecordsForDate returns all records of a calendar date
func (m *MockLedger) RecordsForDate(ctx context.Context, date time.Time) ([]database.AttendanceRecord, error) {
	day := database.DateOf(date)
	return m.filter(func(r database.AttendanceRecord) bool { return r.Date.Equal(day) })
}

// RecordsForActivityBetween returns records of an activity within [from, to]
func (m *MockLedger) RecordsForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]database.AttendanceRecord, error) {
	lo, hi := database.DateOf(from), database.DateOf(to)
	return m.filter(func(r database.AttendanceRecord) bool {
		return r.ActivityID == activityID && !r.Date.Before(lo) && !r.Date.After(hi)
	})
}

// UpdateStatus corrects status and remarks
func (m *MockLedger) UpdateStatus(ctx context.Context, key database.AttendanceKey, status database.AttendanceStatus, remarks string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateError != nil {
		return m.UpdateError
	}
	rec, ok := m.records[key.Normalized()]
	if !ok {
		return fmt.Errorf("attendance record: %w", database.ErrNotFound)
	}
	rec.Status = status
	rec.Remarks = remarks
	return nil
}

// MockRecognitionLog is an in-memory database.RecognitionLogStore
type MockRecognitionLog struct {
	mu     sync.RWMutex
	events []database.RecognitionEvent

	// Error injection
	AppendError error
	StatsError  error
	PurgeError  error
}

// NewMockRecognitionLog creates a new mock recognition log
func NewMockRecognitionLog() *MockRecognitionLog {
	return &MockRecognitionLog{}
}

// AppendEvent stores an event
func (m *MockRecognitionLog) AppendEvent(ctx context.Context, ev *database.RecognitionEvent) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, *ev)
	return nil
}

// Events returns a copy of every stored event
func (m *MockRecognitionLog) Events() []database.RecognitionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.RecognitionEvent(nil), m.events...)
}

// Statistics aggregates events created at or after since
func (m *MockRecognitionLog) Statistics(ctx context.Context, since time.Time) (database.RecognitionStats, error) {
	if m.StatsError != nil {
		return database.RecognitionStats{}, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats database.RecognitionStats
	for _, ev := range m.events {
		if !ev.CreatedAt.Before(since) {
			stats.Add(ev)
		}
	}
	return stats, nil
}

// PurgeOlderThan deletes events created before cutoff
func (m *MockRecognitionLog) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PurgeError != nil {
		return 0, m.PurgeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var purged int64
	for _, ev := range m.events {
		if ev.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return purged, nil
}
