package postgres

import (
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Store bundles the PostgreSQL repositories into a database.Store.
type Store struct {
	*IdentityRepository
	*EmbeddingRepository
	*AttendanceRepository
	*RecognitionLogRepository

	pool *Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates all repositories on top of one pool.
func NewStore(pool *Pool, dim int) *Store {
	return &Store{
		IdentityRepository:       NewIdentityRepository(pool),
		EmbeddingRepository:      NewEmbeddingRepository(pool, dim),
		AttendanceRepository:     NewAttendanceRepository(pool),
		RecognitionLogRepository: NewRecognitionLogRepository(pool),
		pool:                     pool,
	}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
