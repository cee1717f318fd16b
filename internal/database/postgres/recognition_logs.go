package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// RecognitionLogRepository stores recognition events in PostgreSQL.
type RecognitionLogRepository struct {
	pool *Pool
}

// NewRecognitionLogRepository creates a new PostgreSQL recognition log repository.
func NewRecognitionLogRepository(pool *Pool) *RecognitionLogRepository {
	return &RecognitionLogRepository{pool: pool}
}

// AppendEvent stores a recognition event.
func (r *RecognitionLogRepository) AppendEvent(ctx context.Context, ev *database.RecognitionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	var identity sql.NullInt64
	if ev.IdentityID != nil {
		identity = sql.NullInt64{Int64: *ev.IdentityID, Valid: true}
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO recognition_logs (session_id, identity_id, confidence, outcome, camera_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		ev.SessionID, identity, ev.Confidence, string(ev.Outcome), ev.CameraID, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return database.Transient("insert recognition log", err)
	}
	return nil
}

// Statistics aggregates events created at or after since.
func (r *RecognitionLogRepository) Statistics(ctx context.Context, since time.Time) (database.RecognitionStats, error) {
	var s database.RecognitionStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE outcome = $2),
		       COUNT(*) FILTER (WHERE outcome = $3),
		       COUNT(*) FILTER (WHERE outcome = $4),
		       COUNT(*) FILTER (WHERE outcome = $5),
		       COALESCE(AVG(confidence), 0),
		       COALESCE(MAX(confidence), 0),
		       COALESCE(MIN(confidence), 0)
		FROM recognition_logs
		WHERE created_at >= $1`,
		since,
		string(database.OutcomeRecognized), string(database.OutcomeUnknown),
		string(database.OutcomeLowConfidence), string(database.OutcomeDuplicateSuppressed),
	).Scan(&s.Total, &s.Recognized, &s.Unknown, &s.LowConfidence, &s.Duplicates,
		&s.AverageConfidence, &s.MaxConfidence, &s.MinConfidence)
	if err != nil {
		return s, database.Transient("recognition statistics", err)
	}
	return s, nil
}

// PurgeOlderThan deletes events created before cutoff.
func (r *RecognitionLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.pool.Exec(ctx, "DELETE FROM recognition_logs WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, database.Transient("purge recognition logs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.Transient("purge recognition logs", err)
	}
	return n, nil
}
