package sqlite

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AppendEvent stores a recognition event.
func (s *Store) AppendEvent(ctx context.Context, ev *database.RecognitionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	row := recognitionLogRow{
		SessionID:  ev.SessionID,
		IdentityID: ev.IdentityID,
		Confidence: ev.Confidence,
		Outcome:    string(ev.Outcome),
		CameraID:   ev.CameraID,
		CreatedAt:  ev.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return database.Transient("insert recognition log", err)
	}
	ev.ID = row.ID
	return nil
}

// Statistics aggregates events created at or after since.
func (s *Store) Statistics(ctx context.Context, since time.Time) (database.RecognitionStats, error) {
	var stats database.RecognitionStats
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS recognized,
		       COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS unknown,
		       COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS low_confidence,
		       COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS duplicates,
		       COALESCE(AVG(confidence), 0) AS average_confidence,
		       COALESCE(MAX(confidence), 0) AS max_confidence,
		       COALESCE(MIN(confidence), 0) AS min_confidence
		FROM recognition_logs
		WHERE created_at >= ?`,
		database.OutcomeRecognized, database.OutcomeUnknown, database.OutcomeLowConfidence,
		database.OutcomeDuplicateSuppressed, since.UTC()).Scan(&stats).Error
	if err != nil {
		return stats, database.Transient("recognition statistics", err)
	}
	return stats, nil
}

// PurgeOlderThan deletes events created before cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&recognitionLogRow{})
	if res.Error != nil {
		return 0, database.Transient("purge recognition logs", res.Error)
	}
	return res.RowsAffected, nil
}
