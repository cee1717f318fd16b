package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MarkPresent inserts a PRESENT row relying on the unique key; an existing row yields false.
func (s *Store) MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	key = key.Normalized()

	row := attendanceRow{
		IdentityID: key.IdentityID,
		ActivityID: key.ActivityID,
		Date:       key.Date.Format(database.DateLayout),
		Session:    string(key.Session),
		Status:     string(database.StatusPresent),
		MarkedAt:   s.now().UTC(),
		MarkedBy:   markedBy,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, database.Transient("mark present", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordsForIdentity returns all records of an identity.
func (s *Store) RecordsForIdentity(ctx context.Context, identityID int64) ([]database.AttendanceRecord, error) {
	return s.findAttendance(ctx, "identity_id = ?", identityID)
}

// RecordsForActivity returns all records of an activity.
func (s *Store) RecordsForActivity(ctx context.Context, activityID int64) ([]database.AttendanceRecord, error) {
	return s.findAttendance(ctx, "activity_id = ?", activityID)
}

// RecordsForDate returns all records of a calendar date.
func (s *Store) RecordsForDate(ctx context.Context, date time.Time) ([]database.AttendanceRecord, error) {
	return s.findAttendance(ctx, "date = ?", database.DateOf(date).Format(database.DateLayout))
}

// RecordsForActivityBetween returns records of an activity within [from, to].
func (s *Store) RecordsForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]database.AttendanceRecord, error) {
	return s.findAttendance(ctx, "activity_id = ? AND date BETWEEN ? AND ?", activityID,
		database.DateOf(from).Format(database.DateLayout), database.DateOf(to).Format(database.DateLayout))
}

func (s *Store) findAttendance(ctx context.Context, query string, args ...any) ([]database.AttendanceRecord, error) {
	var rows []attendanceRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("date DESC, marked_at DESC").Find(&rows).Error; err != nil {
		return nil, database.Transient("query attendance", err)
	}
	out := make([]database.AttendanceRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("decode attendance %d: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// UpdateStatus corrects status and remarks; the key columns are never written.
func (s *Store) UpdateStatus(ctx context.Context, key database.AttendanceKey, status database.AttendanceStatus, remarks string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !status.Valid() {
		return &database.ValidationError{Field: "status", Err: database.ErrInvalidValue}
	}
	key = key.Normalized()

	res := s.db.WithContext(ctx).Model(&attendanceRow{}).
		Where("identity_id = ? AND activity_id = ? AND date = ? AND session = ?",
			key.IdentityID, key.ActivityID, key.Date.Format(database.DateLayout), string(key.Session)).
		Updates(map[string]any{"status": string(status), "remarks": remarks})
	if res.Error != nil {
		return database.Transient("update attendance status", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attendance record: %w", database.ErrNotFound)
	}
	return nil
}
