package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceRepository is a PostgreSQL-backed attendance ledger.
// Uniqueness is enforced by the ux_attendance_key constraint, never by a prior SELECT.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance ledger.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// MarkPresent inserts a PRESENT row; an existing row for the key yields false.
func (r *AttendanceRepository) MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	key = key.Normalized()

	res, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (identity_id, activity_id, date, session, status, marked_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT ux_attendance_key DO NOTHING`,
		key.IdentityID, key.ActivityID, key.Date.Format(database.DateLayout), string(key.Session),
		string(database.StatusPresent), markedBy)
	if err != nil {
		return false, database.Transient("mark present", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.Transient("mark present", err)
	}
	return n == 1, nil
}

const attendanceColumns = `id, identity_id, activity_id, date, session, status, marked_at, marked_by, remarks`

// RecordsForIdentity returns all records of an identity.
func (r *AttendanceRepository) RecordsForIdentity(ctx context.Context, identityID int64) ([]database.AttendanceRecord, error) {
	return r.query(ctx, "identity_id = $1", identityID)
}

// RecordsForActivity returns all records of an activity.
func (r *AttendanceRepository) RecordsForActivity(ctx context.Context, activityID int64) ([]database.AttendanceRecord, error) {
	return r.query(ctx, "activity_id = $1", activityID)
}

// RecordsForDate returns all records of a calendar date.
func (r *AttendanceRepository) RecordsForDate(ctx context.Context, date time.Time) ([]database.AttendanceRecord, error) {
	return r.query(ctx, "date = $1", database.DateOf(date).Format(database.DateLayout))
}

// RecordsForActivityBetween returns records of an activity within [from, to].
func (r *AttendanceRepository) RecordsForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]database.AttendanceRecord, error) {
	return r.query(ctx, "activity_id = $1 AND date BETWEEN $2 AND $3", activityID,
		database.DateOf(from).Format(database.DateLayout), database.DateOf(to).Format(database.DateLayout))
}

func (r *AttendanceRepository) query(ctx context.Context, where string, args ...any) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE `+where+` ORDER BY date DESC, marked_at DESC`, args...)
	if err != nil {
		return nil, database.Transient("query attendance", err)
	}
	defer rows.Close()
	return scanAttendance(rows)
}

// UpdateStatus corrects status and remarks; the key columns are never written.
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, key database.AttendanceKey, status database.AttendanceStatus, remarks string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !status.Valid() {
		return &database.ValidationError{Field: "status", Err: database.ErrInvalidValue}
	}
	key = key.Normalized()

	res, err := r.pool.Exec(ctx, `
		UPDATE attendance SET status = $5, remarks = $6
		WHERE identity_id = $1 AND activity_id = $2 AND date = $3 AND session = $4`,
		key.IdentityID, key.ActivityID, key.Date.Format(database.DateLayout), string(key.Session), string(status), remarks)
	if err != nil {
		return database.Transient("update attendance status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.Transient("update attendance status", err)
	}
	if n == 0 {
		return fmt.Errorf("attendance record: %w", database.ErrNotFound)
	}
	return nil
}

func scanAttendance(rows *sql.Rows) ([]database.AttendanceRecord, error) {
	var out []database.AttendanceRecord
	for rows.Next() {
		var (
			rec     database.AttendanceRecord
			date    time.Time
			session string
			status  string
		)
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.ActivityID, &date, &session, &status,
			&rec.MarkedAt, &rec.MarkedBy, &rec.Remarks); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		rec.Date = database.DateOf(date)
		rec.Session = database.Session(session)
		rec.Status = database.AttendanceStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Transient("iterate attendance", err)
	}
	return out, nil
}
