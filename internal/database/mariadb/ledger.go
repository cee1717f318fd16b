package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Ledger is a MariaDB-backed database.AttendanceLedger.
type Ledger struct {
	pool *Pool
}

var _ database.AttendanceLedger = (*Ledger)(nil)

// NewLedger creates a ledger on top of pool.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// MarkPresent inserts a PRESENT row. The no-op ON DUPLICATE KEY UPDATE reports zero affected
// rows for an existing key, which makes the check and insert a single atomic statement.
func (l *Ledger) MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	key = key.Normalized()

	res, err := l.pool.db.ExecContext(ctx, `
		INSERT INTO attendance (identity_id, activity_id, date, session, status, marked_by)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`,
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

const attendanceColumns = `id, identity_id, activity_id, date, session, status, marked_at, marked_by, COALESCE(remarks, '')`

// RecordsForIdentity returns all records of an identity.
func (l *Ledger) RecordsForIdentity(ctx context.Context, identityID int64) ([]database.AttendanceRecord, error) {
	return l.query(ctx, "identity_id = ?", identityID)
}

// RecordsForActivity returns all records of an activity.
func (l *Ledger) RecordsForActivity(ctx context.Context, activityID int64) ([]database.AttendanceRecord, error) {
	return l.query(ctx, "activity_id = ?", activityID)
}

// RecordsForDate returns all records of a calendar date.
func (l *Ledger) RecordsForDate(ctx context.Context, date time.Time) ([]database.AttendanceRecord, error) {
	return l.query(ctx, "date = ?", database.DateOf(date).Format(database.DateLayout))
}

// RecordsForActivityBetween returns records of an activity within [from, to].
func (l *Ledger) RecordsForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]database.AttendanceRecord, error) {
	return l.query(ctx, "activity_id = ? AND date BETWEEN ? AND ?", activityID,
		database.DateOf(from).Format(database.DateLayout), database.DateOf(to).Format(database.DateLayout))
}

func (l *Ledger) query(ctx context.Context, where string, args ...any) ([]database.AttendanceRecord, error) {
	rows, err := l.pool.db.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE `+where+` ORDER BY date DESC, marked_at DESC`, args...)
	if err != nil {
		return nil, database.Transient("query attendance", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		var (
			rec             database.AttendanceRecord
			date            time.Time
			session, status string
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

// UpdateStatus corrects status and remarks; the key columns are never written.
func (l *Ledger) UpdateStatus(ctx context.Context, key database.AttendanceKey, status database.AttendanceStatus, remarks string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !status.Valid() {
		return &database.ValidationError{Field: "status", Err: database.ErrInvalidValue}
	}
	key = key.Normalized()

	// MySQL RowsAffected counts changed rows only, so check existence first
	var id int64
	err := l.pool.db.QueryRowContext(ctx,
		`SELECT id FROM attendance WHERE identity_id = ? AND activity_id = ? AND date = ? AND session = ?`,
		key.IdentityID, key.ActivityID, key.Date.Format(database.DateLayout), string(key.Session)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attendance record: %w", database.ErrNotFound)
	}
	if err != nil {
		return database.Transient("update attendance status", err)
	}

	if _, err := l.pool.db.ExecContext(ctx, `UPDATE attendance SET status = ?, remarks = ? WHERE id = ?`,
		string(status), remarks, id); err != nil {
		return database.Transient("update attendance status", err)
	}
	return nil
}
