// Package attendance validates attendance marks against the identity registry
// before they reach the ledger, and derives attendance statistics.
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// Service wraps an AttendanceLedger with identity checks.
type Service struct {
	identities database.IdentityReader
	ledger     database.AttendanceLedger
	log        *logger.Logger
}

// NewService creates an attendance service.
func NewService(identities database.IdentityReader, ledger database.AttendanceLedger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{identities: identities, ledger: ledger, log: log.With("component", "attendance")}
}

// MarkPresent records a PRESENT row for key. It returns false, without error, when
// the key was already marked. Unknown and inactive identities are rejected.
func (s *Service) MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error) {
	key = key.Normalized()
	if err := key.Validate(); err != nil {
		return false, err
	}
	identity, err := s.identities.GetIdentity(ctx, key.IdentityID)
	if err != nil {
		return false, fmt.Errorf("loading identity %d: %w", key.IdentityID, err)
	}
	if identity == nil {
		return false, &database.ValidationError{Field: "identity_id", Err: fmt.Errorf("%w: %d", database.ErrUnknownIdentity, key.IdentityID)}
	}
	if !identity.Active {
		return false, &database.ValidationError{Field: "identity_id", Err: fmt.Errorf("%w: %d", database.ErrInactiveIdentity, key.IdentityID)}
	}

	marked, err := s.ledger.MarkPresent(ctx, key, markedBy)
	if err != nil {
		return false, fmt.Errorf("marking attendance: %w", err)
	}
	s.log.Debug("attendance mark",
		"identity_id", key.IdentityID,
		"activity_id", key.ActivityID,
		"date", key.Date.Format(database.DateLayout),
		"session", key.Session,
		"marked", marked,
	)
	return marked, nil
}

// UpdateStatus corrects the status and remarks of an existing record.
func (s *Service) UpdateStatus(ctx context.Context, key database.AttendanceKey, status database.AttendanceStatus, remarks string) error {
	key = key.Normalized()
	if err := key.Validate(); err != nil {
		return err
	}
	if !status.Valid() {
		return &database.ValidationError{Field: "status", Err: fmt.Errorf("%w: %q", database.ErrInvalidValue, status)}
	}
	if err := s.ledger.UpdateStatus(ctx, key, status, remarks); err != nil {
		return fmt.Errorf("updating attendance status: %w", err)
	}
	return nil
}

// ForIdentity returns every record of an identity.
func (s *Service) ForIdentity(ctx context.Context, identityID int64) ([]database.AttendanceRecord, error) {
	return s.ledger.RecordsForIdentity(ctx, identityID)
}

// ForActivity returns every record of an activity.
func (s *Service) ForActivity(ctx context.Context, activityID int64) ([]database.AttendanceRecord, error) {
	return s.ledger.RecordsForActivity(ctx, activityID)
}

// ForDate returns every record of a calendar date.
func (s *Service) ForDate(ctx context.Context, date time.Time) ([]database.AttendanceRecord, error) {
	return s.ledger.RecordsForDate(ctx, database.DateOf(date))
}

// ForActivityBetween returns an activity's records within [from, to].
func (s *Service) ForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]database.AttendanceRecord, error) {
	from, to = database.DateOf(from), database.DateOf(to)
	if to.Before(from) {
		return nil, &database.ValidationError{Field: "to", Err: fmt.Errorf("%w: range ends before it starts", database.ErrInvalidValue)}
	}
	return s.ledger.RecordsForActivityBetween(ctx, activityID, from, to)
}

// CountsPresent reports whether a status counts towards attendance.
func CountsPresent(status database.AttendanceStatus) bool {
	return status == database.StatusPresent || status == database.StatusLate
}

// Percentage returns the share of totalSessions the identity attended the activity,
// counting PRESENT and LATE records. It is 0 when totalSessions is not positive.
func (s *Service) Percentage(ctx context.Context, identityID, activityID int64, totalSessions int) (float64, error) {
	if totalSessions <= 0 {
		return 0, nil
	}
	records, err := s.ledger.RecordsForIdentity(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("loading attendance of identity %d: %w", identityID, err)
	}
	attended := 0
	for _, r := range records {
		if r.ActivityID == activityID && CountsPresent(r.Status) {
			attended++
		}
	}
	return float64(attended) / float64(totalSessions) * 100, nil
}
