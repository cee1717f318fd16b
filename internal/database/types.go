package database

import (
	"fmt"
	"strings"
	"time"
)

// Identity is an enrolled person.
type Identity struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ExternalRef string    `json:"external_ref,omitempty"` // e.g. admission number, unique when set
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmbeddingRecord is one stored, L2-normalized face embedding of an identity.
type EmbeddingRecord struct {
	ID         int64     `json:"id"`
	IdentityID int64     `json:"identity_id"`
	Vector     []float32 `json:"-"`
	Dimension  int       `json:"dimension"`
	Quality    float64   `json:"quality"` // always within [0, 1]
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewEmbedding is an embedding waiting to be written by ReplaceAll.
type NewEmbedding struct {
	Vector  []float32
	Quality float64
	Source  string
}

// EmbeddingStats summarizes the embedding table.
type EmbeddingStats struct {
	TotalEmbeddings int     `json:"total_embeddings"`
	Identities      int     `json:"identities"`
	AverageQuality  float64 `json:"average_quality"`
}

// Session buckets an attendance record by time of day.
type Session string

// Session values.
const (
	SessionMorning   Session = "MORNING"
	SessionAfternoon Session = "AFTERNOON"
	SessionEvening   Session = "EVENING"
	SessionFullDay   Session = "FULL_DAY"
)

var sessionDisplayNames = map[Session]string{
	SessionMorning:   "Morning",
	SessionAfternoon: "Afternoon",
	SessionEvening:   "Evening",
	SessionFullDay:   "Full Day",
}

// DisplayName returns the human readable session name.
func (s Session) DisplayName() string {
	if name, ok := sessionDisplayNames[s]; ok {
		return name
	}
	return string(s)
}

// Valid reports whether s is one of the four known sessions.
func (s Session) Valid() bool {
	_, ok := sessionDisplayNames[s]
	return ok
}

// ParseSession accepts both wire names (FULL_DAY) and display names (Full Day).
func ParseSession(s string) (Session, error) {
	norm := enumKey(s)
	for session := range sessionDisplayNames {
		if string(session) == norm {
			return session, nil
		}
	}
	return "", &ValidationError{Field: "session", Err: fmt.Errorf("%w: unknown session %q", ErrInvalidValue, s)}
}

// AttendanceStatus is the recorded status of an attendance row.
type AttendanceStatus string

// AttendanceStatus values. The recognition engine only ever writes StatusPresent.
const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusLate    AttendanceStatus = "LATE"
	StatusExcused AttendanceStatus = "EXCUSED"
)

// Valid reports whether s is one of the four known statuses.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	}
	return false
}

// ParseStatus parses a status, case-insensitively.
func ParseStatus(s string) (AttendanceStatus, error) {
	status := AttendanceStatus(enumKey(s))
	if !status.Valid() {
		return "", &ValidationError{Field: "status", Err: fmt.Errorf("%w: unknown status %q", ErrInvalidValue, s)}
	}
	return status, nil
}

func enumKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// DateLayout is the canonical text form of an attendance date.
const DateLayout = "2006-01-02"

// DateOf truncates t to its calendar date (in t's own location) expressed as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
	}
	return t, nil
}

// AttendanceKey is the uniqueness key of the attendance ledger.
type AttendanceKey struct {
	IdentityID int64     `json:"identity_id"`
	ActivityID int64     `json:"activity_id"`
	Date       time.Time `json:"date"`
	Session    Session   `json:"session"`
}

// Normalized returns the key with its date truncated to a calendar day.
func (k AttendanceKey) Normalized() AttendanceKey {
	k.Date = DateOf(k.Date)
	return k
}

// Validate checks the key fields without touching any store.
func (k AttendanceKey) Validate() error {
	if k.IdentityID <= 0 {
		return &ValidationError{Field: "identity_id", Err: ErrInvalidValue}
	}
	if k.ActivityID <= 0 {
		return &ValidationError{Field: "activity_id", Err: ErrInvalidValue}
	}
	if k.Date.IsZero() {
		return &ValidationError{Field: "date", Err: ErrInvalidValue}
	}
	if !k.Session.Valid() {
		return &ValidationError{Field: "session", Err: fmt.Errorf("%w: unknown session %q", ErrInvalidValue, k.Session)}
	}
	return nil
}

// AttendanceRecord is one row of the attendance ledger.
type AttendanceRecord struct {
	ID int64
	AttendanceKey
	Status   AttendanceStatus
	MarkedAt time.Time
	MarkedBy string // marker source, e.g. "recognition" or "manual"
	Remarks  string
}

// Outcome is the closed set of recognition results.
type Outcome string

// Outcome values.
const (
	OutcomeRecognized          Outcome = "RECOGNIZED"
	OutcomeUnknown             Outcome = "UNKNOWN"
	OutcomeLowConfidence       Outcome = "LOW_CONFIDENCE"
	OutcomeDuplicateSuppressed Outcome = "DUPLICATE_SUPPRESSED"
)

// RecognitionEvent is a single recognition outcome emitted by a session.
type RecognitionEvent struct {
	ID         int64     `json:"id,omitempty"`
	SessionID  string    `json:"session_id"`
	IdentityID *int64    `json:"identity_id,omitempty"`
	Confidence float64   `json:"confidence"`
	Outcome    Outcome   `json:"outcome"`
	CameraID   string    `json:"camera_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecognitionStats aggregates recognition_logs rows.
type RecognitionStats struct {
	Total             int     `json:"total"`
	Recognized        int     `json:"recognized"`
	Unknown           int     `json:"unknown"`
	LowConfidence     int     `json:"low_confidence"`
	Duplicates        int     `json:"duplicates"`
	AverageConfidence float64 `json:"average_confidence"`
	MaxConfidence     float64 `json:"max_confidence"`
	MinConfidence     float64 `json:"min_confidence"`
}

// Add folds a single event into the stats.
func (s *RecognitionStats) Add(ev RecognitionEvent) {
	if s.Total == 0 || ev.Confidence > s.MaxConfidence {
		s.MaxConfidence = ev.Confidence
	}
	if s.Total == 0 || ev.Confidence < s.MinConfidence {
		s.MinConfidence = ev.Confidence
	}
	s.AverageConfidence = (s.AverageConfidence*float64(s.Total) + ev.Confidence) / float64(s.Total+1)
	s.Total++
	switch ev.Outcome {
	case OutcomeRecognized:
		s.Recognized++
	case OutcomeUnknown:
		s.Unknown++
	case OutcomeLowConfidence:
		s.LowConfidence++
	case OutcomeDuplicateSuppressed:
		s.Duplicates++
	}
}
