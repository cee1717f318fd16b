package sqlite

import (
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

type identityRow struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	Name        string  `gorm:"not null"`
	ExternalRef *string `gorm:"uniqueIndex"`
	Active      bool    `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (identityRow) TableName() string { return "identities" }

func (r identityRow) toIdentity() database.Identity {
	id := database.Identity{
		ID:        r.ID,
		Name:      r.Name,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ExternalRef != nil {
		id.ExternalRef = *r.ExternalRef
	}
	return id
}

type embeddingRow struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	IdentityID  int64   `gorm:"not null;index"`
	VectorBytes []byte  `gorm:"not null"`
	Dimension   int     `gorm:"not null"`
	Quality     float64 `gorm:"not null"`
	Source      string
	CreatedAt   time.Time
}

func (embeddingRow) TableName() string { return "embeddings" }

func (r embeddingRow) toRecord() (database.EmbeddingRecord, error) {
	vec, err := database.DecodeVector(r.VectorBytes)
	if err != nil {
		return database.EmbeddingRecord{}, err
	}
	return database.EmbeddingRecord{
		ID:         r.ID,
		IdentityID: r.IdentityID,
		Vector:     vec,
		Dimension:  r.Dimension,
		Quality:    r.Quality,
		Source:     r.Source,
		CreatedAt:  r.CreatedAt,
	}, nil
}

// attendanceRow stores the date as YYYY-MM-DD text so the unique key is timezone-free.
type attendanceRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	IdentityID int64  `gorm:"not null;uniqueIndex:ux_attendance_key,priority:1"`
	ActivityID int64  `gorm:"not null;uniqueIndex:ux_attendance_key,priority:2;index"`
	Date       string `gorm:"type:text;not null;uniqueIndex:ux_attendance_key,priority:3;index"`
	Session    string `gorm:"not null;uniqueIndex:ux_attendance_key,priority:4"`
	Status     string `gorm:"not null"`
	MarkedAt   time.Time
	MarkedBy   string
	Remarks    string
}

func (attendanceRow) TableName() string { return "attendance" }

func (r attendanceRow) toRecord() (database.AttendanceRecord, error) {
	date, err := time.Parse(database.DateLayout, r.Date)
	if err != nil {
		return database.AttendanceRecord{}, err
	}
	return database.AttendanceRecord{
		ID: r.ID,
		AttendanceKey: database.AttendanceKey{
			IdentityID: r.IdentityID,
			ActivityID: r.ActivityID,
			Date:       date,
			Session:    database.Session(r.Session),
		},
		Status:   database.AttendanceStatus(r.Status),
		MarkedAt: r.MarkedAt,
		MarkedBy: r.MarkedBy,
		Remarks:  r.Remarks,
	}, nil
}

type recognitionLogRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"index"`
	IdentityID *int64
	Confidence float64
	Outcome    string `gorm:"not null"`
	CameraID   string
	CreatedAt  time.Time `gorm:"index"`
}

func (recognitionLogRow) TableName() string { return "recognition_logs" }
