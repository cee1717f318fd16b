package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// AttendanceService reads and writes the attendance ledger.
type AttendanceService interface {
	MarkPresent(ctx context.Context, key database.AttendanceKey, markedBy string) (bool, error)
	UpdateStatus(ctx context.Context, key database.AttendanceKey, status database.AttendanceStatus, remarks string) error
	ForIdentity(ctx context.Context, identityID int64) ([]database.AttendanceRecord, error)
	ForActivity(ctx context.Context, activityID int64) ([]database.AttendanceRecord, error)
	ForDate(ctx context.Context, date time.Time) ([]database.AttendanceRecord, error)
	ForActivityBetween(ctx context.Context, activityID int64, from, to time.Time) ([]database.AttendanceRecord, error)
}

// AttendanceHandler handles attendance ledger endpoints.
type AttendanceHandler struct {
	service AttendanceService
	now     func() time.Time
	log     *logger.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(service AttendanceService, log *logger.Logger) *AttendanceHandler {
	return &AttendanceHandler{service: service, now: time.Now, log: log.With("handler", "attendance")}
}

// AttendanceKeyRequest identifies a ledger row. Date defaults to today.
type AttendanceKeyRequest struct {
	IdentityID int64  `json:"identity_id" validate:"required,gt=0"`
	ActivityID int64  `json:"activity_id" validate:"required,gt=0"`
	Date       string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Session    string `json:"session" validate:"required"`
}

func (req AttendanceKeyRequest) key(now time.Time) (database.AttendanceKey, error) {
	session, err := database.ParseSession(req.Session)
	if err != nil {
		return database.AttendanceKey{}, err
	}
	date := database.DateOf(now)
	if req.Date != "" {
		if date, err = database.ParseDate(req.Date); err != nil {
			return database.AttendanceKey{}, err
		}
	}
	return database.AttendanceKey{
		IdentityID: req.IdentityID,
		ActivityID: req.ActivityID,
		Date:       date,
		Session:    session,
	}, nil
}

// MarkRequest is the body of POST /attendance.
type MarkRequest struct {
	AttendanceKeyRequest
	MarkedBy string `json:"marked_by" validate:"omitempty,max=64"`
}

// UpdateStatusRequest is the body of PATCH /attendance.
type UpdateStatusRequest struct {
	AttendanceKeyRequest
	Status  string `json:"status" validate:"required"`
	Remarks string `json:"remarks" validate:"max=500"`
}

// AttendanceResponse is one ledger row.
type AttendanceResponse struct {
	ID         int64                     `json:"id"`
	IdentityID int64                     `json:"identity_id"`
	ActivityID int64                     `json:"activity_id"`
	Date       string                    `json:"date"`
	Session    database.Session          `json:"session"`
	Status     database.AttendanceStatus `json:"status"`
	MarkedAt   time.Time                 `json:"marked_at"`
	MarkedBy   string                    `json:"marked_by"`
	Remarks    string                    `json:"remarks,omitempty"`
}

func attendanceToResponse(rec database.AttendanceRecord) AttendanceResponse {
	return AttendanceResponse{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		ActivityID: rec.ActivityID,
		Date:       rec.Date.Format(database.DateLayout),
		Session:    rec.Session,
		Status:     rec.Status,
		MarkedAt:   rec.MarkedAt,
		MarkedBy:   rec.MarkedBy,
		Remarks:    rec.Remarks,
	}
}

// Mark records a PRESENT row. Responds 201 when written and 200 when the row already existed.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, err := req.key(h.now())
	if err != nil {
		respondServiceError(w, h.log, "mark attendance", err)
		return
	}
	markedBy := req.MarkedBy
	if markedBy == "" {
		markedBy = database.SourceManual
	}

	marked, err := h.service.MarkPresent(r.Context(), key, markedBy)
	if err != nil {
		respondServiceError(w, h.log, "mark attendance", err)
		return
	}

	status := http.StatusOK
	outcome := database.OutcomeDuplicateSuppressed
	if marked {
		status = http.StatusCreated
		outcome = database.OutcomeRecognized
	}
	respondJSON(w, status, map[string]any{
		"marked":  marked,
		"outcome": outcome,
		"date":    key.Date.Format(database.DateLayout),
	})
}

// UpdateStatus corrects the status and remarks of an existing row.
func (h *AttendanceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key, err := req.key(h.now())
	if err != nil {
		respondServiceError(w, h.log, "update attendance", err)
		return
	}
	status, err := database.ParseStatus(req.Status)
	if err != nil {
		respondServiceError(w, h.log, "update attendance", err)
		return
	}

	if err := h.service.UpdateStatus(r.Context(), key, status, req.Remarks); err != nil {
		respondServiceError(w, h.log, "update attendance", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": status})
}

// List returns ledger rows filtered by exactly one of ?identity=, ?activity= or ?date=.
// ?activity= combines with ?from= and ?to= for a date range.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identityID, err := queryID(r, "identity")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	activityID, err := queryID(r, "activity")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []database.AttendanceRecord
	switch {
	case identityID > 0:
		records, err = h.service.ForIdentity(r.Context(), identityID)
	case activityID > 0 && (q.Get("from") != "" || q.Get("to") != ""):
		from, to, perr := parseRange(q.Get("from"), q.Get("to"))
		if perr != nil {
			respondServiceError(w, h.log, "list attendance", perr)
			return
		}
		records, err = h.service.ForActivityBetween(r.Context(), activityID, from, to)
	case activityID > 0:
		records, err = h.service.ForActivity(r.Context(), activityID)
	case q.Get("date") != "":
		date, perr := database.ParseDate(q.Get("date"))
		if perr != nil {
			respondServiceError(w, h.log, "list attendance", perr)
			return
		}
		records, err = h.service.ForDate(r.Context(), date)
	default:
		respondError(w, http.StatusBadRequest, "one of identity, activity or date is required")
		return
	}
	if err != nil {
		respondServiceError(w, h.log, "list attendance", err)
		return
	}

	response := make([]AttendanceResponse, len(records))
	for i, rec := range records {
		response[i] = attendanceToResponse(rec)
	}
	respondJSON(w, http.StatusOK, response)
}

// parseRange parses an inclusive date range. A missing bound is open.
func parseRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	var err error
	if fromRaw != "" {
		if from, err = database.ParseDate(fromRaw); err != nil {
			return from, to, err
		}
	}
	if toRaw != "" {
		if to, err = database.ParseDate(toRaw); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}
