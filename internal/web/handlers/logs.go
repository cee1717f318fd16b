package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// LogsHandler serves recognition log statistics.
type LogsHandler struct {
	logs database.RecognitionLogStore
	now  func() time.Time
	log  *logger.Logger
}

// NewLogsHandler creates a new recognition logs handler.
func NewLogsHandler(logs database.RecognitionLogStore, log *logger.Logger) *LogsHandler {
	return &LogsHandler{logs: logs, now: time.Now, log: log.With("handler", "logs")}
}

// parseSince accepts RFC 3339 timestamps, YYYY-MM-DD dates and Go durations counted back from now.
// Empty means the last 24 hours.
func parseSince(raw string, now time.Time) (time.Time, bool) {
	if raw == "" {
		return now.Add(-constants.DefaultStatsWindow), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(database.DateLayout, raw); err == nil {
		return t, true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), true
	}
	return time.Time{}, false
}

// Stats aggregates recognition outcomes since ?since=.
func (h *LogsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(r.URL.Query().Get("since"), h.now())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid since: use RFC 3339, YYYY-MM-DD or a duration like 24h")
		return
	}

	stats, err := h.logs.Statistics(r.Context(), since)
	if err != nil {
		respondServiceError(w, h.log, "load recognition stats", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"since": since,
		"stats": stats,
	})
}
