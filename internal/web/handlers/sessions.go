package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

var (
	errFramesDisabled    = errors.New("directory sources are disabled, set WEB_FRAMES_ROOT")
	errOutsideFramesRoot = errors.New("directory is outside the frames root")
)

// SessionFactory builds an idle recognition session reading from src.
type SessionFactory func(cfg recognition.Config, src camera.Source) *recognition.Session

// SessionsHandler starts, inspects and stops recognition sessions.
type SessionsHandler struct {
	manager    *recognition.Manager
	newSession SessionFactory
	defaults   recognition.Config
	framesRoot string
	log        *logger.Logger
}

// NewSessionsHandler creates a new sessions handler. defaults supplies the camera ID,
// cooldown and overlap settings a request leaves out. Directory sources must lie
// under framesRoot; an empty root rejects them.
func NewSessionsHandler(manager *recognition.Manager, factory SessionFactory, defaults recognition.Config, framesRoot string, log *logger.Logger) *SessionsHandler {
	return &SessionsHandler{
		manager:    manager,
		newSession: factory,
		defaults:   defaults,
		framesRoot: framesRoot,
		log:        log.With("handler", "sessions"),
	}
}

// framesDir resolves dir against the frames root. Relative paths are taken from the root.
func (h *SessionsHandler) framesDir(dir string) (string, error) {
	if h.framesRoot == "" {
		return "", errFramesDisabled
	}
	root, err := filepath.Abs(h.framesRoot)
	if err != nil {
		return "", fmt.Errorf("resolving frames root: %w", err)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideFramesRoot
	}
	return dir, nil
}

// SourceRequest selects the frame source. Exactly one of Dir and SnapshotURL is set.
type SourceRequest struct {
	Dir         string `json:"dir" validate:"required_without=SnapshotURL"`
	SnapshotURL string `json:"snapshot_url" validate:"omitempty,url"`
	IntervalMs  int    `json:"interval_ms" validate:"gte=0,lte=60000"`
	Loop        bool   `json:"loop"`
}

func (s SourceRequest) source() (camera.Source, error) {
	interval := time.Duration(s.IntervalMs) * time.Millisecond
	switch {
	case s.Dir != "" && s.SnapshotURL != "":
		return nil, &database.ValidationError{Field: "source", Err: errors.New("dir and snapshot_url are mutually exclusive")}
	case s.SnapshotURL != "":
		return &camera.SnapshotSource{URL: s.SnapshotURL, Interval: interval}, nil
	default:
		return &camera.DirectorySource{Dir: s.Dir, Interval: interval, Loop: s.Loop}, nil
	}
}

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	ActivityID      int64         `json:"activity_id" validate:"required,gt=0"`
	Session         string        `json:"session" validate:"required"`
	Date            string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CameraID        string        `json:"camera_id" validate:"omitempty,max=64"`
	CooldownSeconds *float64      `json:"cooldown_seconds" validate:"omitempty,gte=0,lte=3600"`
	Source          SourceRequest `json:"source"`
}

func (h *SessionsHandler) config(req StartSessionRequest) (recognition.Config, error) {
	cfg := h.defaults
	session, err := database.ParseSession(req.Session)
	if err != nil {
		return cfg, err
	}
	cfg.ActivityID = req.ActivityID
	cfg.Session = session
	cfg.Date = time.Time{}
	if req.Date != "" {
		if cfg.Date, err = database.ParseDate(req.Date); err != nil {
			return cfg, err
		}
	}
	if req.CameraID != "" {
		cfg.CameraID = req.CameraID
	}
	if req.CooldownSeconds != nil {
		cfg.Cooldown = time.Duration(*req.CooldownSeconds * float64(time.Second))
	}
	return cfg, nil
}

// Start creates a session and begins processing frames. The session outlives the request.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := h.config(req)
	if err != nil {
		respondServiceError(w, h.log, "start session", err)
		return
	}
	src, err := req.Source.source()
	if err != nil {
		respondServiceError(w, h.log, "start session", err)
		return
	}
	if ds, ok := src.(*camera.DirectorySource); ok {
		dir, err := h.framesDir(ds.Dir)
		if err != nil {
			respondError(w, http.StatusForbidden, err.Error())
			return
		}
		ds.Dir = dir
	}

	h.prune()
	session := h.newSession(cfg, src)
	if err := session.Start(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, camera.ErrSourceUnavailable) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondServiceError(w, h.log, "start session", err)
		return
	}
	h.manager.Add(session)
	respondJSON(w, http.StatusCreated, session.Info())
}

// List returns running sessions and those stopped within the retention window.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	h.prune()
	respondJSON(w, http.StatusOK, h.manager.List())
}

func (h *SessionsHandler) prune() {
	if n := h.manager.Prune(time.Now().Add(-constants.SessionRetention)); n > 0 {
		h.log.Debug("stopped sessions pruned", "count", n)
	}
}

func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*recognition.Session, bool) {
	id := chi.URLParam(r, "id")
	session, ok := h.manager.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

// Get returns the state and counters of a session.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session.Info())
}

// Stop stops a session and waits briefly for it to release the camera.
func (h *SessionsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	session.Stop()

	select {
	case <-session.Done():
		respondJSON(w, http.StatusOK, session.Info())
	case <-time.After(constants.SessionStopWait):
		respondJSON(w, http.StatusAccepted, session.Info())
	case <-r.Context().Done():
	}
}

// ResetCooldown forgets the last recognized identity of a running session.
func (h *SessionsHandler) ResetCooldown(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	session.ResetCooldown()
	respondJSON(w, http.StatusOK, session.Info())
}

// Events streams recognition events as server-sent events.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	streamSessionEvents(w, r, session)
}
