package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// IdentityRegistry manages enrolled identities.
type IdentityRegistry interface {
	Create(ctx context.Context, name, externalRef string) (*database.Identity, error)
	Get(ctx context.Context, id int64) (*database.Identity, error)
	List(ctx context.Context, activeOnly bool) ([]database.Identity, error)
	Search(ctx context.Context, query string, activeOnly bool) ([]database.Identity, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// SampleExtractor turns an uploaded photo into an enrollment sample.
type SampleExtractor interface {
	SampleFromImage(ctx context.Context, label string, data []byte) (enrollment.Sample, error)
}

// Enroller runs the enrollment pipeline for one identity.
type Enroller interface {
	Enroll(ctx context.Context, identityID int64, samples []enrollment.Sample) (*enrollment.Report, error)
}

// IdentitiesHandler handles identity and enrollment endpoints.
type IdentitiesHandler struct {
	registry   IdentityRegistry
	embeddings database.EmbeddingReader
	samples    SampleExtractor
	enroller   Enroller
	onEnrolled func()
	log        *logger.Logger
}

// NewIdentitiesHandler creates a new identities handler. onEnrolled runs after every
// enrollment that changed stored embeddings and may be nil.
func NewIdentitiesHandler(registry IdentityRegistry, embeddings database.EmbeddingReader, samples SampleExtractor, enroller Enroller, onEnrolled func(), log *logger.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{
		registry:   registry,
		embeddings: embeddings,
		samples:    samples,
		enroller:   enroller,
		onEnrolled: onEnrolled,
		log:        log.With("handler", "identities"),
	}
}

// CreateIdentityRequest is the body of POST /identities.
type CreateIdentityRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	ExternalRef string `json:"external_ref" validate:"omitempty,max=64"`
}

// IdentityResponse is an identity with its enrollment size.
type IdentityResponse struct {
	database.Identity
	Embeddings int `json:"embeddings"`
}

// Create enrolls a new identity without embeddings.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIdentityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity, err := h.registry.Create(r.Context(), req.Name, req.ExternalRef)
	if err != nil {
		respondServiceError(w, h.log, "create identity", err)
		return
	}
	respondJSON(w, http.StatusCreated, IdentityResponse{Identity: *identity})
}

// List returns identities. Supports ?active=true and ?q= for name or reference search.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	query := r.URL.Query().Get("q")

	var (
		identities []database.Identity
		err        error
	)
	if query != "" {
		identities, err = h.registry.Search(r.Context(), query, activeOnly)
	} else {
		identities, err = h.registry.List(r.Context(), activeOnly)
	}
	if err != nil {
		respondServiceError(w, h.log, "list identities", err)
		return
	}

	if identities == nil {
		identities = []database.Identity{}
	}
	respondJSON(w, http.StatusOK, identities)
}

// Get returns a single identity with its embedding count.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := h.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, "get identity", err)
		return
	}
	count, err := h.embeddings.CountFor(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, "count embeddings", err)
		return
	}
	respondJSON(w, http.StatusOK, IdentityResponse{Identity: *identity, Embeddings: count})
}

// Deactivate soft-deletes an identity. It stays in the store but never matches.
func (h *IdentitiesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Activate re-enables a deactivated identity.
func (h *IdentitiesHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *IdentitiesHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.registry.SetActive(r.Context(), id, active); err != nil {
		respondServiceError(w, h.log, "update identity", err)
		return
	}
	identity, err := h.registry.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, "get identity", err)
		return
	}
	respondJSON(w, http.StatusOK, IdentityResponse{Identity: *identity})
}

// Embeddings lists the stored embeddings of an identity without their vectors.
func (h *IdentitiesHandler) Embeddings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		respondServiceError(w, h.log, "get identity", err)
		return
	}

	records, err := h.embeddings.EmbeddingsFor(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, "list embeddings", err)
		return
	}
	if records == nil {
		records = []database.EmbeddingRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// EmbeddingStats summarizes the embedding table.
func (h *IdentitiesHandler) EmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.embeddings.Stats(r.Context())
	if err != nil {
		respondServiceError(w, h.log, "load embedding stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Enroll replaces the identity's embeddings with faces from uploaded photos
// (multipart field "images"). Responds 422 with the report when no photo was usable.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxEnrollUploadSize)
	if err := r.ParseMultipartForm(constants.MaxEnrollUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no images provided")
		return
	}
	if len(files) > constants.MaxEnrollImages {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d images per enrollment", constants.MaxEnrollImages))
		return
	}

	samples := make([]enrollment.Sample, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read "+sanitizeForLog(fh.Filename))
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, constants.MaxEnrollImageSize+1))
		f.Close()
		if err != nil || len(data) > constants.MaxEnrollImageSize {
			respondError(w, http.StatusBadRequest, "image too large or unreadable: "+sanitizeForLog(fh.Filename))
			return
		}

		sample, err := h.samples.SampleFromImage(r.Context(), fh.Filename, data)
		if err != nil {
			// Undecodable photos are enrolled as empty samples and show up as rejections.
			h.log.Warn("preparing enrollment sample failed", "file", sanitizeForLog(fh.Filename), "error", err)
			sample = enrollment.Sample{Label: fh.Filename}
		}
		samples = append(samples, sample)
	}

	report, err := h.enroller.Enroll(r.Context(), id, samples)
	if errors.Is(err, enrollment.ErrNoAcceptedSamples) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"report": report,
		})
		return
	}
	if err != nil {
		respondServiceError(w, h.log, "enroll identity", err)
		return
	}

	if h.onEnrolled != nil {
		h.onEnrolled()
	}
	h.log.Info("identity enrolled", "identity_id", id, "accepted", report.Accepted, "processed", report.Processed)
	respondJSON(w, http.StatusOK, report)
}
