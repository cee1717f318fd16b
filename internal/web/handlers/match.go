package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

// IdentityMatcher resolves embeddings to identities.
type IdentityMatcher interface {
	Match(ctx context.Context, query []float32) (matcher.Result, error)
	Rank(ctx context.Context, query []float32, limit int) ([]matcher.Candidate, error)
}

// MatchHandler handles ad-hoc matching of an embedding.
type MatchHandler struct {
	matcher IdentityMatcher
	log     *logger.Logger
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(m IdentityMatcher, log *logger.Logger) *MatchHandler {
	return &MatchHandler{matcher: m, log: log.With("handler", "match")}
}

// MatchRequest is the body of POST /match.
type MatchRequest struct {
	Vector []float32 `json:"vector" validate:"required,min=1"`
	// Candidates asks for the top scoring identities next to the decision.
	Candidates int `json:"candidates" validate:"omitempty,min=1,max=50"`
}

// MatchResponse is the decision plus optional ranking.
type MatchResponse struct {
	matcher.Result
	Candidates []matcher.Candidate `json:"candidates,omitempty"`
}

// Match decides which identity a vector belongs to.
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.matcher.Match(r.Context(), req.Vector)
	if err != nil {
		respondServiceError(w, h.log, "match embedding", err)
		return
	}
	resp := MatchResponse{Result: res}

	if req.Candidates > 0 {
		resp.Candidates, err = h.matcher.Rank(r.Context(), req.Vector, req.Candidates)
		if err != nil {
			respondServiceError(w, h.log, "rank identities", err)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
