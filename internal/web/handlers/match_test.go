package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

func TestMatchHandler(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{1, 0, 0}, []float32{0.8, 0.6, 0})
	env.addIdentity(t, 2, "Grace", true, []float32{0, 1, 0})
	h := NewMatchHandler(env.matcher, logger.Nop())

	tests := []struct {
		name        string
		body        any
		wantStatus  int
		wantOutcome database.Outcome
		wantID      int64
	}{
		{"recognized", MatchRequest{Vector: []float32{1, 0, 0}}, http.StatusOK, database.OutcomeRecognized, 1},
		{"unknown", MatchRequest{Vector: []float32{0, 0, 1}}, http.StatusOK, database.OutcomeUnknown, 0},
		{"dimension mismatch skips everyone", MatchRequest{Vector: []float32{1, 0}}, http.StatusOK, database.OutcomeUnknown, 0},
		{"empty vector", `{"vector": []}`, http.StatusBadRequest, "", 0},
		{"missing vector", `{}`, http.StatusBadRequest, "", 0},
		{"too many candidates", MatchRequest{Vector: []float32{1, 0, 0}, Candidates: 500}, http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.Match(recorder, jsonRequest(t, http.MethodPost, "/api/v1/match", tt.body))
			assertStatusCode(t, recorder, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp MatchResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Outcome != tt.wantOutcome {
				t.Errorf("expected outcome %s, got %s", tt.wantOutcome, resp.Outcome)
			}
			if resp.IdentityID() != tt.wantID {
				t.Errorf("expected identity %d, got %d", tt.wantID, resp.IdentityID())
			}
		})
	}
}

func TestMatchHandler_Candidates(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{1, 0, 0})
	env.addIdentity(t, 2, "Grace", true, []float32{0.6, 0.8, 0})
	env.addIdentity(t, 3, "Linus", true, []float32{0, 0, 1})
	h := NewMatchHandler(env.matcher, logger.Nop())

	recorder := httptest.NewRecorder()
	h.Match(recorder, jsonRequest(t, http.MethodPost, "/", MatchRequest{Vector: []float32{1, 0, 0}, Candidates: 2}))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp MatchResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", resp.Candidates)
	}
	if resp.Candidates[0].IdentityID != 1 || resp.Candidates[1].IdentityID != 2 {
		t.Errorf("expected ranking [1 2], got %+v", resp.Candidates)
	}
}
