package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// contentExtractor derives a sample from the uploaded bytes:
// "good" is a centered face with a vector, "tiny" a corner speck, anything else has no face.
type contentExtractor struct{}

func (contentExtractor) SampleFromImage(ctx context.Context, label string, data []byte) (enrollment.Sample, error) {
	s := enrollment.Sample{Label: label, FrameWidth: 100, FrameHeight: 100}
	switch string(data) {
	case "good":
		s.Vector = []float32{1, 0, 0}
		s.Box = facematch.BBox{X1: 30, Y1: 30, X2: 70, Y2: 70}
	case "tiny":
		s.Vector = []float32{0, 1, 0}
		s.Box = facematch.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}
	}
	return s, nil
}

func newIdentitiesHandler(env *testEnv, onEnrolled func()) *IdentitiesHandler {
	pipeline := enrollment.NewPipeline(env.identities, env.embeddings, nil, enrollment.DefaultOptions(), logger.Nop())
	return NewIdentitiesHandler(env.registry, env.embeddings, contentExtractor{}, pipeline, onEnrolled, logger.Nop())
}

func multipartImages(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		part.Write([]byte(content))
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func TestIdentitiesHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{"valid", CreateIdentityRequest{Name: "Ada Lovelace", ExternalRef: "ADM-1"}, http.StatusCreated},
		{"missing name", CreateIdentityRequest{ExternalRef: "ADM-2"}, http.StatusBadRequest},
		{"blank name", CreateIdentityRequest{Name: "   "}, http.StatusBadRequest},
		{"name too long", CreateIdentityRequest{Name: strings.Repeat("x", 201)}, http.StatusBadRequest},
		{"malformed", `{"name": 5}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			h := newIdentitiesHandler(env, nil)
			recorder := httptest.NewRecorder()

			h.Create(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", tt.body))

			assertStatusCode(t, recorder, tt.wantStatus)
		})
	}
}

func TestIdentitiesHandler_CreateDuplicateRef(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env, nil)

	first := httptest.NewRecorder()
	h.Create(first, jsonRequest(t, http.MethodPost, "/", CreateIdentityRequest{Name: "Ada", ExternalRef: "ADM-1"}))
	assertStatusCode(t, first, http.StatusCreated)

	var created IdentityResponse
	parseJSONResponse(t, first, &created)
	if created.ID == 0 || !created.Active || created.ExternalRef != "ADM-1" {
		t.Errorf("unexpected identity %+v", created)
	}

	second := httptest.NewRecorder()
	h.Create(second, jsonRequest(t, http.MethodPost, "/", CreateIdentityRequest{Name: "Grace", ExternalRef: "ADM-1"}))
	assertStatusCode(t, second, http.StatusConflict)
}

func TestIdentitiesHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{1, 0, 0}, []float32{0, 1, 0})
	h := newIdentitiesHandler(env, nil)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"existing", "1", http.StatusOK},
		{"missing", "99", http.StatusNotFound},
		{"invalid", "abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": tt.id})
			h.Get(recorder, req)
			assertStatusCode(t, recorder, tt.wantStatus)

			if tt.wantStatus == http.StatusOK {
				var got IdentityResponse
				parseJSONResponse(t, recorder, &got)
				if got.Name != "Ada" || got.Embeddings != 2 {
					t.Errorf("unexpected response %+v", got)
				}
			}
		})
	}
}

func TestIdentitiesHandler_ListAndSearch(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Zoë Ortiz", true)
	env.addIdentity(t, 2, "Adam Brown", true)
	env.addIdentity(t, 3, "Zoe Hidden", false)
	h := newIdentitiesHandler(env, nil)

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{"all", "", []int64{2, 3, 1}},
		{"active only", "?active=true", []int64{2, 1}},
		{"accent insensitive search", "?q=zoe&active=true", []int64{1}},
		{"search including inactive", "?q=ZOE", []int64{3, 1}},
		{"no match", "?q=nobody", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/identities"+tt.query, nil))
			assertStatusCode(t, recorder, http.StatusOK)

			var got []database.Identity
			parseJSONResponse(t, recorder, &got)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d identities, got %+v", len(tt.want), got)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: expected identity %d, got %d", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestIdentitiesHandler_DeactivateActivate(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{1, 0, 0})
	h := newIdentitiesHandler(env, nil)

	// Warm the gallery so the test also covers invalidation.
	if res, _ := env.matcher.Match(context.Background(), []float32{1, 0, 0}); res.Outcome != database.OutcomeRecognized {
		t.Fatalf("expected RECOGNIZED before deactivation, got %s", res.Outcome)
	}

	recorder := httptest.NewRecorder()
	h.Deactivate(recorder, requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"id": "1"}))
	assertStatusCode(t, recorder, http.StatusOK)

	var got IdentityResponse
	parseJSONResponse(t, recorder, &got)
	if got.Active {
		t.Error("expected identity to be inactive")
	}
	if res, _ := env.matcher.Match(context.Background(), []float32{1, 0, 0}); res.Outcome != database.OutcomeUnknown {
		t.Errorf("expected UNKNOWN for a deactivated identity, got %s", res.Outcome)
	}

	recorder = httptest.NewRecorder()
	h.Activate(recorder, requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"id": "1"}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	h.Deactivate(recorder, requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"id": "7"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestIdentitiesHandler_Enroll(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{0, 0, 1})
	enrolled := 0
	h := newIdentitiesHandler(env, func() { enrolled++ })

	body, contentType := multipartImages(t, map[string]string{
		"front.jpg": "good",
		"far.jpg":   "tiny",
		"empty.jpg": "nothing",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/identities/1/enroll", body)
	req.Header.Set("Content-Type", contentType)
	req = requestWithChiParams(req, map[string]string{"id": "1"})
	recorder := httptest.NewRecorder()

	h.Enroll(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var report enrollment.Report
	parseJSONResponse(t, recorder, &report)
	if report.Processed != 3 || report.Accepted != 1 || len(report.Rejected) != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	reasons := map[string]enrollment.RejectReason{}
	for _, r := range report.Rejected {
		reasons[r.Label] = r.Reason
	}
	if reasons["far.jpg"] != enrollment.ReasonBelowThreshold || reasons["empty.jpg"] != enrollment.ReasonNoEmbedding {
		t.Errorf("unexpected rejection reasons %v", reasons)
	}

	records, _ := env.embeddings.EmbeddingsFor(context.Background(), 1)
	if len(records) != 1 || records[0].Vector[0] != 1 {
		t.Errorf("expected previous embeddings replaced by the accepted one, got %+v", records)
	}
	if enrolled != 1 {
		t.Errorf("expected enrollment callback once, got %d", enrolled)
	}
}

func TestIdentitiesHandler_EnrollNothingAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{0, 0, 1})
	h := newIdentitiesHandler(env, func() { t.Error("callback must not run when nothing changed") })

	body, contentType := multipartImages(t, map[string]string{"blurry.jpg": "tiny", "wall.jpg": "nothing"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	req = requestWithChiParams(req, map[string]string{"id": "1"})
	recorder := httptest.NewRecorder()

	h.Enroll(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	var resp struct {
		Error  string            `json:"error"`
		Report enrollment.Report `json:"report"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.Report.Processed != 2 || resp.Report.Accepted != 0 {
		t.Errorf("unexpected report %+v", resp.Report)
	}

	records, _ := env.embeddings.EmbeddingsFor(context.Background(), 1)
	if len(records) != 1 || records[0].Vector[2] != 1 {
		t.Errorf("expected prior embeddings untouched, got %+v", records)
	}
	if env.embeddings.ReplaceCalls != 0 {
		t.Errorf("expected no ReplaceAll call, got %d", env.embeddings.ReplaceCalls)
	}
}

func TestIdentitiesHandler_EnrollErrors(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env, nil)

	t.Run("unknown identity", func(t *testing.T) {
		body, contentType := multipartImages(t, map[string]string{"a.jpg": "good"})
		req := httptest.NewRequest(http.MethodPost, "/", body)
		req.Header.Set("Content-Type", contentType)
		req = requestWithChiParams(req, map[string]string{"id": "5"})
		recorder := httptest.NewRecorder()
		h.Enroll(recorder, req)
		assertStatusCode(t, recorder, http.StatusNotFound)
	})

	t.Run("no images", func(t *testing.T) {
		body, contentType := multipartImages(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/", body)
		req.Header.Set("Content-Type", contentType)
		req = requestWithChiParams(req, map[string]string{"id": "5"})
		recorder := httptest.NewRecorder()
		h.Enroll(recorder, req)
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "no images provided")
	})

	t.Run("not multipart", func(t *testing.T) {
		req := requestWithChiParams(jsonRequest(t, http.MethodPost, "/", `{}`), map[string]string{"id": "5"})
		recorder := httptest.NewRecorder()
		h.Enroll(recorder, req)
		assertStatusCode(t, recorder, http.StatusBadRequest)
	})
}

func TestIdentitiesHandler_EmbeddingsAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.addIdentity(t, 1, "Ada", true, []float32{1, 0, 0}, []float32{0, 1, 0})
	env.addIdentity(t, 2, "Grace", true, []float32{0, 0, 1})
	h := newIdentitiesHandler(env, nil)

	recorder := httptest.NewRecorder()
	h.Embeddings(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "1"}))
	assertStatusCode(t, recorder, http.StatusOK)
	if strings.Contains(recorder.Body.String(), "vector") {
		t.Error("vectors must not be exposed")
	}
	var records []database.EmbeddingRecord
	parseJSONResponse(t, recorder, &records)
	if len(records) != 2 || records[0].Dimension != 3 {
		t.Errorf("unexpected records %+v", records)
	}

	recorder = httptest.NewRecorder()
	h.EmbeddingStats(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	var stats database.EmbeddingStats
	parseJSONResponse(t, recorder, &stats)
	if stats.TotalEmbeddings != 3 || stats.Identities != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
