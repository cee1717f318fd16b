package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/registry"
)

// testEnv wires the real services over in-memory stores.
type testEnv struct {
	identities *mock.MockIdentityStore
	embeddings *mock.MockEmbeddingStore
	ledger     *mock.MockLedger
	logs       *mock.MockRecognitionLog
	registry   *registry.Registry
	matcher    *matcher.Matcher
	attendance *attendance.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		identities: mock.NewMockIdentityStore(),
		embeddings: mock.NewMockEmbeddingStore(3),
		ledger:     mock.NewMockLedger(),
		logs:       mock.NewMockRecognitionLog(),
	}
	opts := matcher.DefaultOptions()
	opts.GalleryTTL = 0
	env.matcher = matcher.New(env.embeddings, env.identities, nil, opts, logger.Nop())
	env.registry = registry.New(env.identities, logger.Nop(), env.matcher.Invalidate)
	env.attendance = attendance.NewService(env.identities, env.ledger, logger.Nop())
	return env
}

// addIdentity stores an identity with the given embeddings.
func (e *testEnv) addIdentity(t *testing.T, id int64, name string, active bool, vectors ...[]float32) {
	t.Helper()
	e.identities.AddIdentity(database.Identity{ID: id, Name: name, Active: active})
	for _, v := range vectors {
		if _, err := e.embeddings.Add(context.Background(), id, v, 0.9, database.SourceEnrollment); err != nil {
			t.Fatalf("seeding embedding: %v", err)
		}
	}
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encoding request body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
