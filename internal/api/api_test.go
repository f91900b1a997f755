package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riskguard/decisionengine/internal/adapters"
	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/decision"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/engine"
)

// fakeRepo is an in-memory domain.Repository, grounded on internal/loader's own
// resolver_test.go fakeRepo, extended with the Ping/Close health/lifecycle methods
// domain.Repository additionally requires.
type fakeRepo struct {
	artifacts map[string]artifact.Artifact
	imports   map[string][]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{artifacts: map[string]artifact.Artifact{}, imports: map[string][]string{}}
}

// put registers a, along with the ids it imports (its declared Imports field), which
// the resolver walks via Load's own return value rather than reading a.Imports back
// off the decoded struct.
func (r *fakeRepo) put(a artifact.Artifact, imports ...string) {
	r.artifacts[a.ArtifactID()] = a
	r.imports[a.ArtifactID()] = imports
}

func (r *fakeRepo) Load(kind artifact.Kind, idOrPath string) (artifact.Artifact, []string, []byte, error) {
	if a, ok := r.artifacts[idOrPath]; ok {
		return a, r.imports[idOrPath], []byte("test-fixture"), nil
	}
	return nil, nil, nil, context.DeadlineExceeded
}
func (r *fakeRepo) List(kind artifact.Kind) ([]string, error) {
	var ids []string
	for _, a := range r.artifacts {
		if a.ArtifactKind() == kind {
			ids = append(ids, a.ArtifactID())
		}
	}
	return ids, nil
}
func (r *fakeRepo) Exists(kind artifact.Kind, id string) (bool, error) {
	a, ok := r.artifacts[id]
	return ok && a.ArtifactKind() == kind, nil
}
func (r *fakeRepo) Save(kind artifact.Kind, id string, rawText []byte) error { return nil }
func (r *fakeRepo) Delete(kind artifact.Kind, id string) error {
	delete(r.artifacts, id)
	return nil
}
func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

// testRepo builds a one-pipeline library: a rule flagging event.amount > 1000,
// concluding "review" at score 10 or more and "approve" otherwise.
func testRepo() *fakeRepo {
	repo := newFakeRepo()
	repo.put(&artifact.Rule{ID: "high_amount", Score: 10, When: "event.amount > 1000"})
	repo.put(&artifact.Ruleset{
		ID:    "core",
		Rules: []string{"high_amount"},
		Conclusion: []artifact.Clause{
			{When: "ctx.score >= 10", Signal: "review", Reason: "high amount"},
			{Default: true, Signal: "approve"},
		},
		Imports: []string{"high_amount"},
	})
	repo.put(&artifact.Pipeline{
		ID:      "main",
		Steps:   []artifact.Step{{ID: "s1", Kind: "ruleset", Ref: "core"}},
		Imports: []string{"core"},
	})
	return repo
}

func createTestServer() *Server {
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	repo := testRepo()
	eng := engine.New(repo, adapters.Deps{}, "main", 2*time.Second, 4)
	return NewServer(cfg, eng, repo, nil, nil, "test-v1")
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("ApproveBelowThreshold", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"event_data": map[string]any{"amount": 100},
		})
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp decision.Response
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Result.Signal.Type != "approve" {
			t.Errorf("expected signal approve, got %s", resp.Result.Signal.Type)
		}
		if resp.RequestID == "" {
			t.Error("expected request_id in response")
		}
		if resp.PipelineID != "main" {
			t.Errorf("expected pipeline_id main, got %s", resp.PipelineID)
		}
	})

	t.Run("ReviewAboveThreshold", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"event_data": map[string]any{"amount": 5000},
		})
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp decision.Response
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Result.Signal.Type != "review" {
			t.Errorf("expected signal review, got %s", resp.Result.Signal.Type)
		}
		if len(resp.Result.TriggeredRules) != 1 || resp.Result.TriggeredRules[0] != "high_amount" {
			t.Errorf("expected triggered_rules=[high_amount], got %v", resp.Result.TriggeredRules)
		}
	})

	t.Run("MissingEventData", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"event_data": map[string]any{"amount": 1}})
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})

	t.Run("UnknownPipelineIs422", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"event_data": map[string]any{"amount": 1},
			"options":    map[string]any{"pipeline_id": "does-not-exist"},
		})
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestLibraryEndpoints(t *testing.T) {
	server := createTestServer()

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/library/rules", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		ids, _ := resp["ids"].([]any)
		if len(ids) != 1 || ids[0] != "high_amount" {
			t.Errorf("expected ids=[high_amount], got %v", resp["ids"])
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/library/rules/nonexistent", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/library/bogus", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
