//go:build integration
// +build integration

// Package integration provides end-to-end tests for the decision engine: given a
// YAML artifact library on disk, it drives the full
// loader -> compiler -> adapters -> vm -> decision pipeline through the real HTTP
// surface (internal/api), exactly as a deployed instance would be exercised.
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/riskguard/decisionengine/internal/adapters"
	"github.com/riskguard/decisionengine/internal/api"
	"github.com/riskguard/decisionengine/internal/decision"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/engine"
	"github.com/riskguard/decisionengine/internal/loader"
)

const highAmountRule = `
version: "0.1"
rule:
  id: high_amount
  score: 10
  when: "event.amount > 1000"
`

const sameAccountRule = `
version: "0.1"
rule:
  id: same_account
  score: 25
  when: "event.debtor_id == event.creditor_id"
`

const coreRuleset = `
version: "0.1"
imports: ["library/rules/fraud/high_amount.yaml", "library/rules/fraud/same_account.yaml"]
ruleset:
  id: core
  rules: ["high_amount", "same_account"]
  conclusion:
    - when: "ctx.score >= 25"
      signal: deny
      reason: "structuring indicator"
    - when: "ctx.score >= 10"
      signal: review
      reason: "high amount transfer"
    - default: true
      signal: approve
`

const mainPipeline = `
version: "0.1"
imports: ["library/rulesets/core.yaml"]
pipeline:
  id: main
  steps:
    - id: s1
      kind: ruleset
      ref: core
`

// writeLibrary materializes the fixture artifacts above at dir, following
// internal/loader.FSRepository's on-disk convention.
func writeLibrary(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		filepath.Join("library", "rules", "fraud", "high_amount.yaml"):  highAmountRule,
		filepath.Join("library", "rules", "fraud", "same_account.yaml"): sameAccountRule,
		filepath.Join("library", "rulesets", "core.yaml"):               coreRuleset,
		filepath.Join("pipelines", "main.yaml"):                         mainPipeline,
	}
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", full, err)
		}
	}
}

// newTestServer spins up the real HTTP surface over a filesystem-backed artifact
// library rooted at a fresh temp directory, with no cache/bus wired (neither is on
// the request path for a synchronous /evaluate).
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	writeLibrary(t, dir)

	repo, err := loader.NewFSRepository(dir)
	if err != nil {
		t.Fatalf("NewFSRepository: %v", err)
	}

	eng := engine.New(repo, adapters.Deps{}, "main", 2*time.Second, 4)
	server := api.NewServer(domain.ServerConfig{}, eng, repo, nil, nil, "test")

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

type wireRequest struct {
	EventData map[string]any `json:"event_data"`
	Options   struct {
		EnableTrace bool `json:"enable_trace,omitempty"`
	} `json:"options,omitempty"`
}

func postEvaluate(t *testing.T, ts *httptest.Server, eventData map[string]any) (*http.Response, decision.Response) {
	t.Helper()
	req := wireRequest{EventData: eventData}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(ts.URL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /evaluate: %v", err)
	}
	defer resp.Body.Close()

	var decoded decision.Response
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

// TestNormalTransaction_Approve verifies a low-value, distinct-parties transfer
// triggers no rule and falls through to the ruleset's default clause.
func TestNormalTransaction_Approve(t *testing.T) {
	ts := newTestServer(t)

	resp, result := postEvaluate(t, ts, map[string]any{
		"amount":      500,
		"debtor_id":   "customer-1",
		"creditor_id": "merchant-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if result.Result.Signal.Type != "approve" {
		t.Errorf("expected signal 'approve', got %q", result.Result.Signal.Type)
	}
	if result.Result.Score != 0 {
		t.Errorf("expected score 0, got %d", result.Result.Score)
	}
	if len(result.Result.TriggeredRules) != 0 {
		t.Errorf("expected no triggered rules, got %v", result.Result.TriggeredRules)
	}
}

// TestHighValueTransaction_Review verifies a transfer above the high_amount
// threshold triggers that rule and lands on the ruleset's "review" clause.
func TestHighValueTransaction_Review(t *testing.T) {
	ts := newTestServer(t)

	_, result := postEvaluate(t, ts, map[string]any{
		"amount":      50000,
		"debtor_id":   "customer-2",
		"creditor_id": "merchant-2",
	})
	if result.Result.Signal.Type != "review" {
		t.Errorf("expected signal 'review', got %q", result.Result.Signal.Type)
	}
	if result.Result.Score != 10 {
		t.Errorf("expected score 10, got %d", result.Result.Score)
	}
	if len(result.Result.TriggeredRules) != 1 || result.Result.TriggeredRules[0] != "high_amount" {
		t.Errorf("expected only 'high_amount' triggered, got %v", result.Result.TriggeredRules)
	}
}

// TestExactThreshold_Approve verifies the rule's strict '>' comparison: an amount
// exactly at the threshold does not fire.
func TestExactThreshold_Approve(t *testing.T) {
	ts := newTestServer(t)

	_, result := postEvaluate(t, ts, map[string]any{
		"amount":      1000,
		"debtor_id":   "customer-3",
		"creditor_id": "merchant-3",
	})
	if result.Result.Signal.Type != "approve" {
		t.Errorf("expected signal 'approve' for amount exactly at threshold, got %q", result.Result.Signal.Type)
	}
}

// TestSameAccountTransfer_Deny verifies a same-party transfer alone is enough to
// trigger the ruleset's deny clause via the structuring rule's higher score.
func TestSameAccountTransfer_Deny(t *testing.T) {
	ts := newTestServer(t)

	_, result := postEvaluate(t, ts, map[string]any{
		"amount":      500,
		"debtor_id":   "same-party",
		"creditor_id": "same-party",
	})
	if result.Result.Signal.Type != "deny" {
		t.Errorf("expected signal 'deny', got %q", result.Result.Signal.Type)
	}
	if result.Result.Score != 25 {
		t.Errorf("expected score 25, got %d", result.Result.Score)
	}
}

// TestCompoundRisk_DenyWithBothRulesTriggered verifies a high-value, same-account
// transfer triggers both rules and accumulates both scores.
func TestCompoundRisk_DenyWithBothRulesTriggered(t *testing.T) {
	ts := newTestServer(t)

	_, result := postEvaluate(t, ts, map[string]any{
		"amount":      50000,
		"debtor_id":   "same-party-2",
		"creditor_id": "same-party-2",
	})
	if result.Result.Signal.Type != "deny" {
		t.Errorf("expected signal 'deny', got %q", result.Result.Signal.Type)
	}
	if result.Result.Score != 35 {
		t.Errorf("expected score 35 (10+25), got %d", result.Result.Score)
	}
	if len(result.Result.TriggeredRules) != 2 {
		t.Errorf("expected both rules triggered, got %v", result.Result.TriggeredRules)
	}
}

// TestMissingEventData_BadRequest verifies event_data is required.
func TestMissingEventData_BadRequest(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/evaluate", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /evaluate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing event_data, got %d", resp.StatusCode)
	}
}

// TestResponseMetadata verifies the wire envelope's required fields are populated.
func TestResponseMetadata(t *testing.T) {
	ts := newTestServer(t)

	_, result := postEvaluate(t, ts, map[string]any{
		"amount":      100,
		"debtor_id":   "customer-4",
		"creditor_id": "merchant-4",
	})

	if result.RequestID == "" {
		t.Error("missing request_id")
	}
	if result.PipelineID != "main" {
		t.Errorf("expected pipeline_id 'main', got %q", result.PipelineID)
	}
	if result.Result.Signal.Type != "approve" && result.Result.Signal.Type != "review" && result.Result.Signal.Type != "deny" {
		t.Errorf("unexpected signal %q", result.Result.Signal.Type)
	}
	if result.ProcessingTimeMs < 0 {
		t.Error("negative processing_time_ms")
	}
}

// TestHealthEndpoint verifies /health reports healthy once the repository is reachable.
func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

// TestLibraryEndpoint_ListRules verifies the artifact-library surface reflects what
// was written to disk.
func TestLibraryEndpoint_ListRules(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/library/rules")
	if err != nil {
		t.Fatalf("GET /library/rules: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.IDs) != 2 {
		t.Errorf("expected 2 rules listed, got %v", body.IDs)
	}
}
