package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskguard/decisionengine/internal/adapters"
	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/bus"
	"github.com/riskguard/decisionengine/internal/decision"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/engine"
)

// fakeRepo is the same minimal in-memory domain.Repository fixture internal/api's
// tests use: artifacts are keyed by id, and imports must be declared explicitly since
// internal/loader's resolver only walks an artifact's own declared Imports, not its
// Step.Ref/Rules references.
type fakeRepo struct {
	artifacts map[string]artifact.Artifact
	imports   map[string][]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{artifacts: map[string]artifact.Artifact{}, imports: map[string][]string{}}
}

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
func (r *fakeRepo) List(kind artifact.Kind) ([]string, error) { return nil, nil }
func (r *fakeRepo) Exists(kind artifact.Kind, id string) (bool, error) {
	_, ok := r.artifacts[id]
	return ok, nil
}
func (r *fakeRepo) Save(kind artifact.Kind, id string, rawText []byte) error { return nil }
func (r *fakeRepo) Delete(kind artifact.Kind, id string) error              { return nil }
func (r *fakeRepo) Ping(ctx context.Context) error                         { return nil }
func (r *fakeRepo) Close() error                                           { return nil }

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
	}, "high_amount")
	repo.put(&artifact.Pipeline{
		ID:    "main",
		Steps: []artifact.Step{{ID: "s1", Kind: "ruleset", Ref: "core"}},
	}, "core")
	return repo
}

func testEngine() *engine.Engine {
	return engine.New(testRepo(), adapters.Deps{}, "main", 2*time.Second, 4)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	eng := testEngine()
	w := NewWorker(eventBus, eng)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{TenantIDs: []string{"tenant-001"}}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequestApprove", func(t *testing.T) {
		w := NewWorker(eventBus, testEngine())
		cfg := Config{TenantIDs: []string{"tenant-test"}}
		w.Start(cfg)
		defer w.Stop()

		var received atomic.Bool
		var payload []byte
		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicDecisionCompleted, func(ctx context.Context, msg *domain.Message) error {
			payload = msg.Payload
			received.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		env := requestEnvelope{
			RequestID: "req-001",
			Request:   decision.Request{EventData: map[string]any{"amount": 50}},
		}
		data, _ := json.Marshal(env)
		if err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicDecisionRequested, data); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !received.Load() {
			t.Fatal("expected a completed decision to be published")
		}
		var resp decision.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RequestID != "req-001" {
			t.Errorf("expected request_id 'req-001', got '%s'", resp.RequestID)
		}
		if resp.Result.Signal.Type != "approve" {
			t.Errorf("expected signal 'approve', got '%s'", resp.Result.Signal.Type)
		}
	})

	t.Run("ProcessRequestReviewsHighAmount", func(t *testing.T) {
		w := NewWorker(eventBus, testEngine())
		cfg := Config{TenantIDs: []string{"tenant-review"}}
		w.Start(cfg)
		defer w.Stop()

		var received atomic.Bool
		var payload []byte
		eventBus.Subscribe(context.Background(), "tenant-review", domain.TopicDecisionCompleted, func(ctx context.Context, msg *domain.Message) error {
			payload = msg.Payload
			received.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		env := requestEnvelope{
			RequestID: "req-002",
			Request:   decision.Request{EventData: map[string]any{"amount": 5000}},
		}
		data, _ := json.Marshal(env)
		eventBus.Publish(context.Background(), "tenant-review", domain.TopicDecisionRequested, data)

		time.Sleep(100 * time.Millisecond)

		if !received.Load() {
			t.Fatal("expected a completed decision to be published")
		}
		var resp decision.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Result.Signal.Type != "review" {
			t.Errorf("expected signal 'review', got '%s'", resp.Result.Signal.Type)
		}
		if resp.Result.Score != 10 {
			t.Errorf("expected score 10, got %d", resp.Result.Score)
		}
	})

	t.Run("ProcessRequestUnknownPipelinePublishesFailure", func(t *testing.T) {
		w := NewWorker(eventBus, testEngine())
		cfg := Config{TenantIDs: []string{"tenant-fail"}}
		w.Start(cfg)
		defer w.Stop()

		var received atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-fail", domain.TopicDecisionFailed, func(ctx context.Context, msg *domain.Message) error {
			received.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		env := requestEnvelope{
			RequestID: "req-003",
			Request: decision.Request{
				EventData: map[string]any{"amount": 1},
				Options:   decision.Options{PipelineID: "does-not-exist"},
			},
		}
		data, _ := json.Marshal(env)
		eventBus.Publish(context.Background(), "tenant-fail", domain.TopicDecisionRequested, data)

		time.Sleep(100 * time.Millisecond)

		if !received.Load() {
			t.Error("expected a decision failure to be published for an unknown pipeline")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, testEngine())
		cfg := Config{TenantIDs: []string{"tenant-a", "tenant-b"}}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}
