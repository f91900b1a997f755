// Package worker provides async decision processing for the Pro tier: it subscribes
// to domain.TopicDecisionRequested on the EventBus, evaluates each request through
// internal/engine, and republishes the outcome on TopicDecisionCompleted or
// TopicDecisionFailed — the async mirror of internal/api's synchronous POST /evaluate.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/riskguard/decisionengine/internal/decision"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/engine"
)

// Worker processes decision requests asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = a single global subscription).
	TenantIDs []string
}

// NewWorker creates a new async worker over eng.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes requests under a single fixed
// tenant scope (this engine's wire contract, spec.md §6, has no tenant concept; the
// scope only matters for EventBus routing).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicDecisionRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker scoped to a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicDecisionRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicDecisionRequested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRequest(ctx, msg.TenantID, msg)
}

// requestEnvelope wraps a decision request with the correlation id the caller wants
// echoed back on the completed/failed topic, since decision.Request itself carries
// no request identity.
type requestEnvelope struct {
	RequestID string          `json:"request_id"`
	Request   decision.Request `json:"request"`
}

// processRequest evaluates a request through the engine and publishes the outcome.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var env requestEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		slog.Error("failed to parse decision request message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("processing decision request",
		"request_id", env.RequestID,
		"tenant_id", tenantID,
		"pipeline_id", env.Request.Options.PipelineID,
	)

	resp, err := w.engine.Evaluate(ctx, env.Request)
	if err != nil {
		slog.Error("decision evaluation failed",
			"request_id", env.RequestID,
			"error", err,
		)
		failure, _ := json.Marshal(map[string]string{
			"request_id": env.RequestID,
			"error":      err.Error(),
		})
		if pubErr := w.bus.Publish(ctx, tenantID, domain.TopicDecisionFailed, failure); pubErr != nil {
			slog.Error("failed to publish decision failure",
				"request_id", env.RequestID,
				"error", pubErr,
			)
		}
		return err
	}
	if env.RequestID != "" {
		resp.RequestID = env.RequestID
	}

	payload, _ := json.Marshal(resp)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicDecisionCompleted, payload); err != nil {
		slog.Error("failed to publish decision result",
			"request_id", resp.RequestID,
			"error", err,
		)
	}

	slog.Info("decision request processed",
		"request_id", resp.RequestID,
		"tenant_id", tenantID,
		"pipeline_id", resp.PipelineID,
		"signal", resp.Result.Signal.Type,
		"score", resp.Result.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
