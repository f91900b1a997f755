package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/decision"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/engine"
)

// engineTenant is the fixed tenant scope domain.EventBus's multi-tenant Publish is
// called under; this engine's wire contract (spec.md §6) has no tenant concept.
const engineTenant = "decisionengine"

// Handler holds dependencies for API handlers.
type Handler struct {
	engine  *engine.Engine
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{engine: eng, repo: repo, cache: cache, bus: bus, version: version}
}

// requestOptions is the wire form of spec.md §6 Request.options.
type requestOptions struct {
	EnableTrace bool   `json:"enable_trace,omitempty"`
	PipelineID  string `json:"pipeline_id,omitempty"`
}

// wireRequest is the wire form of spec.md §6's Request JSON.
type wireRequest struct {
	EventData map[string]any    `json:"event_data"`
	Features  map[string]any    `json:"features,omitempty"`
	Api       map[string]any    `json:"api,omitempty"`
	Service   map[string]any    `json:"service,omitempty"`
	LLM       map[string]any    `json:"llm,omitempty"`
	Vars      map[string]any    `json:"vars,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Options   requestOptions    `json:"options,omitempty"`
}

func (w wireRequest) toDecisionRequest() decision.Request {
	return decision.Request{
		EventData: w.EventData,
		Features:  w.Features,
		Api:       w.Api,
		Service:   w.Service,
		LLM:       w.LLM,
		Vars:      w.Vars,
		Metadata:  w.Metadata,
		Options: decision.Options{
			EnableTrace: w.Options.EnableTrace,
			PipelineID:  w.Options.PipelineID,
		},
	}
}

// Evaluate handles POST /evaluate: spec.md §6's decision request/response contract.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.EventData == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_data is required"})
		return
	}

	resp, err := h.engine.Evaluate(r.Context(), req.toDecisionRequest())
	if err != nil {
		slog.Error("decision evaluation failed", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	if h.bus != nil {
		topic := domain.TopicDecisionCompleted
		if resp.Result.Signal.Type == "error" {
			topic = domain.TopicDecisionFailed
		}
		payload, _ := json.Marshal(resp)
		if err := h.bus.Publish(r.Context(), engineTenant, topic, payload); err != nil {
			slog.Warn("failed to publish decision event", "topic", topic, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

var kindParams = map[string]artifact.Kind{
	"rules":     artifact.KindRule,
	"rulesets":  artifact.KindRuleset,
	"pipelines": artifact.KindPipeline,
	"features":  artifact.KindFeature,
	"lists":     artifact.KindList,
	"apis":      artifact.KindAPI,
	"services":  artifact.KindService,
	"templates": artifact.KindTemplate,
}

func kindFromRoute(r *http.Request) (artifact.Kind, bool) {
	k, ok := kindParams[chi.URLParam(r, "kind")]
	return k, ok
}

// ListArtifacts handles GET /library/{kind}.
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromRoute(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown artifact kind"})
		return
	}
	ids, err := h.repo.List(kind)
	if err != nil {
		slog.Error("failed to list artifacts", "kind", kind, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list artifacts"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "ids": ids})
}

// GetArtifact handles GET /library/{kind}/{id}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromRoute(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown artifact kind"})
		return
	}
	id := chi.URLParam(r, "id")
	_, _, raw, err := h.repo.Load(kind, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// PutArtifact handles PUT /library/{kind}/{id}: saves rawText and invalidates the
// engine's compiled-Program cache, since a changed artifact may affect any pipeline
// that transitively imports it.
func (h *Handler) PutArtifact(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromRoute(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown artifact kind"})
		return
	}
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	if err := h.repo.Save(kind, id, body); err != nil {
		slog.Error("failed to save artifact", "kind", kind, "id", id, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.engine.InvalidateCache()

	slog.Info("artifact saved", "kind", kind, "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "artifact saved"})
}

// DeleteArtifact handles DELETE /library/{kind}/{id}.
func (h *Handler) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromRoute(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown artifact kind"})
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.repo.Delete(kind, id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}
	h.engine.InvalidateCache()

	slog.Info("artifact deleted", "kind", kind, "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "artifact deleted"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
