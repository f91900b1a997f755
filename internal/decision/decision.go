// Package decision assembles a DecisionResponse (spec.md §6) from a terminated
// vm.ExecutionContext: the signal, score, triggered-rule list, action list, a
// human-readable explanation, and the trace, if enabled. It is the one component
// downstream of vm.Machine.Run that turns raw VM state into the wire response the
// core's §6 "External interfaces" contract describes.
package decision

import (
	"strings"
	"time"

	"github.com/riskguard/decisionengine/internal/vm"
	"github.com/riskguard/decisionengine/internal/vm/trace"
)

// Request is the decoded form of §6's Request JSON: an event payload plus optional
// preloaded features/vars/call responses and per-request options.
type Request struct {
	EventData map[string]any
	Features  map[string]any
	Api       map[string]any
	Service   map[string]any
	LLM       map[string]any
	Vars      map[string]any
	Metadata  map[string]string
	Options   Options
}

// Options carries the request-scoped knobs of §6's Request.options.
type Options struct {
	EnableTrace bool
	PipelineID  string
}

// Signal is the wire form of vm.Signal.
type Signal struct {
	Type string `json:"type"`
}

// Result is §6's Response.result object.
type Result struct {
	Signal         Signal         `json:"signal"`
	Actions        []any          `json:"actions"`
	Score          int64          `json:"score"`
	TriggeredRules []string       `json:"triggered_rules"`
	Explanation    string         `json:"explanation"`
	Context        map[string]any `json:"context,omitempty"`
}

// Response is §6's Response JSON in full.
type Response struct {
	RequestID        string            `json:"request_id"`
	PipelineID       string            `json:"pipeline_id"`
	Result           Result            `json:"result"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	Metadata         map[string]string `json:"metadata"`
	Trace            *trace.Node       `json:"trace,omitempty"`
}

// DefaultSignal is used when a pipeline completes without ever setting a signal and
// declares no default_signal of its own (spec.md §8 invariant 3).
const DefaultSignal = "approve"

// Build converts ec, which m.Run has already driven to termination, into a Response.
// pipelineDefaultSignal is the pipeline's options.default_signal (empty if unset);
// runErr is the error m.Run returned, if any — a DeadlineExceeded or ExternalCallError
// still produces a response (with signal "error" unless pipelineOnTimeoutSignal is
// set), matching spec.md §5's "partial response" requirement rather than discarding
// the request.
func Build(requestID, pipelineID string, ec *vm.ExecutionContext, runErr error, pipelineDefaultSignal, pipelineOnTimeoutSignal string, start time.Time) *Response {
	sig := resolveSignal(ec, runErr, pipelineDefaultSignal, pipelineOnTimeoutSignal)

	actions := make([]any, 0, len(ec.Actions()))
	for _, a := range ec.Actions() {
		actions = append(actions, a.ToGo())
	}
	triggered := ec.TriggeredRules()
	if triggered == nil {
		triggered = []string{}
	}

	resp := &Response{
		RequestID:        requestID,
		PipelineID:       pipelineID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Metadata:         ec.Metadata,
		Trace:            ec.Trace.Export(),
		Result: Result{
			Signal:         Signal{Type: sig},
			Actions:        actions,
			Score:          ec.Score,
			TriggeredRules: triggered,
			Explanation:    explain(ec, runErr, sig),
		},
	}
	if vars, _, ok := ec.Vars.AsMapping(); ok && len(vars) > 0 {
		ctx := make(map[string]any, len(vars))
		for k, v := range vars {
			ctx[k] = v.ToGo()
		}
		resp.Result.Context = ctx
	}
	return resp
}

// resolveSignal applies spec.md §5's deadline fallback and §8 invariant 3's
// unset-signal fallback, in that priority order: a deadline abort always reports
// error (or the pipeline's configured on_timeout signal), regardless of whether a
// signal had already been set before the deadline tripped.
func resolveSignal(ec *vm.ExecutionContext, runErr error, pipelineDefaultSignal, pipelineOnTimeoutSignal string) string {
	if runErr != nil {
		if pipelineOnTimeoutSignal != "" {
			return pipelineOnTimeoutSignal
		}
		return "error"
	}
	if ec.Signal().IsSet() {
		return ec.Signal().Type
	}
	if pipelineDefaultSignal != "" {
		return pipelineDefaultSignal
	}
	return DefaultSignal
}

// explain builds a short human-readable summary, grounded on tadp.GetReasons' "reasons
// from triggered rules" idiom, generalized from the teacher's single fixed reasons list
// to a signal-aware sentence (since this engine's clauses, not fixed rule bands,
// name the reason text).
func explain(ec *vm.ExecutionContext, runErr error, sig string) string {
	if runErr != nil {
		return "request aborted: " + runErr.Error()
	}
	triggered := ec.TriggeredRules()
	if len(triggered) == 0 {
		return "no rules triggered; signal " + sig
	}
	if ec.Signal().IsSet() && ec.Signal().Reason != "" {
		return ec.Signal().Reason
	}
	return "triggered: " + strings.Join(triggered, ", ")
}
