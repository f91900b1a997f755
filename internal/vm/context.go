package vm

import (
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm/trace"
)

// Signal is the categorical decision outcome (spec.md glossary): approve, deny,
// review, challenge, escalate, error, or a pipeline-defined custom string.
type Signal struct {
	set    bool
	Type   string
	Reason string
}

func (s Signal) IsSet() bool { return s.set }

// ExecutionContext is the mutable, single-owner, per-request state the VM reads and
// writes (spec.md §3). It is never shared between requests and never outlives one
// decision evaluation.
type ExecutionContext struct {
	Event    value.Value // Mapping: raw event data
	Features value.Value // Mapping: preloaded + lazily computed, key = feature id
	Api      value.Value // Mapping: call id -> last response
	Service  value.Value // Mapping: call id -> last response
	LLM      value.Value // Mapping: call id -> last response
	Vars     value.Value // Mapping: scratch, writable by Store

	Score   int64
	signal  Signal
	actions []value.Value

	triggeredRules    []string
	triggeredRulesSet map[string]bool

	Trace    *trace.Tree
	Metadata map[string]string

	// Errors accumulates non-fatal runtime errors (TypeError, ExternalCallError under a
	// fallback/skip policy) for the result builder's explanation/trace (spec.md §7
	// "Runtime errors inside the VM are captured in context.errors").
	Errors []error
}

// NewExecutionContext builds a fresh context for one decision request.
func NewExecutionContext(event, features, apiPreload, servicePreload, llmPreload, vars value.Value, metadata map[string]string, tr *trace.Tree) *ExecutionContext {
	nonNull := func(v value.Value) value.Value {
		if v.IsNull() {
			return value.NewMapping()
		}
		return v
	}
	return &ExecutionContext{
		Event:             nonNull(event),
		Features:          nonNull(features),
		Api:               nonNull(apiPreload),
		Service:           nonNull(servicePreload),
		LLM:               nonNull(llmPreload),
		Vars:              nonNull(vars),
		triggeredRulesSet: map[string]bool{},
		Metadata:          metadata,
		Trace:             tr,
	}
}

// Signal returns the currently set signal, if any.
func (c *ExecutionContext) Signal() Signal { return c.signal }

// SetSignal implements the first-writer-wins semantics of spec.md §4.5 and the upgrade
// decision in SPEC_FULL.md section D.1: a clause with override=true may replace an
// already-set signal; otherwise the first writer wins and later writes are dropped
// (and should be recorded to trace by the caller as "ignored").
func (c *ExecutionContext) SetSignal(sigType, reason string, override bool) (applied bool) {
	if c.signal.set && !override {
		return false
	}
	c.signal = Signal{set: true, Type: sigType, Reason: reason}
	return true
}

// AddAction appends a, de-duplicated by value equality (spec.md §3).
func (c *ExecutionContext) AddAction(a value.Value) {
	for _, existing := range c.actions {
		if existing.Equal(a) {
			return
		}
	}
	c.actions = append(c.actions, a)
}

// Actions returns the ordered, de-duplicated action list.
func (c *ExecutionContext) Actions() []value.Value { return c.actions }

// MarkRuleTriggered adds ruleID to the triggered set, idempotently, preserving
// insertion order (spec.md §3, §8 invariant 2).
func (c *ExecutionContext) MarkRuleTriggered(ruleID string) {
	if c.triggeredRulesSet[ruleID] {
		return
	}
	c.triggeredRulesSet[ruleID] = true
	c.triggeredRules = append(c.triggeredRules, ruleID)
}

// TriggeredRules returns the ordered set of triggered rule ids.
func (c *ExecutionContext) TriggeredRules() []string { return c.triggeredRules }
