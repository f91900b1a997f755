package vm

import (
	"context"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
)

// AdapterRequest is the uniform invocation envelope every external call adapter
// receives (spec.md §6 "Feature / list / api / service adapter interface").
type AdapterRequest struct {
	CallID string
	// Args carries whatever payload is specific to the call kind: resolved sibling
	// features for a derived Feature, {"key": ...} for a List lookup, {"prompt": ...}
	// for an LLM call. Nil for api/service calls.
	Args     map[string]value.Value
	Event    value.Value
	Vars     value.Value
	Endpoint string
	Method   string
}

// Adapter services one Call* opcode. The VM never constructs concrete adapter
// instances directly; it looks them up through a Registry (spec.md §9 "External calls
// as opcodes, not injected services").
type Adapter interface {
	Invoke(ctx context.Context, req AdapterRequest) (value.Value, error)
}

// Registry resolves adapters by (kind, id). internal/adapters provides the concrete
// implementation; the VM only depends on this interface.
type Registry interface {
	Feature(id string) (Adapter, *artifact.Feature, bool)
	List(id string) (Adapter, bool)
	Api(id string) (Adapter, *artifact.ApiDef, bool)
	Service(id string) (Adapter, *artifact.ServiceDef, bool)
	LLM(id string) (Adapter, bool)
}
