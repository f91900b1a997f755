package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// KeyValue backs Feature{kind: lookup}: a plain get-by-key store, grounded on
// internal/domain.Cache's Get/Set (tenant-scoped byte blobs), generalized here to a
// single flat keyspace since the decision engine's Event/Vars already carry whatever
// tenant-scoping a pipeline needs into the key itself.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// lookupAdapter resolves a Feature{kind: lookup} by reading source_ref as a key
// template (e.g. "merchant:{event.merchant_id}") against a KeyValue store.
type lookupAdapter struct {
	def *artifact.Feature
	kv  KeyValue
}

func newLookupAdapter(def *artifact.Feature, kv KeyValue) *lookupAdapter {
	return &lookupAdapter{def: def, kv: kv}
}

func (a *lookupAdapter) Invoke(ctx context.Context, req vm.AdapterRequest) (value.Value, error) {
	key := expandKeyTemplate(a.def.SourceRef, req.Event)
	raw, err := a.kv.Get(ctx, key)
	if err != nil {
		return value.Null(), fmt.Errorf("lookup feature %q: %w", a.def.ID, err)
	}
	if raw == nil {
		return value.Null(), nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return value.String(string(raw)), nil
	}
	return value.FromGo(decoded), nil
}

// expandKeyTemplate substitutes "{event.<field>}" placeholders in tmpl with the
// matching value off event, read verbatim (no nested namespaces) since source_ref is a
// compile-time constant, not an expression.
func expandKeyTemplate(tmpl string, event value.Value) string {
	const prefix, suffix = "{event.", "}"
	out := tmpl
	for {
		start := strings.Index(out, prefix)
		if start < 0 {
			return out
		}
		rest := out[start+len(prefix):]
		end := strings.Index(rest, suffix)
		if end < 0 {
			return out
		}
		field := rest[:end]
		val, _ := event.Get(field)
		s, _ := val.AsString()
		out = out[:start] + s + rest[end+len(suffix):]
	}
}
