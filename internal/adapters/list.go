package adapters

import (
	"context"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// staticListAdapter serves a List artifact's inline `items` as an `in`-testable
// membership source and as the CallList opcode's result (the evaluated key_expr's
// membership test against Items).
type staticListAdapter struct {
	items []value.Value
}

func newStaticListAdapter(def *artifact.List) *staticListAdapter {
	items := make([]value.Value, len(def.Items))
	for i, raw := range def.Items {
		items[i] = value.FromGo(raw)
	}
	return &staticListAdapter{items: items}
}

func (a *staticListAdapter) Invoke(ctx context.Context, req vm.AdapterRequest) (value.Value, error) {
	key := req.Args["key"]
	for _, item := range a.items {
		if item.Equal(key) {
			return value.Bool(true), nil
		}
	}
	return value.Bool(false), nil
}
