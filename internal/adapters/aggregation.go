package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// WindowCounter backs Feature{kind: aggregation}: an atomic, TTL-bounded counter keyed
// by an arbitrary string, grounded on internal/cache/redis.go's IncrementCounter (a Lua
// INCR+PEXPIRE script run once per key's first increment in a window).
type WindowCounter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// aggregationAdapter resolves a Feature{kind: aggregation} by incrementing a window
// counter scoped to source_ref + the requesting event's entity id, generalizing
// internal/velocity/velocity.go's GetTransactionCount (tenant+entity+window lookup) from
// a fixed transaction-count query to an arbitrary named counter.
type aggregationAdapter struct {
	def     *artifact.Feature
	counter WindowCounter
	window  time.Duration
}

func newAggregationAdapter(def *artifact.Feature, counter WindowCounter) *aggregationAdapter {
	return &aggregationAdapter{def: def, counter: counter, window: parseWindow(def.Window)}
}

func parseWindow(raw string) time.Duration {
	if raw == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Hour
	}
	return d
}

func (a *aggregationAdapter) Invoke(ctx context.Context, req vm.AdapterRequest) (value.Value, error) {
	entityID := entityIDFromEvent(req.Event)
	key := fmt.Sprintf("agg:%s:%s:%s", a.def.SourceRef, a.def.ID, entityID)

	count, err := a.counter.Increment(ctx, key, a.window)
	if err != nil {
		return value.Null(), fmt.Errorf("aggregation feature %q: %w", a.def.ID, err)
	}
	return value.Int(count), nil
}

// entityIDFromEvent extracts a grouping key from the event payload: the first non-null
// field among "entity_id", "account_id", "card_id" and "id", read as a string, or
// "unknown" when none is present. The feature's source_ref does not choose the
// grouping field; it only prefixes the counter key.
func entityIDFromEvent(event value.Value) string {
	for _, key := range []string{"entity_id", "account_id", "card_id", "id"} {
		if v, ok := event.Get(key); ok && !v.IsNull() {
			s, _ := v.AsString()
			return s
		}
	}
	return "unknown"
}
