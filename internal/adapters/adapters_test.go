package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

type fakeCounter struct {
	counts map[string]int64
}

func (f *fakeCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[key]++
	return f.counts[key], nil
}

type fakeKV struct {
	data map[string][]byte
}

func (f *fakeKV) Get(ctx context.Context, key string) ([]byte, error) {
	return f.data[key], nil
}

func TestAggregationAdapterIncrementsPerEntity(t *testing.T) {
	def := &artifact.Feature{ID: "velocity_1h", Kind: artifact.FeatureKindAggregation, SourceRef: "events", Window: "1h"}
	counter := &fakeCounter{}
	a := newAggregationAdapter(def, counter)

	event := value.NewMapping().With("entity_id", value.String("acct-1"))
	req := vm.AdapterRequest{Event: event}

	first, err := a.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	second, err := a.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	firstN, _ := first.AsInt()
	secondN, _ := second.AsInt()
	if firstN != 1 || secondN != 2 {
		t.Errorf("expected counts 1,2 got %d,%d", firstN, secondN)
	}
}

func TestAggregationAdapterSeparatesEntities(t *testing.T) {
	def := &artifact.Feature{ID: "velocity_1h", Kind: artifact.FeatureKindAggregation, SourceRef: "events", Window: "1h"}
	counter := &fakeCounter{}
	a := newAggregationAdapter(def, counter)

	evA := value.NewMapping().With("entity_id", value.String("acct-1"))
	evB := value.NewMapping().With("entity_id", value.String("acct-2"))

	valA, _ := a.Invoke(context.Background(), vm.AdapterRequest{Event: evA})
	valB, _ := a.Invoke(context.Background(), vm.AdapterRequest{Event: evB})

	nA, _ := valA.AsInt()
	nB, _ := valB.AsInt()
	if nA != 1 || nB != 1 {
		t.Errorf("expected independent per-entity counters, got %d and %d", nA, nB)
	}
}

func TestDerivedAdapterEvaluatesExpr(t *testing.T) {
	def := &artifact.Feature{ID: "risk_ratio", Kind: artifact.FeatureKindDerived, Expr: "features['velocity_1h'] > 3"}
	a, err := newDerivedAdapter(def)
	if err != nil {
		t.Fatalf("newDerivedAdapter: %v", err)
	}

	req := vm.AdapterRequest{
		Event: value.NewMapping(),
		Vars:  value.NewMapping(),
		Args:  map[string]value.Value{"velocity_1h": value.Int(5)},
	}
	out, err := a.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	b, _ := out.AsBool()
	if !b {
		t.Errorf("expected true, got %v", out.ToGo())
	}
}

func TestLookupAdapterExpandsKeyTemplate(t *testing.T) {
	def := &artifact.Feature{ID: "merchant_risk", Kind: artifact.FeatureKindLookup, SourceRef: "merchant:{event.merchant_id}"}
	kv := &fakeKV{data: map[string][]byte{"merchant:m-42": []byte(`{"risk":"high"}`)}}
	a := newLookupAdapter(def, kv)

	event := value.NewMapping().With("merchant_id", value.String("m-42"))
	out, err := a.Invoke(context.Background(), vm.AdapterRequest{Event: event})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	got, _, _ := out.AsMapping()
	risk, _ := got["risk"].AsString()
	if risk != "high" {
		t.Errorf("expected risk=high, got %v", out.ToGo())
	}
}

func TestStaticListAdapterMembership(t *testing.T) {
	def := &artifact.List{ID: "blocklist", Items: []any{"fraud-1", "fraud-2"}}
	a := newStaticListAdapter(def)

	hit, err := a.Invoke(context.Background(), vm.AdapterRequest{Args: map[string]value.Value{"key": value.String("fraud-1")}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	hitB, _ := hit.AsBool()
	if !hitB {
		t.Error("expected fraud-1 to be a member")
	}

	miss, _ := a.Invoke(context.Background(), vm.AdapterRequest{Args: map[string]value.Value{"key": value.String("clean-1")}})
	missB, _ := miss.AsBool()
	if missB {
		t.Error("expected clean-1 to not be a member")
	}
}

func TestNewRegistryWiresFeatureKinds(t *testing.T) {
	features := map[string]*artifact.Feature{
		"velocity_1h": {ID: "velocity_1h", Kind: artifact.FeatureKindAggregation, SourceRef: "events", Window: "1h"},
		"risk_ratio":  {ID: "risk_ratio", Kind: artifact.FeatureKindDerived, Expr: "features['velocity_1h'] > 3"},
	}
	lists := map[string]*artifact.List{
		"blocklist": {ID: "blocklist", Items: []any{"x"}},
	}

	reg, err := NewRegistry(features, lists, nil, nil, Deps{Counter: &fakeCounter{}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, _, ok := reg.Feature("velocity_1h"); !ok {
		t.Error("expected velocity_1h to be registered")
	}
	if _, _, ok := reg.Feature("risk_ratio"); !ok {
		t.Error("expected risk_ratio to be registered")
	}
	if _, ok := reg.List("blocklist"); !ok {
		t.Error("expected blocklist to be registered")
	}
}

func TestNewRegistryMissingCounterErrors(t *testing.T) {
	features := map[string]*artifact.Feature{
		"velocity_1h": {ID: "velocity_1h", Kind: artifact.FeatureKindAggregation, SourceRef: "events"},
	}
	if _, err := NewRegistry(features, nil, nil, nil, Deps{}); err == nil {
		t.Error("expected an error when no WindowCounter is supplied")
	}
}
