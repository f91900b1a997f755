package value

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", Null(), false},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"zero int", Int(0), false},
		{"nonzero int", Int(1), true},
		{"zero float", Float(0), false},
		{"empty string", String(""), false},
		{"nonempty string", String("x"), true},
		{"empty sequence", Sequence(), false},
		{"nonempty sequence", Sequence(Int(1)), true},
		{"empty mapping", NewMapping(), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.Truthy(); got != c.want {
				t.Errorf("Truthy() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEqualCrossTag(t *testing.T) {
	if !Int(5).Equal(Float(5.0)) {
		t.Error("expected Int(5) == Float(5.0)")
	}
	if Int(5).Equal(String("5")) {
		t.Error("expected Int(5) != String(\"5\")")
	}
	if Null().Equal(Bool(false)) {
		t.Error("expected Null != Bool(false)")
	}
}

func TestCompareTypeMismatch(t *testing.T) {
	_, err := String("a").Compare(Int(1))
	if err == nil {
		t.Fatal("expected ErrTypeMismatch")
	}
	if _, ok := err.(ErrTypeMismatch); !ok {
		t.Errorf("expected ErrTypeMismatch, got %T", err)
	}
}

func TestCompareNumericPromotion(t *testing.T) {
	cmp, err := Int(3).Compare(Float(3.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmp != -1 {
		t.Errorf("Compare(3, 3.5) = %d, want -1", cmp)
	}
}

func TestMappingWithAndGet(t *testing.T) {
	m := NewMapping().With("a", Int(1)).With("b", Int(2))
	v, ok := m.Get("a")
	if !ok || v.Equal(Int(1)) == false {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestFromGoToGoRoundTrip(t *testing.T) {
	src := map[string]any{
		"a": int64(1),
		"b": "hi",
		"c": []any{true, nil, 2.5},
	}
	v := FromGo(src)
	got := v.ToGo()
	gm, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", got)
	}
	if gm["b"] != "hi" {
		t.Errorf("b = %v", gm["b"])
	}
	seq, ok := gm["c"].([]any)
	if !ok || len(seq) != 3 {
		t.Fatalf("c = %v", gm["c"])
	}
}
