package expr

import "fmt"

// ParseCondition compiles a YAML-decoded `when` value into an ExprTree. raw is either
// a plain string expression (parsed per Parse) or a structured condition tree: a
// single-key mapping keyed by "all", "any", or "not" whose value is a list of nested
// conditions (for all/any) or a single nested condition (for not). Leaves of a
// structured tree are themselves either strings or further all/any/not groups, so the
// two forms spec.md §4.2 describes compose freely.
func ParseCondition(raw any) (*Node, error) {
	switch v := raw.(type) {
	case string:
		return Parse(v)
	case map[string]any:
		return parseConditionGroup(v)
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("expr: condition tree keys must be strings")
			}
			m[ks] = val
		}
		return parseConditionGroup(m)
	default:
		return nil, fmt.Errorf("expr: condition must be a string or all/any/not group, got %T", raw)
	}
}

func parseConditionGroup(m map[string]any) (*Node, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("expr: condition group must have exactly one of all/any/not, got %d keys", len(m))
	}
	for key, val := range m {
		switch key {
		case "all", "any":
			items, ok := val.([]any)
			if !ok {
				return nil, fmt.Errorf("expr: %q must be a list", key)
			}
			operands := make([]*Node, 0, len(items))
			for _, item := range items {
				n, err := ParseCondition(item)
				if err != nil {
					return nil, err
				}
				operands = append(operands, n)
			}
			kind := KindAnd
			if key == "any" {
				kind = KindOr
			}
			return &Node{Kind: kind, Operands: operands}, nil
		case "not":
			inner, err := ParseCondition(val)
			if err != nil {
				return nil, err
			}
			return &Node{Kind: KindNot, Left: inner}, nil
		default:
			return nil, fmt.Errorf("expr: unknown condition group key %q", key)
		}
	}
	panic("unreachable")
}
