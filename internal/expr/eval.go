package expr

import (
	"fmt"
	"regexp"

	"github.com/riskguard/decisionengine/internal/value"
)

// Resolver supplies field values during direct tree-walking evaluation. The VM
// implements Resolver over an ExecutionContext so that Call* arguments (a list call's
// key expression, an LLM call's prompt expression) can be evaluated without being
// lowered into the main instruction stream (spec.md §2: "evaluated both at compile
// time ... and at run time for dynamic expressions inside templated fields").
type Resolver interface {
	Field(path *FieldPath) (val value.Value, found bool, err error)
}

// Eval walks n directly against r. It honors the same short-circuit rules as the
// compiled form: the right operand of And/Or is not evaluated (and so triggers no
// field resolution, hence no adapter call) once the result is already determined.
func Eval(n *Node, r Resolver) (value.Value, error) {
	if n == nil {
		return value.Null(), nil
	}
	switch n.Kind {
	case KindLiteral:
		return n.Value, nil

	case KindField:
		v, _, err := r.Field(n.Field)
		if err != nil {
			return value.Null(), err
		}
		return v, nil

	case KindAnd:
		for _, op := range n.Operands {
			v, err := Eval(op, r)
			if err != nil {
				return value.Null(), err
			}
			if !v.Truthy() {
				return value.Bool(false), nil
			}
		}
		return value.Bool(true), nil

	case KindOr:
		for _, op := range n.Operands {
			v, err := Eval(op, r)
			if err != nil {
				return value.Null(), err
			}
			if v.Truthy() {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil

	case KindNot:
		v, err := Eval(n.Left, r)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(!v.Truthy()), nil

	case KindExists, KindMissing:
		_, found, err := r.Field(n.Field)
		if err != nil {
			return value.Null(), err
		}
		if n.Kind == KindExists {
			return value.Bool(found), nil
		}
		return value.Bool(!found), nil

	case KindIn:
		left, err := Eval(n.Left, r)
		if err != nil {
			return value.Null(), err
		}
		right, err := Eval(n.Right, r)
		if err != nil {
			return value.Null(), err
		}
		seq, ok := right.AsSequence()
		if !ok {
			return value.Bool(false), nil
		}
		for _, e := range seq {
			if left.Equal(e) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil

	case KindRegex:
		left, err := Eval(n.Left, r)
		if err != nil {
			return value.Null(), err
		}
		s, ok := left.AsString()
		if !ok {
			return value.Bool(false), nil
		}
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return value.Null(), fmt.Errorf("expr: invalid regex %q: %w", n.Pattern, err)
		}
		return value.Bool(re.MatchString(s)), nil

	case KindBinary:
		return evalBinary(n, r)

	default:
		return value.Null(), fmt.Errorf("expr: unknown node kind %d", n.Kind)
	}
}

func evalBinary(n *Node, r Resolver) (value.Value, error) {
	left, err := Eval(n.Left, r)
	if err != nil {
		return value.Null(), err
	}
	if n.Op == "neg" {
		f, ok := left.ToFloat()
		if !ok {
			return value.Null(), fmt.Errorf("expr: cannot negate non-numeric value")
		}
		if li, ok := left.AsInt(); ok {
			return value.Int(-li), nil
		}
		return value.Float(-f), nil
	}

	right, err := Eval(n.Right, r)
	if err != nil {
		return value.Null(), err
	}

	switch n.Op {
	case "==":
		return value.Bool(left.Equal(right)), nil
	case "!=":
		return value.Bool(!left.Equal(right)), nil
	case "<", "<=", ">", ">=":
		cmp, err := left.Compare(right)
		if err != nil {
			return value.Bool(false), nil // TypeError: false in boolean context, per spec.md §7
		}
		switch n.Op {
		case "<":
			return value.Bool(cmp < 0), nil
		case "<=":
			return value.Bool(cmp <= 0), nil
		case ">":
			return value.Bool(cmp > 0), nil
		default:
			return value.Bool(cmp >= 0), nil
		}
	case "+", "-", "*", "/", "%":
		return Arith(n.Op, left, right)
	default:
		return value.Null(), fmt.Errorf("expr: unknown operator %q", n.Op)
	}
}

// Arith applies a binary arithmetic operator (+ - * / %), promoting to Float unless
// both operands are Int (and the operator isn't "/", which always promotes). Reused by
// the VM's BinaryOp instruction so the two evaluation paths (direct tree-walk for
// Call* argument expressions, compiled bytecode for everything else) share one
// implementation.
func Arith(op string, left, right value.Value) (value.Value, error) {
	li, liOK := left.AsInt()
	ri, riOK := right.AsInt()
	if liOK && riOK && op != "/" {
		switch op {
		case "+":
			return value.Int(li + ri), nil
		case "-":
			return value.Int(li - ri), nil
		case "*":
			return value.Int(li * ri), nil
		case "%":
			if ri == 0 {
				return value.Null(), fmt.Errorf("expr: modulo by zero")
			}
			return value.Int(li % ri), nil
		}
	}
	lf, lOK := left.ToFloat()
	rf, rOK := right.ToFloat()
	if !lOK || !rOK {
		return value.Null(), fmt.Errorf("expr: arithmetic operator %q applied to non-numeric value", op)
	}
	switch op {
	case "+":
		return value.Float(lf + rf), nil
	case "-":
		return value.Float(lf - rf), nil
	case "*":
		return value.Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return value.Null(), fmt.Errorf("expr: division by zero")
		}
		return value.Float(lf / rf), nil
	case "%":
		return value.Null(), fmt.Errorf("expr: modulo requires integer operands")
	default:
		return value.Null(), fmt.Errorf("expr: unknown operator %q", op)
	}
}
