// Package expr implements the expression grammar of spec.md §4.2: string expressions
// and structured condition trees are both compiled into a single ExprTree (Node),
// which the compiler package lowers into VM instructions.
package expr

import "github.com/riskguard/decisionengine/internal/value"

// Kind discriminates the Node variants. Kept as a closed set, dispatched on only here
// and in the compiler's lowering pass.
type Kind int

const (
	KindLiteral Kind = iota
	KindField
	KindAnd
	KindOr
	KindNot
	KindBinary // arithmetic/comparison: Op + Left/Right
	KindIn     // Left in Right (Right is a literal list or a FieldPath, e.g. a list.* ref)
	KindRegex  // Left regex Pattern
	KindExists
	KindMissing
)

// FieldPath is a resolved dotted path rooted at one of the recognized namespaces.
// event.*, features.*, vars.*, ctx.* carry Path only; api.*, service.*, llm.*, list.*
// carry CallID (the <id> segment) plus the remaining Path.
type FieldPath struct {
	Namespace string
	CallID    string
	Path      []string
}

// Node is the expression tree. Only the fields relevant to Kind are populated.
type Node struct {
	Kind     Kind
	Value    value.Value  // KindLiteral
	Field    *FieldPath   // KindField, KindExists, KindMissing
	Op       string       // KindBinary: "+","-","*","/","%","==","!=","<","<=",">",">="
	Left     *Node        // KindBinary, KindIn, KindRegex, KindNot (single operand)
	Right    *Node        // KindBinary, KindIn
	Operands []*Node      // KindAnd, KindOr (n-ary, evaluated left to right, short-circuit)
	Pattern  string       // KindRegex
}

// References is the set of external ids an ExprTree touches, collected by Collect from
// a parsed tree so the compiler can populate a Program's "required externals" metadata (spec.md
// §4.2, "Reference collection").
type References struct {
	Features []string
	Apis     []string
	Services []string
	LLMs     []string
	Lists    []string
}

// Collect walks n and returns every distinct external reference found, in first-seen
// order.
func Collect(n *Node) References {
	var r References
	seen := map[string]bool{}
	add := func(slice *[]string, namespace, id string) {
		key := namespace + ":" + id
		if seen[key] {
			return
		}
		seen[key] = true
		*slice = append(*slice, id)
	}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Field != nil {
			switch n.Field.Namespace {
			case "features":
				if len(n.Field.Path) > 0 {
					add(&r.Features, "features", n.Field.Path[0])
				}
			case "api":
				add(&r.Apis, "api", n.Field.CallID)
			case "service":
				add(&r.Services, "service", n.Field.CallID)
			case "llm":
				add(&r.LLMs, "llm", n.Field.CallID)
			case "list":
				add(&r.Lists, "list", n.Field.CallID)
			}
		}
		walk(n.Left)
		walk(n.Right)
		for _, o := range n.Operands {
			walk(o)
		}
	}
	walk(n)
	return r
}
