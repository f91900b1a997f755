// Package trace implements the structured, append-only execution trace the VM emits
// when a request enables it (spec.md §4.5, §9 "Trace as a pure append-only structure").
// Grounded on a visited-node tree shape (Node/Attach/SetResult/SetErr) observed across
// the example corpus's own tracing helpers: a tree of named nodes, each carrying
// attributes, an optional result, an optional error, and ordered children.
package trace

// Node is one entry in the trace tree: a step, branch, rule evaluation, or external
// call. Disabled tracing must make every emission a zero-cost no-op (spec.md §9); Tree
// below is the nil-safe entry point for that.
type Node struct {
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Attrs    map[string]any `json:"attrs,omitempty"`
	Result   any            `json:"result,omitempty"`
	Err      string         `json:"err,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

func newNode(kind, name string) *Node {
	return &Node{Kind: kind, Name: name}
}

// Attach appends child as a new child of n and returns it, so callers can chain
// SetAttr/SetResult/SetErr on the returned node. Nil-safe: attaching to a nil node (a
// disabled trace) yields nil.
func (n *Node) Attach(kind, name string) *Node {
	if n == nil {
		return nil
	}
	child := newNode(kind, name)
	n.Children = append(n.Children, child)
	return child
}

// SetAttr, SetResult, and SetErr are nil-safe: a node obtained through Attach on a
// disabled trace is nil, and callers chain these without checking first.
func (n *Node) SetAttr(key string, val any) *Node {
	if n == nil {
		return nil
	}
	if n.Attrs == nil {
		n.Attrs = map[string]any{}
	}
	n.Attrs[key] = val
	return n
}

func (n *Node) SetResult(val any) *Node {
	if n == nil {
		return nil
	}
	n.Result = val
	return n
}

func (n *Node) SetErr(err error) *Node {
	if n == nil || err == nil {
		return n
	}
	n.Err = err.Error()
	return n
}

// Tree is the per-request trace root. A nil *Tree is valid and every method on it is a
// no-op, so the VM can hold a *Tree unconditionally and skip all "if enabled" checks at
// call sites.
type Tree struct {
	root *Node
}

// New returns an enabled trace tree rooted at the given pipeline id.
func New(pipelineID string) *Tree {
	return &Tree{root: newNode("pipeline", pipelineID)}
}

// Disabled returns a *Tree whose every emission is a no-op.
func Disabled() *Tree { return nil }

func (t *Tree) Enabled() bool { return t != nil }

// Root attaches a node directly under the trace root. Safe to call on a nil *Tree.
func (t *Tree) Root(kind, name string) *Node {
	if t == nil {
		return nil
	}
	return t.root.Attach(kind, name)
}

// Export returns the finished trace for inclusion in a DecisionResponse, or nil when
// tracing was disabled.
func (t *Tree) Export() *Node {
	if t == nil {
		return nil
	}
	return t.root
}
