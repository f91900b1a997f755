// Package compiler lowers a resolved pipeline (and its transitive ruleset/rule/template
// graph, as produced by internal/loader) into a linear internal/vm.Program: a flat
// instruction list, constant pool, and resolved label table (spec.md §4.3, §4.4).
package compiler

import (
	"fmt"

	"github.com/riskguard/decisionengine/internal/expr"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// asm is the two-pass assembler described in spec.md §4.3: pass 1 emits instructions
// with symbolic forward labels, pass 2 (resolve) rewrites them to numeric indices.
type asm struct {
	instructions []vm.Instruction
	labels       map[string]int
	labelSeq     int
	constants    constPool

	ruleIDs      []string
	seenRuleID   map[string]bool
	refs         expr.References
	seenRefKey   map[string]bool
}

func newAsm() *asm {
	return &asm{labels: map[string]int{}, constants: newConstPool(), seenRuleID: map[string]bool{}, seenRefKey: map[string]bool{}}
}

// noteRule records a compiled rule id in the Program's declared-rules metadata
// (spec.md §3 "Program").
func (a *asm) noteRule(id string) {
	if a.seenRuleID[id] {
		return
	}
	a.seenRuleID[id] = true
	a.ruleIDs = append(a.ruleIDs, id)
}

// noteRefs merges an expression's collected external references into the Program's
// required-externals metadata (spec.md §4.2 "Reference collection").
func (a *asm) noteRefs(r expr.References) {
	merge := func(dst *[]string, namespace string, ids []string) {
		for _, id := range ids {
			key := namespace + ":" + id
			if a.seenRefKey[key] {
				continue
			}
			a.seenRefKey[key] = true
			*dst = append(*dst, id)
		}
	}
	merge(&a.refs.Features, "features", r.Features)
	merge(&a.refs.Apis, "api", r.Apis)
	merge(&a.refs.Services, "service", r.Services)
	merge(&a.refs.LLMs, "llm", r.LLMs)
	merge(&a.refs.Lists, "list", r.Lists)
}

// newLabel allocates a fresh symbolic label name, unique within this assembly.
func (a *asm) newLabel(prefix string) string {
	a.labelSeq++
	return fmt.Sprintf("%s_%d", prefix, a.labelSeq)
}

// mark binds label to the next instruction's index.
func (a *asm) mark(label string) {
	a.labels[label] = len(a.instructions)
}

// emit appends ins and returns its index.
func (a *asm) emit(ins vm.Instruction) int {
	a.instructions = append(a.instructions, ins)
	return len(a.instructions) - 1
}

// resolve rewrites every instruction's symbolic Label to a numeric Target, per
// spec.md §4.3's "pass 2 rewrites to numeric indices."
func (a *asm) resolve() error {
	for i := range a.instructions {
		ins := &a.instructions[i]
		if ins.Label == "" {
			continue
		}
		idx, ok := a.labels[ins.Label]
		if !ok {
			return fmt.Errorf("compiler: unresolved label %q at instruction %d", ins.Label, i)
		}
		ins.Target = idx
	}
	return nil
}

// constPool deduplicates compiled constants by their canonical Go representation.
type constPool struct {
	values []value.Value
	index  map[string]int
}

func newConstPool() constPool {
	return constPool{index: map[string]int{}}
}

func (p *constPool) add(v value.Value) int {
	key := fmt.Sprintf("%d:%v", v.Tag(), v.ToGo())
	if i, ok := p.index[key]; ok {
		return i
	}
	p.values = append(p.values, v)
	i := len(p.values) - 1
	p.index[key] = i
	return i
}
