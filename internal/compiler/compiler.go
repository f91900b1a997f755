package compiler

import (
	"fmt"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/engineerr"
	"github.com/riskguard/decisionengine/internal/expr"
	"github.com/riskguard/decisionengine/internal/loader"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// Compile lowers rs's root pipeline and its transitive ruleset/rule graph into a
// vm.Program (spec.md §4.3). Rulesets and rules are always inlined; CallRuleset is
// reserved for future dynamic dispatch (see internal/vm's OpCallRuleset comment).
func Compile(rs *loader.ResolvedSet) (*vm.Program, error) {
	pipeline, ok := rs.Pipelines[rs.PipelineID]
	if !ok {
		return nil, engineerr.New(engineerr.ArtifactNotFound, "pipeline %q not present in resolved set", rs.PipelineID)
	}

	a := newAsm()

	if pipeline.When != nil {
		cond, err := expr.ParseCondition(pipeline.When)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.SchemaInvalid, err, "pipeline %q 'when'", pipeline.ID)
		}
		if err := a.lowerExpr(cond); err != nil {
			return nil, err
		}
		a.noteRefs(expr.Collect(cond))
		a.emit(vm.Instruction{Op: vm.OpCheckEventType, StepID: pipeline.ID})
		skipAll := a.newLabel("pipeline_filter_miss")
		a.emit(vm.Instruction{Op: vm.OpJumpIfFalse, Label: skipAll})
		if err := a.compileSteps(rs, pipeline.Steps); err != nil {
			return nil, err
		}
		a.mark(skipAll)
	} else {
		if err := a.compileSteps(rs, pipeline.Steps); err != nil {
			return nil, err
		}
	}

	a.emit(vm.Instruction{Op: vm.OpReturn})
	if err := a.resolve(); err != nil {
		return nil, err
	}

	return &vm.Program{
		Instructions: a.instructions,
		Constants:    a.constants.values,
		Labels:       a.labels,
		Metadata: vm.ProgramMetadata{
			PipelineID:       pipeline.ID,
			Version:          "0.1",
			RuleIDs:          a.ruleIDs,
			RequiredFeatures: a.refs.Features,
			RequiredApis:     a.refs.Apis,
			RequiredServices: a.refs.Services,
			RequiredLLMs:     a.refs.LLMs,
			RequiredLists:    a.refs.Lists,
		},
	}, nil
}

func (a *asm) compileSteps(rs *loader.ResolvedSet, steps []artifact.Step) error {
	for i := range steps {
		if err := a.compileStep(rs, steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *asm) compileStep(rs *loader.ResolvedSet, s artifact.Step) error {
	a.emit(vm.Instruction{Op: vm.OpMarkStepExecuted, StepID: s.ID})

	switch s.Kind {
	case "rule":
		rule, err := a.lookupRule(rs, s)
		if err != nil {
			return err
		}
		return a.compileRuleInline(rule)

	case "ruleset":
		rsArt, ok := rs.Rulesets[s.Ref]
		if !ok {
			return engineerr.New(engineerr.ArtifactNotFound, "ruleset %q referenced by step %q not resolved", s.Ref, s.ID)
		}
		return a.compileRuleset(rs, rsArt)

	case "feature":
		return a.compileCallStep(s, vm.OpCallFeature)
	case "api":
		return a.compileCallStep(s, vm.OpCallApi)
	case "service":
		return a.compileCallStep(s, vm.OpCallService)
	case "llm":
		return a.compileCallStep(s, vm.OpCallLLM)
	case "list":
		return a.compileCallStep(s, vm.OpCallList)

	case "router":
		return a.compileRouter(rs, s)

	case "pipeline":
		nested, ok := rs.Pipelines[s.Ref]
		if !ok {
			return engineerr.New(engineerr.ArtifactNotFound, "nested pipeline %q referenced by step %q not resolved", s.Ref, s.ID)
		}
		return a.compileSteps(rs, nested.Steps)

	default:
		if len(s.Parallel) > 0 {
			return a.compileParallelGroup(s)
		}
		return engineerr.New(engineerr.SchemaInvalid, "step %q has unrecognized kind %q", s.ID, s.Kind)
	}
}

func (a *asm) lookupRule(rs *loader.ResolvedSet, s artifact.Step) (*artifact.Rule, error) {
	rule, ok := rs.Rules[s.Ref]
	if !ok {
		return nil, engineerr.New(engineerr.ArtifactNotFound, "rule %q referenced by step %q not resolved", s.Ref, s.ID)
	}
	return rule, nil
}

// compileRuleInline emits a rule's when-block ending in MarkRuleTriggered+AddScore on
// the true branch only (spec.md §3 "Rule").
func (a *asm) compileRuleInline(rule *artifact.Rule) error {
	cond, err := expr.ParseCondition(rule.When)
	if err != nil {
		return engineerr.Wrap(engineerr.SchemaInvalid, err, "rule %q 'when'", rule.ID)
	}
	if err := a.lowerExpr(cond); err != nil {
		return err
	}
	a.noteRefs(expr.Collect(cond))
	skip := a.newLabel("rule_" + rule.ID + "_skip")
	a.emit(vm.Instruction{Op: vm.OpJumpIfFalse, Label: skip})
	a.emit(vm.Instruction{Op: vm.OpMarkRuleTriggered, RuleID: rule.ID})
	a.emit(vm.Instruction{Op: vm.OpAddScore, N: rule.Score})
	a.mark(skip)
	a.noteRule(rule.ID)
	return nil
}

// compileRuleset runs every member rule in declaration order, then scans conclusion
// clauses in order: the first whose condition holds wins; a default clause (if any)
// fires only if control reaches it, i.e. no earlier clause matched (spec.md §4.5
// "Ruleset semantics").
func (a *asm) compileRuleset(rs *loader.ResolvedSet, rsArt *artifact.Ruleset) error {
	for _, ruleID := range rsArt.Rules {
		rule, ok := rs.Rules[ruleID]
		if !ok {
			return engineerr.New(engineerr.ArtifactNotFound, "rule %q (member of ruleset %q) not resolved", ruleID, rsArt.ID)
		}
		if err := a.compileRuleInline(rule); err != nil {
			return err
		}
	}

	end := a.newLabel("ruleset_" + rsArt.ID + "_end")
	for i, clause := range rsArt.Conclusion {
		if clause.Default {
			a.emitClauseBody(clause)
			a.emit(vm.Instruction{Op: vm.OpJump, Label: end})
			continue
		}
		cond, err := expr.ParseCondition(clause.When)
		if err != nil {
			return engineerr.Wrap(engineerr.SchemaInvalid, err, "ruleset %q conclusion clause %d 'when'", rsArt.ID, i)
		}
		if err := a.lowerExpr(cond); err != nil {
			return err
		}
		a.noteRefs(expr.Collect(cond))
		next := a.newLabel(fmt.Sprintf("%s_clause_%d_next", rsArt.ID, i))
		a.emit(vm.Instruction{Op: vm.OpJumpIfFalse, Label: next})
		a.emitClauseBody(clause)
		a.emit(vm.Instruction{Op: vm.OpJump, Label: end})
		a.mark(next)
	}
	a.mark(end)
	return nil
}

func (a *asm) emitClauseBody(c artifact.Clause) {
	a.emit(vm.Instruction{Op: vm.OpSetSignal, Signal: c.Signal, Reason: c.Reason, Override: c.Override})
	for _, act := range c.Actions {
		idx := a.constants.add(value.FromGo(act))
		a.emit(vm.Instruction{Op: vm.OpAddAction, ActionConst: idx})
	}
}

func (a *asm) compileRouter(rs *loader.ResolvedSet, s artifact.Step) error {
	end := a.newLabel("router_" + s.ID + "_end")
	for bi, branch := range s.Branches {
		cond, err := expr.ParseCondition(branch.When)
		if err != nil {
			return engineerr.Wrap(engineerr.SchemaInvalid, err, "router %q branch %d 'when'", s.ID, bi)
		}
		if err := a.lowerExpr(cond); err != nil {
			return err
		}
		a.noteRefs(expr.Collect(cond))
		label := fmt.Sprintf("%s_branch_%d", s.ID, bi)
		next := a.newLabel(label + "_next")
		a.emit(vm.Instruction{Op: vm.OpJumpIfFalse, Label: next})
		a.emit(vm.Instruction{Op: vm.OpMarkBranchExecuted, BranchLabel: label})
		if err := a.compileSteps(rs, branch.ThenSteps); err != nil {
			return err
		}
		a.emit(vm.Instruction{Op: vm.OpJump, Label: end})
		a.mark(next)
	}
	if len(s.ElseSteps) > 0 {
		a.emit(vm.Instruction{Op: vm.OpMarkBranchExecuted, BranchLabel: s.ID + "_else"})
		if err := a.compileSteps(rs, s.ElseSteps); err != nil {
			return err
		}
	}
	a.mark(end)
	return nil
}

// parseValueExpr parses a step field that holds an arbitrary value expression (as
// opposed to a boolean condition): a string is parsed as an expression, any other YAML
// scalar/collection is treated as a literal.
func parseValueExpr(raw any) (*expr.Node, error) {
	if raw == nil {
		return &expr.Node{Kind: expr.KindLiteral, Value: value.Null()}, nil
	}
	if s, ok := raw.(string); ok {
		return expr.Parse(s)
	}
	return &expr.Node{Kind: expr.KindLiteral, Value: value.FromGo(raw)}, nil
}

func destKeyOr(destKey, fallback string) string {
	if destKey != "" {
		return destKey
	}
	return fallback
}

// compileCallStep emits a single Call* instruction per spec.md §4.3: "API/service/LLM/
// feature/list steps emit a single Call* instruction naming the target id and the
// context key under which to store the response."
func (a *asm) compileCallStep(s artifact.Step, op vm.Op) error {
	ins := vm.Instruction{Op: op, CallID: s.Ref, DestKey: destKeyOr(s.DestKey, s.Ref), Policy: s.Policy}

	switch op {
	case vm.OpCallApi:
		ins.Endpoint = s.Endpoint
		ins.Method = s.Method
	case vm.OpCallService:
		ins.Method = s.Method
	case vm.OpCallList:
		keyExpr, err := parseValueExpr(s.KeyExpr)
		if err != nil {
			return engineerr.Wrap(engineerr.SchemaInvalid, err, "list step %q key_expr", s.ID)
		}
		ins.KeyExpr = keyExpr
		a.noteRefs(expr.Collect(keyExpr))
	case vm.OpCallLLM:
		promptExpr, err := parseValueExpr(s.PromptExpr)
		if err != nil {
			return engineerr.Wrap(engineerr.SchemaInvalid, err, "llm step %q prompt_expr", s.ID)
		}
		ins.PromptExpr = promptExpr
		a.noteRefs(expr.Collect(promptExpr))
	}

	a.emit(ins)
	switch op {
	case vm.OpCallFeature:
		a.noteRefs(expr.References{Features: []string{s.Ref}})
	case vm.OpCallApi:
		a.noteRefs(expr.References{Apis: []string{s.Ref}})
	case vm.OpCallService:
		a.noteRefs(expr.References{Services: []string{s.Ref}})
	case vm.OpCallLLM:
		a.noteRefs(expr.References{LLMs: []string{s.Ref}})
	case vm.OpCallList:
		a.noteRefs(expr.References{Lists: []string{s.Ref}})
	}
	return nil
}

// compileParallelGroup emits a CallGroupBegin/CallGroupEnd fence around the group's
// call instructions (spec.md §4.5 "Parallel calls"). Every nested step must itself be a
// call-kind step; the executor runs them concurrently and applies dest_key writes in
// declaration order regardless of completion order.
func (a *asm) compileParallelGroup(s artifact.Step) error {
	a.emit(vm.Instruction{Op: vm.OpCallGroupBegin, GroupSize: len(s.Parallel), GroupName: s.ID})
	for _, member := range s.Parallel {
		var op vm.Op
		switch member.Kind {
		case "feature":
			op = vm.OpCallFeature
		case "api":
			op = vm.OpCallApi
		case "service":
			op = vm.OpCallService
		case "llm":
			op = vm.OpCallLLM
		case "list":
			op = vm.OpCallList
		default:
			return engineerr.New(engineerr.SchemaInvalid, "parallel step %q member %q has non-call kind %q", s.ID, member.ID, member.Kind)
		}
		if err := a.compileCallStep(member, op); err != nil {
			return err
		}
	}
	a.emit(vm.Instruction{Op: vm.OpCallGroupEnd})
	return nil
}
