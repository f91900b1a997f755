package vm

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/engineerr"
	"github.com/riskguard/decisionengine/internal/expr"
	"github.com/riskguard/decisionengine/internal/value"
)

// checkEvery is the instruction count between deadline checks away from Call*
// boundaries, per spec.md §5: "Before every external call and on every 1024
// instructions, the VM checks for cancellation."
const checkEvery = 1024

// Machine executes a compiled Program against an ExecutionContext. It is stateless
// between runs and safe to reuse concurrently across requests sharing the same
// Program, provided each Run call is given its own ExecutionContext (spec.md §5
// "Each request owns its ExecutionContext").
type Machine struct {
	Program    *Program
	Registry   Registry
	MaxWorkers int // parallel call-group concurrency; grounded on rules.Engine.maxWorkers
}

// NewMachine builds a Machine for p. maxWorkers <= 0 defaults to 8.
func NewMachine(p *Program, reg Registry, maxWorkers int) *Machine {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Machine{Program: p, Registry: reg, MaxWorkers: maxWorkers}
}

// Run drives the main loop of spec.md §4.5: fetch, dispatch, advance pc by one unless
// the instruction rewrites it. Termination is Return, pc past end, or a fatal error.
func (m *Machine) Run(ctx context.Context, ec *ExecutionContext) error {
	stack := make([]value.Value, 0, 8)
	acc := value.Null()
	pc := 0
	instrs := m.Program.Instructions
	count := 0

	for pc < len(instrs) {
		count++
		if count%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return m.onDeadline(ec, err)
			}
		}
		ins := instrs[pc]
		next := pc + 1

		switch ins.Op {
		case OpLoadConst:
			acc = m.Program.Constants[ins.Const]

		case OpLoadField:
			v, err := m.resolveField(ctx, ec, ins.Field)
			if err != nil {
				return engineerr.Wrap(engineerr.ExternalCallError, err, "resolving field %v", ins.Field)
			}
			acc = v

		case OpStore:
			m.storeField(ec, ins.Field, acc)

		case OpPush:
			stack = append(stack, acc)

		case OpBinaryOp:
			left := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			result, err := expr.Arith(ins.Str, left, acc)
			if err != nil {
				ec.Errors = append(ec.Errors, err)
				acc = value.Null() // TypeError: Null in value context, per spec.md §7
			} else {
				acc = result
			}

		case OpCompare:
			left := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			acc = compare(ins.Str, left, acc, ec)

		case OpUnaryOp:
			acc = unary(ins.Str, acc)

		case OpMatchRegex:
			acc = matchRegex(ins.Pattern, acc, ec)

		case OpJump:
			next = ins.Target

		case OpJumpIfTrue:
			if acc.Truthy() {
				next = ins.Target
			}

		case OpJumpIfFalse:
			if !acc.Truthy() {
				next = ins.Target
			}

		case OpReturn:
			return nil

		case OpAddScore:
			ec.Score += ins.N

		case OpSetScore:
			ec.Score = ins.N

		case OpSetSignal:
			applied := ec.SetSignal(ins.Signal, ins.Reason, ins.Override)
			if node := ec.Trace.Root("signal", ins.Signal); node != nil {
				node.SetAttr("reason", ins.Reason).SetAttr("applied", applied)
			}

		case OpAddAction:
			ec.AddAction(m.Program.Constants[ins.ActionConst])

		case OpMarkRuleTriggered:
			ec.MarkRuleTriggered(ins.RuleID)

		case OpCallRuleset:
			// Rulesets are inlined by the compiler; dynamic dispatch is not wired up,
			// matching spec.md §4.4: "the opcode exists for dynamic dispatch."
			return engineerr.New(engineerr.InternalError, "CallRuleset is not implemented by this compiler (rulesets are always inlined)")

		case OpCallFeature, OpCallList, OpCallApi, OpCallService, OpCallLLM:
			if err := ctx.Err(); err != nil {
				return m.onDeadline(ec, err)
			}
			val, callErr := m.invokeCall(ctx, ec, ins)
			if err := m.applyCallResult(ec, ins, val, callErr); err != nil {
				return err
			}

		case OpMarkBranchExecuted:
			ec.Trace.Root("branch", ins.BranchLabel)

		case OpMarkStepExecuted:
			ec.Trace.Root("step", ins.StepID)

		case OpCheckEventType:
			ec.Trace.Root("event_filter", ins.StepID).SetResult(acc.Truthy())

		case OpCallGroupBegin:
			endIdx, err := m.runCallGroup(ctx, ec, instrs, pc)
			if err != nil {
				return err
			}
			next = endIdx + 1

		case OpCallGroupEnd:
			// Reached only if a group was entered by straight-line fallthrough, which the
			// compiler never emits; treated as a no-op for robustness.

		default:
			return engineerr.New(engineerr.InternalError, "unknown opcode %v", ins.Op)
		}

		pc = next
	}
	return nil
}

func (m *Machine) onDeadline(ec *ExecutionContext, cause error) error {
	ec.Trace.Root("deadline_exceeded", "").SetErr(cause)
	return engineerr.Wrap(engineerr.DeadlineExceeded, cause, "request deadline exceeded")
}

// runCallGroup executes the GroupSize call instructions following a CallGroupBegin
// concurrently, applying their results in declaration order once all have settled
// (spec.md §4.5 "Parallel calls"). Grounded on internal/rules/engine.go's EvaluateAll
// worker-pool/semaphore pattern. Returns the index of the matching CallGroupEnd.
func (m *Machine) runCallGroup(ctx context.Context, ec *ExecutionContext, instrs []Instruction, beginPC int) (int, error) {
	begin := instrs[beginPC]
	first := beginPC + 1
	last := first + begin.GroupSize // exclusive
	if last > len(instrs) || instrs[last].Op != OpCallGroupEnd {
		return 0, engineerr.New(engineerr.InternalError, "malformed call group at instruction %d", beginPC)
	}

	type outcome struct {
		val value.Value
		err error
	}
	results := make([]outcome, begin.GroupSize)
	sem := make(chan struct{}, m.MaxWorkers)
	var wg sync.WaitGroup

	groupNode := ec.Trace.Root("call_group", begin.GroupName)

	for i := 0; i < begin.GroupSize; i++ {
		wg.Add(1)
		go func(idx int, ins Instruction) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			val, err := m.invokeCall(ctx, ec, ins)
			results[idx] = outcome{val: val, err: err}
		}(i, instrs[first+i])
	}
	wg.Wait()

	for i := 0; i < begin.GroupSize; i++ {
		ins := instrs[first+i]
		if err := m.applyCallResult(ec, ins, results[i].val, results[i].err); err != nil {
			groupNode.SetErr(err)
			return 0, err
		}
	}
	return last, nil
}

func unary(op string, v value.Value) value.Value {
	switch op {
	case "not":
		return value.Bool(!v.Truthy())
	case "neg":
		if i, ok := v.AsInt(); ok {
			return value.Int(-i)
		}
		if f, ok := v.AsFloat(); ok {
			return value.Float(-f)
		}
		return value.Null()
	case "is_null":
		// Backs compiled `missing` (spec.md §4.2): a field that resolved to Null is
		// treated as absent, matching resolver.Field's found=!v.IsNull() used by the
		// direct tree-walk path for the same operators.
		return value.Bool(v.IsNull())
	case "is_not_null":
		return value.Bool(!v.IsNull())
	default:
		return value.Null()
	}
}

func compare(op string, left, right value.Value, ec *ExecutionContext) value.Value {
	switch op {
	case "==":
		return value.Bool(left.Equal(right))
	case "!=":
		return value.Bool(!left.Equal(right))
	case "in":
		seq, ok := right.AsSequence()
		if !ok {
			return value.Bool(false)
		}
		for _, e := range seq {
			if left.Equal(e) {
				return value.Bool(true)
			}
		}
		return value.Bool(false)
	}
	cmp, err := left.Compare(right)
	if err != nil {
		ec.Errors = append(ec.Errors, err) // TypeError: false in boolean context, per spec.md §7
		return value.Bool(false)
	}
	switch op {
	case "<":
		return value.Bool(cmp < 0)
	case "<=":
		return value.Bool(cmp <= 0)
	case ">":
		return value.Bool(cmp > 0)
	case ">=":
		return value.Bool(cmp >= 0)
	default:
		return value.Bool(false)
	}
}

func matchRegex(pattern string, v value.Value, ec *ExecutionContext) value.Value {
	s, ok := v.AsString()
	if !ok {
		return value.Bool(false)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		ec.Errors = append(ec.Errors, err)
		return value.Bool(false)
	}
	return value.Bool(re.MatchString(s))
}

// resolver adapts a Machine+ExecutionContext pair to expr.Resolver, letting Call*
// argument expressions (list key_expr, LLM prompt_expr) and other direct tree-walked
// conditions reuse expr.Eval instead of being lowered into bytecode (spec.md §2).
type resolver struct {
	m   *Machine
	ctx context.Context
	ec  *ExecutionContext
}

func (r resolver) Field(path *expr.FieldPath) (value.Value, bool, error) {
	v, err := r.m.resolveField(r.ctx, r.ec, path)
	if err != nil {
		return value.Null(), false, err
	}
	return v, !v.IsNull(), nil
}

func lookupPath(v value.Value, path []string) value.Value {
	cur := v
	for _, seg := range path {
		next, ok := cur.Get(seg)
		if !ok {
			return value.Null()
		}
		cur = next
	}
	return cur
}

func (m *Machine) resolveField(ctx context.Context, ec *ExecutionContext, path *expr.FieldPath) (value.Value, error) {
	if path == nil {
		return value.Null(), nil
	}
	switch path.Namespace {
	case "event":
		return lookupPath(ec.Event, path.Path), nil

	case "vars":
		return lookupPath(ec.Vars, path.Path), nil

	case "features":
		if len(path.Path) == 0 {
			return ec.Features, nil
		}
		id := path.Path[0]
		v, found := ec.Features.Get(id)
		if !found {
			resolved, err := m.resolveFeatureLazy(ctx, ec, id)
			if err != nil {
				return value.Null(), err
			}
			ec.Features = ec.Features.With(id, resolved)
			v = resolved
		}
		return lookupPath(v, path.Path[1:]), nil

	case "api":
		v, _ := ec.Api.Get(path.CallID)
		return lookupPath(v, path.Path), nil

	case "service":
		v, _ := ec.Service.Get(path.CallID)
		return lookupPath(v, path.Path), nil

	case "llm":
		v, _ := ec.LLM.Get(path.CallID)
		return lookupPath(v, path.Path), nil

	case "ctx":
		return m.resolveCtxField(ec, path.Path), nil

	default:
		return value.Null(), fmt.Errorf("vm: unknown field namespace %q", path.Namespace)
	}
}

func (m *Machine) resolveCtxField(ec *ExecutionContext, path []string) value.Value {
	if len(path) == 0 {
		return value.Null()
	}
	switch path[0] {
	case "score":
		return value.Int(ec.Score)
	case "signal":
		if !ec.Signal().IsSet() {
			return value.Null()
		}
		return value.String(ec.Signal().Type)
	case "triggered_rules":
		ids := ec.TriggeredRules()
		vs := make([]value.Value, len(ids))
		for i, id := range ids {
			vs[i] = value.String(id)
		}
		return value.Sequence(vs...)
	default:
		return value.Null()
	}
}

func (m *Machine) storeField(ec *ExecutionContext, path *expr.FieldPath, v value.Value) {
	if path == nil || path.Namespace != "vars" || len(path.Path) == 0 {
		return
	}
	if len(path.Path) == 1 {
		ec.Vars = ec.Vars.With(path.Path[0], v)
		return
	}
	if len(path.Path) == 2 {
		parent, _ := ec.Vars.Get(path.Path[0])
		ec.Vars = ec.Vars.With(path.Path[0], parent.With(path.Path[1], v))
		return
	}
	// Nested Store targets merge one level deep; deeper nesting is rare in the
	// corpus's `vars` usage and is flattened to the top-level key.
	ec.Vars = ec.Vars.With(path.Path[0], v)
}

func (m *Machine) resolveFeatureLazy(ctx context.Context, ec *ExecutionContext, id string) (value.Value, error) {
	adapter, feat, ok := m.Registry.Feature(id)
	if !ok {
		return value.Null(), nil
	}
	// Derived features may reference sibling features by name; pass whatever has
	// already been resolved into Features so far. Declaration order in the pipeline
	// determines what's visible, same as any other lazily-resolved field.
	siblings, _, _ := ec.Features.AsMapping()
	req := AdapterRequest{CallID: id, Args: siblings, Event: ec.Event, Vars: ec.Vars}
	val, err := adapter.Invoke(ctx, req)
	if err != nil {
		ec.Trace.Root("feature_resolution_failed", id).SetErr(err)
		if feat != nil && feat.Strict {
			return value.Null(), err
		}
		ec.Errors = append(ec.Errors, err)
		return value.Null(), nil
	}
	return val, nil
}

func (m *Machine) invokeCall(ctx context.Context, ec *ExecutionContext, ins Instruction) (value.Value, error) {
	switch ins.Op {
	case OpCallFeature:
		adapter, _, ok := m.Registry.Feature(ins.CallID)
		if !ok {
			return value.Null(), fmt.Errorf("vm: feature %q not registered", ins.CallID)
		}
		return m.invokeWithPolicy(ctx, adapter, AdapterRequest{CallID: ins.CallID, Event: ec.Event, Vars: ec.Vars}, ins.Policy)

	case OpCallList:
		keyVal, err := expr.Eval(ins.KeyExpr, resolver{m: m, ctx: ctx, ec: ec})
		if err != nil {
			return value.Null(), err
		}
		adapter, ok := m.Registry.List(ins.CallID)
		if !ok {
			return value.Null(), fmt.Errorf("vm: list %q not registered", ins.CallID)
		}
		args := map[string]value.Value{"key": keyVal}
		return m.invokeWithPolicy(ctx, adapter, AdapterRequest{CallID: ins.CallID, Args: args, Event: ec.Event, Vars: ec.Vars}, ins.Policy)

	case OpCallApi:
		adapter, _, ok := m.Registry.Api(ins.CallID)
		if !ok {
			return value.Null(), fmt.Errorf("vm: api %q not registered", ins.CallID)
		}
		req := AdapterRequest{CallID: ins.CallID, Event: ec.Event, Vars: ec.Vars, Endpoint: ins.Endpoint, Method: ins.Method}
		return m.invokeWithPolicy(ctx, adapter, req, ins.Policy)

	case OpCallService:
		adapter, _, ok := m.Registry.Service(ins.CallID)
		if !ok {
			return value.Null(), fmt.Errorf("vm: service %q not registered", ins.CallID)
		}
		req := AdapterRequest{CallID: ins.CallID, Event: ec.Event, Vars: ec.Vars, Method: ins.Method}
		return m.invokeWithPolicy(ctx, adapter, req, ins.Policy)

	case OpCallLLM:
		promptVal, err := expr.Eval(ins.PromptExpr, resolver{m: m, ctx: ctx, ec: ec})
		if err != nil {
			return value.Null(), err
		}
		adapter, ok := m.Registry.LLM(ins.CallID)
		if !ok {
			return value.Null(), fmt.Errorf("vm: llm %q not registered", ins.CallID)
		}
		args := map[string]value.Value{"prompt": promptVal}
		return m.invokeWithPolicy(ctx, adapter, AdapterRequest{CallID: ins.CallID, Args: args, Event: ec.Event, Vars: ec.Vars}, ins.Policy)

	default:
		return value.Null(), fmt.Errorf("vm: instruction %s is not a call", ins.Op)
	}
}

// invokeWithPolicy applies timeout_ms and retries (spec.md §4.5 "External call
// policy"); on_error disposition is applied afterward by applyCallResult.
func (m *Machine) invokeWithPolicy(ctx context.Context, adapter Adapter, req AdapterRequest, policy *artifact.CallPolicy) (value.Value, error) {
	p := artifact.CallPolicy{}
	if policy != nil {
		p = *policy
	}
	p = p.Normalize()

	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
		val, err := adapter.Invoke(cctx, req)
		cancel()
		if err == nil {
			return val, nil
		}
		lastErr = err
	}
	return value.Null(), lastErr
}

// applyCallResult disposes of a call's outcome per its policy's on_error (spec.md
// §4.5, §7 "ExternalCallError").
func (m *Machine) applyCallResult(ec *ExecutionContext, ins Instruction, val value.Value, callErr error) error {
	if callErr == nil {
		m.storeDestKey(ec, ins, val)
		return nil
	}
	p := artifact.CallPolicy{}
	if ins.Policy != nil {
		p = *ins.Policy
	}
	p = p.Normalize()

	node := ec.Trace.Root("call_error", ins.CallID).SetErr(callErr).SetAttr("on_error", p.OnError)
	switch p.OnError {
	case artifact.OnErrorFallback:
		m.storeDestKey(ec, ins, value.FromGo(p.FallbackValue))
		ec.Errors = append(ec.Errors, callErr)
		return nil
	case artifact.OnErrorSkip:
		ec.Errors = append(ec.Errors, callErr)
		return nil
	default: // fail
		node.SetAttr("fatal", true)
		return engineerr.Wrap(engineerr.ExternalCallError, callErr, "call %q failed", ins.CallID)
	}
}

func (m *Machine) storeDestKey(ec *ExecutionContext, ins Instruction, val value.Value) {
	switch ins.Op {
	case OpCallFeature:
		ec.Features = ec.Features.With(ins.DestKey, val)
	case OpCallApi:
		ec.Api = ec.Api.With(ins.DestKey, val)
	case OpCallService:
		ec.Service = ec.Service.With(ins.DestKey, val)
	case OpCallLLM:
		ec.LLM = ec.LLM.With(ins.DestKey, val)
	case OpCallList:
		ec.Vars = ec.Vars.With(ins.DestKey, val)
	}
}
