package adapters

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// derivedAdapter resolves a Feature{kind: derived} by evaluating its `expr` (a CEL
// expression over the event, vars, and already-resolved sibling features) once per
// feature id, compiled eagerly at registry-build time the way
// internal/rules/engine.go's compileRule compiles a CEL program once per rule id.
type derivedAdapter struct {
	def     *artifact.Feature
	program cel.Program
}

func newDerivedAdapter(def *artifact.Feature) (*derivedAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("derived feature %q: cel env: %w", def.ID, err)
	}

	ast, issues := env.Compile(def.Expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("derived feature %q: compile %q: %w", def.ID, def.Expr, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("derived feature %q: program: %w", def.ID, err)
	}

	return &derivedAdapter{def: def, program: program}, nil
}

func (a *derivedAdapter) Invoke(ctx context.Context, req vm.AdapterRequest) (value.Value, error) {
	activation := map[string]any{
		"event":    req.Event.ToGo(),
		"vars":     req.Vars.ToGo(),
		"features": argsToGo(req.Args),
	}

	out, _, err := a.program.Eval(activation)
	if err != nil {
		return value.Null(), fmt.Errorf("derived feature %q: %w", a.def.ID, err)
	}
	return value.FromGo(out.Value()), nil
}

func argsToGo(args map[string]value.Value) map[string]any {
	m := make(map[string]any, len(args))
	for k, v := range args {
		m[k] = v.ToGo()
	}
	return m
}
