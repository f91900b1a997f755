// Package engine composes the loader/compiler/adapters/vm/decision packages into the
// single entry point internal/api and cmd/decisionengine both call: given a
// decision.Request, resolve the named pipeline's artifact graph, compile it, build an
// adapter registry, run the VM, and assemble a decision.Response (spec.md §4, §6).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riskguard/decisionengine/internal/adapters"
	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/compiler"
	"github.com/riskguard/decisionengine/internal/decision"
	"github.com/riskguard/decisionengine/internal/domain"
	"github.com/riskguard/decisionengine/internal/loader"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
	"github.com/riskguard/decisionengine/internal/vm/trace"
)

// compiled bundles a Program with the pipeline artifact it was built from, so Evaluate
// can read Options.DefaultSignal/OnTimeoutSignal without re-resolving the pipeline.
type compiled struct {
	program  *vm.Program
	registry *adapters.Registry
	pipeline *artifact.Pipeline
}

// Engine is the request-scoped evaluator: resolve -> compile -> register adapters ->
// run -> build response. Programs are cached by pipeline id, since spec.md §8 invariant
// 6 (idempotent imports, byte-identical recompile) makes a pipeline's compiled form a
// pure function of the artifact library's current content.
type Engine struct {
	Repo             domain.Repository
	Deps             adapters.Deps
	DefaultPipeline  string
	RequestTimeout   time.Duration
	MaxParallelCalls int

	mu    sync.RWMutex
	cache map[string]*compiled
}

// New builds an Engine. repo supplies the artifact library (filesystem- or SQL-backed,
// per internal/domain.Repository); deps supplies the adapters' runtime collaborators
// (window counter, key-value store, HTTP client).
func New(repo domain.Repository, deps adapters.Deps, defaultPipeline string, requestTimeout time.Duration, maxParallelCalls int) *Engine {
	return &Engine{
		Repo:             repo,
		Deps:             deps,
		DefaultPipeline:  defaultPipeline,
		RequestTimeout:   requestTimeout,
		MaxParallelCalls: maxParallelCalls,
		cache:            map[string]*compiled{},
	}
}

// InvalidateCache drops every cached compiled Program, forcing the next Evaluate for
// each pipeline to re-resolve and re-compile. Called after a Save/Delete against the
// artifact repository changes the library's content.
func (e *Engine) InvalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = map[string]*compiled{}
}

func (e *Engine) compiledFor(pipelineID string) (*compiled, error) {
	e.mu.RLock()
	c, ok := e.cache[pipelineID]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	rs, err := loader.Resolve(e.Repo, pipelineID)
	if err != nil {
		return nil, err
	}
	prog, err := compiler.Compile(rs)
	if err != nil {
		return nil, err
	}
	pipeline := rs.Pipelines[rs.PipelineID]

	reg, err := adapters.NewRegistry(rs.Features, rs.Lists, rs.Apis, rs.Services, e.Deps)
	if err != nil {
		return nil, err
	}

	c = &compiled{program: prog, registry: reg, pipeline: pipeline}

	e.mu.Lock()
	e.cache[pipelineID] = c
	e.mu.Unlock()

	return c, nil
}

// Evaluate runs req's pipeline (req.Options.PipelineID, falling back to
// e.DefaultPipeline) end to end and returns the assembled decision.Response. A
// non-nil error means the pipeline could not be prepared: no pipeline id, a
// compile-time failure (spec.md §7's ArtifactNotFound / SchemaInvalid / CycleDetected /
// IdCollision), or an adapter registry that could not be built. Runtime failures
// (deadline, ExternalCallError under a fail policy, a strict feature's failure) are
// captured in the returned Response's signal/explanation instead, per spec.md §5's
// "partial response" posture.
func (e *Engine) Evaluate(ctx context.Context, req decision.Request) (*decision.Response, error) {
	start := time.Now()

	pipelineID := req.Options.PipelineID
	if pipelineID == "" {
		pipelineID = e.DefaultPipeline
	}
	if pipelineID == "" {
		return nil, fmt.Errorf("engine: no pipeline_id given and no default pipeline configured")
	}

	c, err := e.compiledFor(pipelineID)
	if err != nil {
		return nil, err
	}

	if e.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.RequestTimeout)
		defer cancel()
	}

	var tr *trace.Tree
	if req.Options.EnableTrace || c.pipeline.Options.EnableTrace {
		tr = trace.New(pipelineID)
	} else {
		tr = trace.Disabled()
	}

	ec := vm.NewExecutionContext(
		value.FromGo(req.EventData),
		value.FromGo(req.Features),
		value.FromGo(req.Api),
		value.FromGo(req.Service),
		value.FromGo(req.LLM),
		value.FromGo(req.Vars),
		req.Metadata,
		tr,
	)

	machine := vm.NewMachine(c.program, c.registry, e.MaxParallelCalls)
	runErr := machine.Run(ctx, ec)

	requestID := uuid.New().String()
	resp := decision.Build(requestID, pipelineID, ec, runErr, c.pipeline.Options.DefaultSignal, c.pipeline.Options.OnTimeoutSignal, start)
	return resp, nil
}
