// Package artifact implements the in-memory representation of the eight closed-variant
// artifact kinds (spec.md §3, §9 "Polymorphic artifacts"): Rule, Ruleset, Pipeline,
// Feature, List, ApiDef, ServiceDef, Template.
package artifact

import "github.com/riskguard/decisionengine/internal/engineerr"

// Kind is the closed set of artifact kinds. Dispatch on Kind happens only at load and
// compile time, never inside the VM (spec.md §9).
type Kind string

const (
	KindRule     Kind = "rule"
	KindRuleset  Kind = "ruleset"
	KindPipeline Kind = "pipeline"
	KindFeature  Kind = "feature"
	KindList     Kind = "list"
	KindAPI      Kind = "api"
	KindService  Kind = "service"
	KindTemplate Kind = "template"
)

// Artifact is implemented by every concrete artifact struct.
type Artifact interface {
	ArtifactKind() Kind
	ArtifactID() string
}

// CallPolicy is the policy record compiled into every external-call instruction
// (spec.md §4.4, §4.5 "External call policy").
type CallPolicy struct {
	TimeoutMs     int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Retries       int    `yaml:"retries,omitempty" json:"retries,omitempty"`
	OnError       string `yaml:"on_error,omitempty" json:"on_error,omitempty"` // fail|fallback|skip
	FallbackValue any    `yaml:"fallback_value,omitempty" json:"fallback_value,omitempty"`
}

const (
	OnErrorFail     = "fail"
	OnErrorFallback = "fallback"
	OnErrorSkip     = "skip"
)

// Normalize applies the engine's defaults: on_error defaults to "fail", timeout_ms to
// 2000ms, retries to 0.
func (p CallPolicy) Normalize() CallPolicy {
	if p.OnError == "" {
		p.OnError = OnErrorFail
	}
	if p.TimeoutMs == 0 {
		p.TimeoutMs = 2000
	}
	return p
}

// Rule is spec.md §3's `{id, score:Int, when: ExprTree, action: optional, metadata}`.
type Rule struct {
	ID       string         `yaml:"id" json:"id"`
	Score    int64          `yaml:"score" json:"score"`
	When     any            `yaml:"when" json:"when"`
	Action   string         `yaml:"action,omitempty" json:"action,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Imports  []string       `yaml:"imports,omitempty" json:"imports,omitempty"`
}

func (r *Rule) ArtifactKind() Kind  { return KindRule }
func (r *Rule) ArtifactID() string { return r.ID }

// Clause is a Ruleset conclusion clause (spec.md §3, §4.5).
type Clause struct {
	When     any    `yaml:"when,omitempty" json:"when,omitempty"`
	Default  bool   `yaml:"default,omitempty" json:"default,omitempty"`
	Signal   string `yaml:"signal" json:"signal"`
	Reason   string `yaml:"reason,omitempty" json:"reason,omitempty"`
	Actions  []any  `yaml:"actions,omitempty" json:"actions,omitempty"`
	Override bool   `yaml:"override,omitempty" json:"override,omitempty"` // decided Open Question: signal upgrade, see SPEC_FULL.md section D.1
}

// TemplateRef declares a templated member: the loader expands Template with Params
// into a synthesized artifact before the ruleset/step that references it is compiled
// (spec.md §4.1 "Template expansion").
type TemplateRef struct {
	Template string         `yaml:"template" json:"template"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Ruleset is spec.md §3's `{id, rules:[rule_id], conclusion:[Clause]}`.
type Ruleset struct {
	ID            string        `yaml:"id" json:"id"`
	Rules         []string      `yaml:"rules" json:"rules"`
	RuleTemplates []TemplateRef `yaml:"rule_templates,omitempty" json:"rule_templates,omitempty"`
	Conclusion    []Clause      `yaml:"conclusion" json:"conclusion"`
	Extends       string        `yaml:"extends,omitempty" json:"extends,omitempty"`
	Imports       []string      `yaml:"imports,omitempty" json:"imports,omitempty"`
}

func (r *Ruleset) ArtifactKind() Kind  { return KindRuleset }
func (r *Ruleset) ArtifactID() string { return r.ID }

// RouterBranch is one branch of a `router` step (spec.md §3, §4.5).
type RouterBranch struct {
	When      any    `yaml:"when" json:"when"`
	ThenSteps []Step `yaml:"then_steps" json:"then_steps"`
}

// Step is one element of a Pipeline's `steps` list. Kind selects which fields apply;
// unused fields are left zero. See spec.md §3 for the step kind list.
type Step struct {
	ID         string         `yaml:"id,omitempty" json:"id,omitempty"`
	Kind       string         `yaml:"kind" json:"kind"` // rule|ruleset|api|service|llm|feature|list|router|pipeline
	Ref        string         `yaml:"ref,omitempty" json:"ref,omitempty"`
	Template   string         `yaml:"template,omitempty" json:"template,omitempty"`
	Params     map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	Endpoint   string         `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method     string         `yaml:"method,omitempty" json:"method,omitempty"`
	DestKey    string         `yaml:"dest_key,omitempty" json:"dest_key,omitempty"`
	KeyExpr    any            `yaml:"key_expr,omitempty" json:"key_expr,omitempty"`
	PromptExpr any            `yaml:"prompt_expr,omitempty" json:"prompt_expr,omitempty"`
	Policy     *CallPolicy    `yaml:"policy,omitempty" json:"policy,omitempty"`
	Parallel   []Step         `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Branches   []RouterBranch `yaml:"branches,omitempty" json:"branches,omitempty"`
	ElseSteps  []Step         `yaml:"else_steps,omitempty" json:"else_steps,omitempty"`
}

// PipelineOptions holds the per-pipeline behavior knobs named in spec.md §4.5/§5.
type PipelineOptions struct {
	ContinueAfterSignal *bool  `yaml:"continue_after_signal,omitempty" json:"continue_after_signal,omitempty"`
	DefaultSignal        string `yaml:"default_signal,omitempty" json:"default_signal,omitempty"`
	OnTimeoutSignal       string `yaml:"on_timeout_signal,omitempty" json:"on_timeout_signal,omitempty"`
	EnableTrace           bool   `yaml:"enable_trace,omitempty" json:"enable_trace,omitempty"`
}

// ContinueAfterSignalOrDefault resolves the Open Question decision in SPEC_FULL.md
// section D.2: default true.
func (o PipelineOptions) ContinueAfterSignalOrDefault() bool {
	if o.ContinueAfterSignal == nil {
		return true
	}
	return *o.ContinueAfterSignal
}

// Pipeline is spec.md §3's `{id, when: ExprTree, steps:[Step]}`.
type Pipeline struct {
	ID      string          `yaml:"id" json:"id"`
	When    any             `yaml:"when,omitempty" json:"when,omitempty"`
	Steps   []Step          `yaml:"steps" json:"steps"`
	Options PipelineOptions `yaml:"options,omitempty" json:"options,omitempty"`
	Imports []string        `yaml:"imports,omitempty" json:"imports,omitempty"`
}

func (p *Pipeline) ArtifactKind() Kind  { return KindPipeline }
func (p *Pipeline) ArtifactID() string { return p.ID }

// Feature is spec.md §3's `{id, kind: aggregation|lookup|derived, source_ref, window?,
// method?, expr?}`.
type Feature struct {
	ID        string `yaml:"id" json:"id"`
	Kind      string `yaml:"kind" json:"kind"`
	SourceRef string `yaml:"source_ref,omitempty" json:"source_ref,omitempty"`
	Window    string `yaml:"window,omitempty" json:"window,omitempty"`
	Method    string `yaml:"method,omitempty" json:"method,omitempty"`
	Expr      string `yaml:"expr,omitempty" json:"expr,omitempty"`
	Strict    bool   `yaml:"strict,omitempty" json:"strict,omitempty"`
}

func (f *Feature) ArtifactKind() Kind  { return KindFeature }
func (f *Feature) ArtifactID() string { return f.ID }

const (
	FeatureKindAggregation = "aggregation"
	FeatureKindLookup      = "lookup"
	FeatureKindDerived     = "derived"
)

// List is a named external membership source consumed via the `in` operator or a
// `list` step.
type List struct {
	ID        string `yaml:"id" json:"id"`
	SourceRef string `yaml:"source_ref,omitempty" json:"source_ref,omitempty"`
	Items     []any  `yaml:"items,omitempty" json:"items,omitempty"`
}

func (l *List) ArtifactKind() Kind  { return KindList }
func (l *List) ArtifactID() string { return l.ID }

// ApiDef describes an external HTTP API call target.
type ApiDef struct {
	ID      string         `yaml:"id" json:"id"`
	BaseURL string         `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Auth    map[string]any `yaml:"auth,omitempty" json:"auth,omitempty"`
	Policy  CallPolicy     `yaml:"policy,omitempty" json:"policy,omitempty"`
}

func (a *ApiDef) ArtifactKind() Kind  { return KindAPI }
func (a *ApiDef) ArtifactID() string { return a.ID }

// ServiceDef describes an external microservice (e.g. gRPC) call target.
type ServiceDef struct {
	ID     string     `yaml:"id" json:"id"`
	Target string     `yaml:"target,omitempty" json:"target,omitempty"`
	Policy CallPolicy `yaml:"policy,omitempty" json:"policy,omitempty"`
}

func (s *ServiceDef) ArtifactKind() Kind  { return KindService }
func (s *ServiceDef) ArtifactID() string { return s.ID }

// Template holds a parameterized body that expands into another artifact kind
// (spec.md §4.1, "Template expansion").
type Template struct {
	ID     string   `yaml:"id" json:"id"`
	Kind   string   `yaml:"kind" json:"kind"` // the artifact kind the expanded body takes
	Params []string `yaml:"params,omitempty" json:"params,omitempty"`
	Body   any      `yaml:"body" json:"body"`
}

func (t *Template) ArtifactKind() Kind  { return KindTemplate }
func (t *Template) ArtifactID() string { return t.ID }

// Document is the on-disk shape of every artifact file (spec.md §6): a `version` key
// plus exactly one top-level key naming the artifact's kind.
type Document struct {
	Version  string    `yaml:"version" json:"version"`
	Imports  []string  `yaml:"imports,omitempty" json:"imports,omitempty"`
	Rule     *Rule     `yaml:"rule,omitempty" json:"rule,omitempty"`
	Ruleset  *Ruleset  `yaml:"ruleset,omitempty" json:"ruleset,omitempty"`
	Pipeline *Pipeline `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Feature  *Feature  `yaml:"feature,omitempty" json:"feature,omitempty"`
	List     *List     `yaml:"list,omitempty" json:"list,omitempty"`
	Api      *ApiDef   `yaml:"api,omitempty" json:"api,omitempty"`
	Service  *ServiceDef `yaml:"service,omitempty" json:"service,omitempty"`
	Template *Template `yaml:"template,omitempty" json:"template,omitempty"`
}

// Unwrap returns the single artifact this document declares.
func (d *Document) Unwrap() (Artifact, error) {
	var found []Artifact
	if d.Rule != nil {
		found = append(found, d.Rule)
	}
	if d.Ruleset != nil {
		found = append(found, d.Ruleset)
	}
	if d.Pipeline != nil {
		found = append(found, d.Pipeline)
	}
	if d.Feature != nil {
		found = append(found, d.Feature)
	}
	if d.List != nil {
		found = append(found, d.List)
	}
	if d.Api != nil {
		found = append(found, d.Api)
	}
	if d.Service != nil {
		found = append(found, d.Service)
	}
	if d.Template != nil {
		found = append(found, d.Template)
	}
	if len(found) == 0 {
		return nil, engineerr.New(engineerr.SchemaInvalid, "document declares no artifact kind")
	}
	if len(found) > 1 {
		return nil, engineerr.New(engineerr.SchemaInvalid, "document declares more than one artifact kind")
	}
	if d.Version == "" {
		return nil, engineerr.New(engineerr.SchemaInvalid, "document missing required 'version' key")
	}
	if found[0].ArtifactID() == "" {
		return nil, engineerr.New(engineerr.SchemaInvalid, "%s artifact missing required 'id' field", found[0].ArtifactKind())
	}
	return found[0], nil
}
