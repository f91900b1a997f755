package artifact

import (
	"github.com/riskguard/decisionengine/internal/engineerr"
	"github.com/riskguard/decisionengine/internal/expr"
)

// Validate checks an artifact against its schema (spec.md §7 "SchemaInvalid"). It does
// not resolve cross-artifact references (the loader does that); it only checks shape.
func Validate(a Artifact) error {
	switch v := a.(type) {
	case *Rule:
		return validateRule(v)
	case *Ruleset:
		return validateRuleset(v)
	case *Pipeline:
		return validatePipeline(v)
	case *Feature:
		return validateFeature(v)
	case *List:
		return nil
	case *ApiDef:
		return validatePolicy(v.Policy)
	case *ServiceDef:
		return validatePolicy(v.Policy)
	case *Template:
		return validateTemplate(v)
	default:
		return engineerr.New(engineerr.SchemaInvalid, "unrecognized artifact type")
	}
}

func validateRule(r *Rule) error {
	if r.When == nil {
		return engineerr.New(engineerr.SchemaInvalid, "rule %q missing 'when'", r.ID)
	}
	if _, err := expr.ParseCondition(r.When); err != nil {
		return engineerr.Wrap(engineerr.SchemaInvalid, err, "rule %q has an invalid 'when' expression", r.ID)
	}
	return nil
}

func validateRuleset(rs *Ruleset) error {
	if len(rs.Rules) == 0 && rs.Extends == "" {
		return engineerr.New(engineerr.SchemaInvalid, "ruleset %q declares no rules and does not extend", rs.ID)
	}
	seenDefault := false
	for i, c := range rs.Conclusion {
		if c.Default {
			if seenDefault {
				return engineerr.New(engineerr.SchemaInvalid, "ruleset %q declares more than one default clause", rs.ID)
			}
			seenDefault = true
			continue
		}
		if c.When == nil {
			return engineerr.New(engineerr.SchemaInvalid, "ruleset %q conclusion clause %d missing 'when' (or 'default: true')", rs.ID, i)
		}
		if _, err := expr.ParseCondition(c.When); err != nil {
			return engineerr.Wrap(engineerr.SchemaInvalid, err, "ruleset %q conclusion clause %d has an invalid 'when'", rs.ID, i)
		}
		if c.Signal == "" {
			return engineerr.New(engineerr.SchemaInvalid, "ruleset %q conclusion clause %d missing 'signal'", rs.ID, i)
		}
	}
	return nil
}

func validatePipeline(p *Pipeline) error {
	if len(p.Steps) == 0 {
		return engineerr.New(engineerr.SchemaInvalid, "pipeline %q declares no steps", p.ID)
	}
	if p.When != nil {
		if _, err := expr.ParseCondition(p.When); err != nil {
			return engineerr.Wrap(engineerr.SchemaInvalid, err, "pipeline %q has an invalid 'when'", p.ID)
		}
	}
	for i, s := range p.Steps {
		if err := validateStep(p.ID, i, s); err != nil {
			return err
		}
	}
	return nil
}

var validStepKinds = map[string]bool{
	"rule": true, "ruleset": true, "api": true, "service": true, "llm": true,
	"feature": true, "list": true, "router": true, "pipeline": true,
}

func validateStep(pipelineID string, idx int, s Step) error {
	if !validStepKinds[s.Kind] {
		return engineerr.New(engineerr.SchemaInvalid, "pipeline %q step %d has unknown kind %q", pipelineID, idx, s.Kind)
	}
	if s.Kind == "router" {
		if len(s.Branches) == 0 {
			return engineerr.New(engineerr.SchemaInvalid, "pipeline %q step %d router has no branches", pipelineID, idx)
		}
		for bi, b := range s.Branches {
			if _, err := expr.ParseCondition(b.When); err != nil {
				return engineerr.Wrap(engineerr.SchemaInvalid, err, "pipeline %q step %d branch %d has invalid 'when'", pipelineID, idx, bi)
			}
		}
		return nil
	}
	if s.Kind != "router" && s.Ref == "" && s.Template == "" && len(s.Parallel) == 0 {
		return engineerr.New(engineerr.SchemaInvalid, "pipeline %q step %d (%s) missing 'ref'", pipelineID, idx, s.Kind)
	}
	if s.Policy != nil {
		if err := validatePolicy(*s.Policy); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(p CallPolicy) error {
	p = p.Normalize()
	switch p.OnError {
	case OnErrorFail, OnErrorFallback, OnErrorSkip:
	default:
		return engineerr.New(engineerr.SchemaInvalid, "invalid on_error policy %q", p.OnError)
	}
	return nil
}

func validateFeature(f *Feature) error {
	switch f.Kind {
	case FeatureKindAggregation, FeatureKindLookup, FeatureKindDerived:
	default:
		return engineerr.New(engineerr.SchemaInvalid, "feature %q has unknown kind %q", f.ID, f.Kind)
	}
	if f.Kind == FeatureKindDerived && f.Expr == "" {
		return engineerr.New(engineerr.SchemaInvalid, "derived feature %q missing 'expr'", f.ID)
	}
	if f.Kind != FeatureKindDerived && f.SourceRef == "" {
		return engineerr.New(engineerr.SchemaInvalid, "feature %q missing 'source_ref'", f.ID)
	}
	return nil
}

func validateTemplate(t *Template) error {
	if t.Body == nil {
		return engineerr.New(engineerr.SchemaInvalid, "template %q missing 'body'", t.ID)
	}
	switch t.Kind {
	case "rule", "ruleset", "pipeline":
	default:
		return engineerr.New(engineerr.SchemaInvalid, "template %q has unsupported target kind %q", t.ID, t.Kind)
	}
	return nil
}
