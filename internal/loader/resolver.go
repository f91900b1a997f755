package loader

import (
	"bytes"
	"strings"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/engineerr"
)

// key identifies a loaded artifact as "kind:id", the unit the resolver deduplicates
// and cycle-checks on (spec.md §4.1).
func key(kind artifact.Kind, id string) string { return string(kind) + ":" + id }

func idFromKey(k string) string {
	i := strings.IndexByte(k, ':')
	if i < 0 {
		return k
	}
	return k[i+1:]
}

// ResolvedSet holds every artifact reachable from a pipeline's transitive imports,
// deduplicated by (kind, id), plus ruleset extends-merges and template expansions
// already applied.
type ResolvedSet struct {
	PipelineID string

	Pipelines map[string]*artifact.Pipeline
	Rules     map[string]*artifact.Rule
	Rulesets  map[string]*artifact.Ruleset
	Templates map[string]*artifact.Template
	Features  map[string]*artifact.Feature
	Lists     map[string]*artifact.List
	Apis      map[string]*artifact.ApiDef
	Services  map[string]*artifact.ServiceDef
}

func newResolvedSet() *ResolvedSet {
	return &ResolvedSet{
		Pipelines: map[string]*artifact.Pipeline{},
		Rules:     map[string]*artifact.Rule{},
		Rulesets:  map[string]*artifact.Ruleset{},
		Templates: map[string]*artifact.Template{},
		Features:  map[string]*artifact.Feature{},
		Lists:     map[string]*artifact.List{},
		Apis:      map[string]*artifact.ApiDef{},
		Services:  map[string]*artifact.ServiceDef{},
	}
}

func (rs *ResolvedSet) register(a artifact.Artifact) {
	switch v := a.(type) {
	case *artifact.Pipeline:
		rs.Pipelines[v.ID] = v
	case *artifact.Rule:
		rs.Rules[v.ID] = v
	case *artifact.Ruleset:
		rs.Rulesets[v.ID] = v
	case *artifact.Template:
		rs.Templates[v.ID] = v
	case *artifact.Feature:
		rs.Features[v.ID] = v
	case *artifact.List:
		rs.Lists[v.ID] = v
	case *artifact.ApiDef:
		rs.Apis[v.ID] = v
	case *artifact.ServiceDef:
		rs.Services[v.ID] = v
	}
}

type loadFunc func(kind artifact.Kind, idOrPath, parentKey string) (string, error)

// Resolve performs the depth-first import-graph traversal of spec.md §4.1, starting
// from a pipeline id: it loads every transitively `imports:`-reachable artifact
// through repo, deduplicating by (kind, id), rejecting cycles and id collisions
// (same id, divergent content), merging ruleset `extends` chains, and expanding
// template references on pipeline steps and ruleset rule_templates.
func Resolve(repo Repository, pipelineID string) (*ResolvedSet, error) {
	rs := newResolvedSet()
	raw := map[string][]byte{}
	g := newGraph()

	var load loadFunc
	load = func(kind artifact.Kind, idOrPath, parentKey string) (string, error) {
		a, imports, rawBytes, err := repo.Load(kind, idOrPath)
		if err != nil {
			return "", engineerr.Wrap(engineerr.ArtifactNotFound, err, "loading %s %q", kind, idOrPath)
		}
		k := key(a.ArtifactKind(), a.ArtifactID())
		if parentKey != "" {
			g.addEdge(parentKey, k)
			// A cycle can close on an artifact already fully processed via another
			// import path (e.g. a diamond's far corner re-importing the root), so the
			// cycle check runs on every visit, not just the first.
			if c := g.detectCycleFrom(parentKey); c != nil {
				return "", engineerr.New(engineerr.CycleDetected, "import cycle").WithPath(c.Path)
			}
		}

		if existing, ok := raw[k]; ok {
			if !bytes.Equal(existing, rawBytes) {
				return "", engineerr.New(engineerr.IdCollision,
					"artifact %q loaded with divergent content via different import paths", k).
					WithPath([]string{parentKey, k})
			}
			return k, nil
		}
		raw[k] = rawBytes

		if rsArt, ok := a.(*artifact.Ruleset); ok && rsArt.Extends != "" {
			parentRulesetKey, err := load(artifact.KindRuleset, rsArt.Extends, k)
			if err != nil {
				return "", err
			}
			parent, ok := rs.Rulesets[idFromKey(parentRulesetKey)]
			if !ok {
				return "", engineerr.New(engineerr.InternalError, "extends target %q not registered", parentRulesetKey)
			}
			a = mergeExtends(rsArt, parent)
		}
		rs.register(a)

		if rsArt, ok := a.(*artifact.Ruleset); ok {
			for _, tref := range rsArt.RuleTemplates {
				expanded, err := resolveTemplateRef(rs, tref, k, load)
				if err != nil {
					return "", err
				}
				rsArt.Rules = append(rsArt.Rules, expanded.ArtifactID())
			}
		}
		if p, ok := a.(*artifact.Pipeline); ok {
			if err := expandStepTemplates(rs, p.Steps, k, load); err != nil {
				return "", err
			}
		}

		for _, imp := range imports {
			if _, err := load(artifact.Kind(""), imp, k); err != nil {
				return "", err
			}
		}
		return k, nil
	}

	rootKey, err := load(artifact.KindPipeline, pipelineID, "")
	if err != nil {
		return nil, err
	}
	rs.PipelineID = idFromKey(rootKey)
	return rs, nil
}

func resolveTemplateRef(rs *ResolvedSet, tref artifact.TemplateRef, parentKey string, load loadFunc) (artifact.Artifact, error) {
	tmplKey, err := load(artifact.KindTemplate, tref.Template, parentKey)
	if err != nil {
		return nil, err
	}
	tmpl, ok := rs.Templates[idFromKey(tmplKey)]
	if !ok {
		return nil, engineerr.New(engineerr.InternalError, "template %q not registered after load", tref.Template)
	}
	expanded, err := expandTemplate(tmpl, tref.Params)
	if err != nil {
		return nil, err
	}
	rs.register(expanded)
	return expanded, nil
}

func expandStepTemplates(rs *ResolvedSet, steps []artifact.Step, parentKey string, load loadFunc) error {
	for i := range steps {
		s := &steps[i]
		if s.Template != "" {
			expanded, err := resolveTemplateRef(rs, artifact.TemplateRef{Template: s.Template, Params: s.Params}, parentKey, load)
			if err != nil {
				return err
			}
			s.Ref = expanded.ArtifactID()
		}
		if err := expandStepTemplates(rs, s.Parallel, parentKey, load); err != nil {
			return err
		}
		for bi := range s.Branches {
			if err := expandStepTemplates(rs, s.Branches[bi].ThenSteps, parentKey, load); err != nil {
				return err
			}
		}
		if err := expandStepTemplates(rs, s.ElseSteps, parentKey, load); err != nil {
			return err
		}
	}
	return nil
}
