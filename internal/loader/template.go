package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/riskguard/decisionengine/internal/artifact"
	"gopkg.in/yaml.v3"
)

var paramHole = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// substitute walks a template body (decoded generic YAML: maps, slices, scalars) and
// replaces `${param}` holes with values from params. A string that is *exactly* one
// hole is replaced by the param's raw value (preserving its type, e.g. a number stays
// a number); a string containing embedded holes among other text gets textual
// substitution.
func substitute(body any, params map[string]any) any {
	switch v := body.(type) {
	case string:
		if m := paramHole.FindStringSubmatch(v); m != nil && m[0] == v {
			if pv, ok := params[m[1]]; ok {
				return pv
			}
			return v
		}
		return paramHole.ReplaceAllStringFunc(v, func(hole string) string {
			name := paramHole.FindStringSubmatch(hole)[1]
			if pv, ok := params[name]; ok {
				return fmt.Sprintf("%v", pv)
			}
			return hole
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = substitute(vv, params)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = substitute(vv, params)
		}
		return out
	default:
		return v
	}
}

// hashParams produces the deterministic hash component of a template-expanded id
// (spec.md §4.1: `tmpl_<template>_<hash(params)>`).
func hashParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, params[k])
	}
	b, _ := json.Marshal(ordered)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:12]
}

// expandTemplate substitutes params into t.Body, re-decodes the result as an artifact
// of kind t.Kind, and assigns it the synthesized id.
func expandTemplate(t *artifact.Template, params map[string]any) (artifact.Artifact, error) {
	substituted := substitute(t.Body, params)
	doc := map[string]any{"version": "0.1", t.Kind: substituted}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("loader: marshal expanded template %q: %w", t.ID, err)
	}
	a, _, err := artifact.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("loader: expand template %q: %w", t.ID, err)
	}
	synthID := fmt.Sprintf("tmpl_%s_%s", t.ID, hashParams(params))
	setArtifactID(a, synthID)
	return a, nil
}

func setArtifactID(a artifact.Artifact, id string) {
	switch v := a.(type) {
	case *artifact.Rule:
		v.ID = id
	case *artifact.Ruleset:
		v.ID = id
	case *artifact.Pipeline:
		v.ID = id
	default:
		// Templates are only specified to target rule/ruleset/pipeline (spec.md §4.1
		// mentions only "a ruleset or pipeline references a template"); artifact.Validate
		// already rejects other target kinds before expandTemplate is reached.
	}
}
