package artifact

import (
	"fmt"

	"github.com/riskguard/decisionengine/internal/engineerr"
	"gopkg.in/yaml.v3"
)

// Decode parses a single artifact document (spec.md §6 disk layout) from YAML text.
func Decode(text []byte) (Artifact, []string, error) {
	var doc Document
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, nil, engineerr.Wrap(engineerr.SchemaInvalid, err, "invalid YAML")
	}
	a, err := doc.Unwrap()
	if err != nil {
		return nil, nil, err
	}
	if err := Validate(a); err != nil {
		return nil, nil, err
	}
	return a, doc.Imports, nil
}

// Encode re-serializes an artifact back into the Document envelope shape, for the
// round-trip testable property in spec.md §8.
func Encode(a Artifact) ([]byte, error) {
	doc := Document{Version: "0.1"}
	switch v := a.(type) {
	case *Rule:
		doc.Rule = v
	case *Ruleset:
		doc.Ruleset = v
	case *Pipeline:
		doc.Pipeline = v
	case *Feature:
		doc.Feature = v
	case *List:
		doc.List = v
	case *ApiDef:
		doc.Api = v
	case *ServiceDef:
		doc.Service = v
	case *Template:
		doc.Template = v
	default:
		return nil, fmt.Errorf("artifact: unknown artifact type %T", a)
	}
	return yaml.Marshal(&doc)
}
