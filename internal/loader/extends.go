package loader

import "github.com/riskguard/decisionengine/internal/artifact"

// mergeExtends implements spec.md §4.1's ruleset inheritance: rules are concatenated
// with deduplication preserving the child's order for duplicates; conclusion clauses
// from the child precede the parent's; the parent's default is dropped if the child
// declares one.
func mergeExtends(child, parent *artifact.Ruleset) *artifact.Ruleset {
	merged := &artifact.Ruleset{ID: child.ID}

	seen := map[string]bool{}
	for _, id := range child.Rules {
		if !seen[id] {
			seen[id] = true
			merged.Rules = append(merged.Rules, id)
		}
	}
	for _, id := range parent.Rules {
		if !seen[id] {
			seen[id] = true
			merged.Rules = append(merged.Rules, id)
		}
	}

	childHasDefault := false
	for _, c := range child.Conclusion {
		if c.Default {
			childHasDefault = true
			break
		}
	}
	merged.Conclusion = append(merged.Conclusion, child.Conclusion...)
	for _, c := range parent.Conclusion {
		if c.Default && childHasDefault {
			continue
		}
		merged.Conclusion = append(merged.Conclusion, c)
	}

	return merged
}
