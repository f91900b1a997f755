// Package loader implements the Repository interface (spec.md §6), a filesystem-backed
// implementation of it (spec.md's disk layout), and the import resolver (spec.md §4.1):
// DFS traversal of `imports:` declarations with cycle detection, id-collision
// detection, template expansion, and ruleset `extends` inheritance merge.
package loader

import "github.com/riskguard/decisionengine/internal/artifact"

// Repository is the contract the core consumes (spec.md §6): "load_rule|ruleset|
// pipeline|template(id_or_path) -> (artifact, yaml_text)", "list_*() -> [id]",
// "exists(id) -> bool", with an optional writer. The core never knows whether the
// concrete implementation is filesystem, SQL, or HTTP-backed (internal/repository
// provides a SQL-backed implementation; this package provides the filesystem one).
//
// idOrPath is either a bare artifact id (resolved via the repository's own
// kind-specific convention, e.g. a directory layout) or a path relative to the
// repository root, as found in an `imports:` list. Implementations distinguish the two
// by shape (a path contains a separator or a ".yaml" suffix).
type Repository interface {
	Load(kind artifact.Kind, idOrPath string) (a artifact.Artifact, imports []string, rawText []byte, err error)
	List(kind artifact.Kind) ([]string, error)
	Exists(kind artifact.Kind, id string) (bool, error)
	Save(kind artifact.Kind, id string, rawText []byte) error
	Delete(kind artifact.Kind, id string) error
}

// ErrWriteUnsupported is returned by read-only Repository implementations from
// Save/Delete.
type ErrWriteUnsupported struct{ Op string }

func (e ErrWriteUnsupported) Error() string { return "loader: " + e.Op + " not supported by this repository" }
