package repository

// Schema definitions for the decision engine's artifact store.
// Compatible with both SQLite and PostgreSQL.

// schemaArtifacts stores every rule/ruleset/pipeline/feature/list/api/service/template
// artifact keyed by (kind, id), holding the raw YAML text plus its declared imports
// (spec.md §6's "imports:" list, flattened to a JSON array so the resolver doesn't have
// to re-parse YAML just to walk the import graph).
const schemaArtifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
    kind TEXT NOT NULL,
    id TEXT NOT NULL,
    raw_text BLOB NOT NULL,
    imports TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaArtifacts,
	}
}
