// Package repository provides SQL-backed artifact persistence, the same Load/List/
// Exists/Save/Delete contract internal/loader.Repository describes (spec.md §6), for
// deployments that store their rule/ruleset/pipeline/feature/list/api/service/template
// library in a database instead of on disk.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository (and, by identical method signatures,
// internal/loader.Repository) using database/sql. Works with both SQLite and
// PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new SQL-backed repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Load resolves (kind, idOrPath) to a stored artifact row, decodes it, and returns the
// artifact plus its declared imports — idOrPath is always treated as a bare id here
// (unlike FSRepository, a SQL-backed library has no path-relative imports to resolve;
// a path-shaped idOrPath is stored and looked up as a literal id).
func (r *SQLRepository) Load(kind artifact.Kind, idOrPath string) (artifact.Artifact, []string, []byte, error) {
	const query = `SELECT raw_text, imports FROM artifacts WHERE kind = ? AND id = ?`

	var raw []byte
	var importsJSON string
	err := r.db.QueryRow(r.rebind(query), string(kind), idOrPath).Scan(&raw, &importsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil, fmt.Errorf("repository: artifact %s/%s: %w", kind, idOrPath, ErrNotFound)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	a, imports, err := artifact.Decode(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(importsJSON) > 0 {
		var stored []string
		if err := json.Unmarshal([]byte(importsJSON), &stored); err == nil {
			imports = stored
		}
	}
	return a, imports, raw, nil
}

// List enumerates every artifact id of the given kind.
func (r *SQLRepository) List(kind artifact.Kind) ([]string, error) {
	const query = `SELECT id FROM artifacts WHERE kind = ? ORDER BY id`

	rows, err := r.db.Query(r.rebind(query), string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Exists reports whether an artifact of the given kind and id is present.
func (r *SQLRepository) Exists(kind artifact.Kind, id string) (bool, error) {
	const query = `SELECT 1 FROM artifacts WHERE kind = ? AND id = ?`

	var one int
	err := r.db.QueryRow(r.rebind(query), string(kind), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Save upserts rawText for (kind, id), re-decoding it first to capture its declared
// imports and to reject malformed artifacts before they reach storage.
func (r *SQLRepository) Save(kind artifact.Kind, id string, rawText []byte) error {
	a, imports, err := artifact.Decode(rawText)
	if err != nil {
		return err
	}
	if a.ArtifactKind() != kind || a.ArtifactID() != id {
		return fmt.Errorf("%w: document declares %s/%s, expected %s/%s", ErrInvalidInput, a.ArtifactKind(), a.ArtifactID(), kind, id)
	}

	importsJSON, _ := json.Marshal(imports)
	now := time.Now().UTC()

	query := `
		INSERT INTO artifacts (kind, id, raw_text, imports, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			raw_text = excluded.raw_text,
			imports = excluded.imports,
			updated_at = excluded.updated_at
	`
	_, err = r.db.Exec(r.rebind(query), string(kind), id, rawText, string(importsJSON), now, now)
	return err
}

// Delete removes the stored artifact.
func (r *SQLRepository) Delete(kind artifact.Kind, id string) error {
	const query = `DELETE FROM artifacts WHERE kind = ? AND id = ?`

	result, err := r.db.Exec(r.rebind(query), string(kind), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
