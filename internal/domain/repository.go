// Package domain defines the core interfaces and types for the decision engine.
package domain

import (
	"context"
	"time"

	"github.com/riskguard/decisionengine/internal/artifact"
)

// Repository is internal/loader.Repository (spec.md §6's artifact persistence
// contract) plus the health-check/lifecycle methods a long-lived SQL connection needs.
// Defined with the identical Load/List/Exists/Save/Delete signatures so that
// internal/repository.SQLRepository satisfies both this interface and
// internal/loader.Repository without an adapter type.
type Repository interface {
	Load(kind artifact.Kind, idOrPath string) (a artifact.Artifact, imports []string, rawText []byte, err error)
	List(kind artifact.Kind) ([]string, error)
	Exists(kind artifact.Kind, id string) (bool, error)
	Save(kind artifact.Kind, id string, rawText []byte) error
	Delete(kind artifact.Kind, id string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver selects the artifact store: "sqlite" or "postgres" (internal/repository),
	// or "filesystem" (internal/loader.FSRepository, opened by cmd/decisionengine)
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
