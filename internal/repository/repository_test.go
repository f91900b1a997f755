package repository

import (
	"context"
	"os"
	"testing"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/domain"
)

const sampleRule = `
version: "0.1"
rule:
  id: velocity_check
  when: "true"
  action: flag
`

const sampleRuleV2 = `
version: "0.1"
rule:
  id: velocity_check
  when: "event_data.amount > 100"
  action: flag
`

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "decisionengine-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		if err := repo.Save(artifact.KindRule, "velocity_check", []byte(sampleRule)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		a, _, raw, err := repo.Load(artifact.KindRule, "velocity_check")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if a.ArtifactID() != "velocity_check" {
			t.Errorf("expected id velocity_check, got %s", a.ArtifactID())
		}
		if len(raw) == 0 {
			t.Error("expected non-empty raw text")
		}
	})

	t.Run("SaveUpserts", func(t *testing.T) {
		if err := repo.Save(artifact.KindRule, "velocity_check", []byte(sampleRule)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := repo.Save(artifact.KindRule, "velocity_check", []byte(sampleRuleV2)); err != nil {
			t.Fatalf("Save (update) failed: %v", err)
		}

		_, _, raw, err := repo.Load(artifact.KindRule, "velocity_check")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if string(raw) != sampleRuleV2 {
			t.Error("expected Save to overwrite the previous raw text")
		}
	})

	t.Run("SaveRejectsMismatchedID", func(t *testing.T) {
		err := repo.Save(artifact.KindRule, "other_id", []byte(sampleRule))
		if err == nil {
			t.Error("expected error for mismatched id")
		}
	})

	t.Run("Exists", func(t *testing.T) {
		_ = repo.Save(artifact.KindRule, "velocity_check", []byte(sampleRule))

		ok, err := repo.Exists(artifact.KindRule, "velocity_check")
		if err != nil {
			t.Fatalf("Exists failed: %v", err)
		}
		if !ok {
			t.Error("expected velocity_check to exist")
		}

		ok, err = repo.Exists(artifact.KindRule, "nonexistent")
		if err != nil {
			t.Fatalf("Exists failed: %v", err)
		}
		if ok {
			t.Error("expected nonexistent to not exist")
		}
	})

	t.Run("List", func(t *testing.T) {
		_ = repo.Save(artifact.KindRule, "velocity_check", []byte(sampleRule))

		ids, err := repo.List(artifact.KindRule)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		found := false
		for _, id := range ids {
			if id == "velocity_check" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected velocity_check in list, got %v", ids)
		}
	})

	t.Run("KindIsolation", func(t *testing.T) {
		ids, err := repo.List(artifact.KindPipeline)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		for _, id := range ids {
			if id == "velocity_check" {
				t.Error("rule should not appear under pipeline kind")
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = repo.Save(artifact.KindRule, "velocity_check", []byte(sampleRule))

		if err := repo.Delete(artifact.KindRule, "velocity_check"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		ok, _ := repo.Exists(artifact.KindRule, "velocity_check")
		if ok {
			t.Error("expected velocity_check to be gone after Delete")
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		err := repo.Delete(artifact.KindRule, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("LoadNotFound", func(t *testing.T) {
		_, _, _, err := repo.Load(artifact.KindRule, "nonexistent")
		if err == nil {
			t.Error("expected error for missing artifact")
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
