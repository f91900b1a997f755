package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/riskguard/decisionengine/internal/artifact"
)

// FSRepository implements Repository over the on-disk layout in spec.md §6:
//
//	library/rules/<category>/<id>.yaml
//	library/rulesets/<id>.yaml
//	library/templates/<id>.yaml
//	pipelines/<id>.yaml
//	configs/{features,lists,apis,services}/<id>.yaml
//
// Root discovery follows the same "walk up until found" idiom as a project-root
// locator, except the root here is supplied explicitly (a risk-decision library is a
// deployment artifact, not something discovered relative to a working directory the
// way a source-tree root is).
type FSRepository struct {
	root string
}

// NewFSRepository returns a Repository rooted at dir, which must contain the
// `library/`, `pipelines/`, and `configs/` subtrees.
func NewFSRepository(dir string) (*FSRepository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("loader: resolve repository root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("loader: repository root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: repository root %q is not a directory", abs)
	}
	return &FSRepository{root: abs}, nil
}

func isPath(idOrPath string) bool {
	return strings.Contains(idOrPath, "/") || strings.HasSuffix(idOrPath, ".yaml")
}

func (r *FSRepository) conventionalDir(kind artifact.Kind) string {
	switch kind {
	case artifact.KindRuleset:
		return filepath.Join("library", "rulesets")
	case artifact.KindTemplate:
		return filepath.Join("library", "templates")
	case artifact.KindPipeline:
		return "pipelines"
	case artifact.KindFeature:
		return filepath.Join("configs", "features")
	case artifact.KindList:
		return filepath.Join("configs", "lists")
	case artifact.KindAPI:
		return filepath.Join("configs", "apis")
	case artifact.KindService:
		return filepath.Join("configs", "services")
	default:
		return ""
	}
}

// Load resolves idOrPath to a file, decodes it, and returns the artifact plus its
// declared imports.
func (r *FSRepository) Load(kind artifact.Kind, idOrPath string) (artifact.Artifact, []string, []byte, error) {
	path, err := r.resolvePath(kind, idOrPath)
	if err != nil {
		return nil, nil, nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loader: %w", err)
	}
	a, imports, err := artifact.Decode(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, imports, raw, nil
}

func (r *FSRepository) resolvePath(kind artifact.Kind, idOrPath string) (string, error) {
	if isPath(idOrPath) {
		return filepath.Join(r.root, idOrPath), nil
	}
	if kind == artifact.KindRule {
		return r.findRuleFile(idOrPath)
	}
	dir := r.conventionalDir(kind)
	if dir == "" {
		return "", fmt.Errorf("loader: cannot resolve bare id %q without an explicit path for kind %q", idOrPath, kind)
	}
	return filepath.Join(r.root, dir, idOrPath+".yaml"), nil
}

// findRuleFile globs library/rules/*/<id>.yaml since rules are nested by category.
func (r *FSRepository) findRuleFile(id string) (string, error) {
	pattern := filepath.Join(r.root, "library", "rules", "*", id+".yaml")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("loader: glob rule %q: %w", id, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("loader: rule %q not found under library/rules/*/", id)
	}
	return matches[0], nil
}

// List enumerates every artifact id of the given kind present on disk.
func (r *FSRepository) List(kind artifact.Kind) ([]string, error) {
	var dir string
	if kind == artifact.KindRule {
		dir = filepath.Join(r.root, "library", "rules")
	} else {
		d := r.conventionalDir(kind)
		if d == "" {
			return nil, fmt.Errorf("loader: unsupported kind %q", kind)
		}
		dir = filepath.Join(r.root, d)
	}
	var ids []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		base := filepath.Base(path)
		ids = append(ids, strings.TrimSuffix(base, ".yaml"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Exists reports whether an artifact of the given kind and id is present.
func (r *FSRepository) Exists(kind artifact.Kind, id string) (bool, error) {
	path, err := r.resolvePath(kind, id)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Save writes rawText to the artifact's conventional path, creating parent
// directories as needed.
func (r *FSRepository) Save(kind artifact.Kind, id string, rawText []byte) error {
	path, err := r.resolvePath(kind, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("loader: %w", err)
	}
	return os.WriteFile(path, rawText, 0o644)
}

// Delete removes the artifact's file.
func (r *FSRepository) Delete(kind artifact.Kind, id string) error {
	path, err := r.resolvePath(kind, id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Ping verifies the repository root is still present and readable, satisfying
// domain.Repository's health check alongside the SQL-backed implementation.
func (r *FSRepository) Ping(ctx context.Context) error {
	info, err := os.Stat(r.root)
	if err != nil {
		return fmt.Errorf("loader: repository root %q: %w", r.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("loader: repository root %q is not a directory", r.root)
	}
	return nil
}

// Close is a no-op: a filesystem repository holds no connection to release.
func (r *FSRepository) Close() error { return nil }
