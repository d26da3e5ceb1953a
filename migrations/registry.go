// Package migrations exposes the embedded schema of the stored
// configuration tables, one source per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	connectors "github.com/goliatone/go-connectors"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	DefaultLabel = "go-connectors"

	treeRoot = "data/sql/migrations"
)

// Source is the migration directory of one dialect. Postgres files sit at
// the tree root, sqlite files under sqlite/.
type Source struct {
	Dialect string
	Dir     string
	Label   string
	FS      fs.FS
}

// RegisterFunc hands a source to a migration runner, typically
// persistence.Client.RegisterSQLMigrations.
type RegisterFunc func(ctx context.Context, source Source) error

type Option func(*registration)

type registration struct {
	root     fs.FS
	label    string
	dialects []string
}

// WithRoot reads migrations from root instead of the embedded tree.
func WithRoot(root fs.FS) Option {
	return func(r *registration) {
		if root != nil {
			r.root = root
		}
	}
}

func WithLabel(label string) Option {
	return func(r *registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.label = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects. Driver names such
// as "pg" or "sqlite3" are accepted.
func WithDialects(dialects ...string) Option {
	return func(r *registration) {
		var picked []string
		for _, dialect := range dialects {
			normalized := NormalizeDialect(dialect)
			if normalized == "" || containsDialect(picked, normalized) {
				continue
			}
			picked = append(picked, normalized)
		}
		if len(picked) > 0 {
			r.dialects = picked
		}
	}
}

// NormalizeDialect maps driver names to a dialect. Unknown names are
// returned lowercased.
func NormalizeDialect(name string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(name)); normalized {
	case "pg", "pgx", "postgresql", DialectPostgres:
		return DialectPostgres
	case "sqlite3", DialectSQLite:
		return DialectSQLite
	default:
		return normalized
	}
}

// Sources splits root (the embedded tree when nil) into per-dialect
// sources. Each must hold at least one *.up.sql file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = connectors.GetMigrationsFS()
	}
	base, dir, err := locateTree(root)
	if err != nil {
		return nil, err
	}
	sqlite, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: open sqlite directory: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Dir: dir, FS: base},
		{Dialect: DialectSQLite, Dir: joinDir(dir, DialectSQLite), FS: sqlite},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: list %s: %w", source.Dir, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s directory %q has no *.up.sql files", source.Dialect, source.Dir)
		}
	}
	return sources, nil
}

// ForDialect returns the source of a single dialect.
func ForDialect(dialect string, root fs.FS) (Source, error) {
	sources, err := Sources(root)
	if err != nil {
		return Source{}, err
	}
	want := NormalizeDialect(dialect)
	for _, source := range sources {
		if source.Dialect == want {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: no migrations for dialect %q", dialect)
}

// Register passes every selected source to fn, postgres first. It returns
// the sources it registered.
func Register(ctx context.Context, fn RegisterFunc, opts ...Option) ([]Source, error) {
	if fn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{label: DefaultLabel, dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	sources, err := Sources(reg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Source, 0, len(reg.dialects))
	for _, source := range sources {
		if !containsDialect(reg.dialects, source.Dialect) {
			continue
		}
		source.Label = reg.label
		if err := fn(ctx, source); err != nil {
			return registered, fmt.Errorf("migrations: register %s from %s: %w", source.Dialect, source.Dir, err)
		}
		registered = append(registered, source)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: none of %v has migrations", reg.dialects)
	}
	return registered, nil
}

// locateTree accepts either a tree containing data/sql/migrations or a
// directory of .sql files.
func locateTree(root fs.FS) (fs.FS, string, error) {
	if _, err := fs.Stat(root, treeRoot); err == nil {
		sub, subErr := fs.Sub(root, treeRoot)
		return sub, treeRoot, subErr
	}
	if matches, _ := fs.Glob(root, "*.sql"); len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", treeRoot)
}

func containsDialect(dialects []string, dialect string) bool {
	for _, candidate := range dialects {
		if candidate == dialect {
			return true
		}
	}
	return false
}

func joinDir(base, child string) string {
	if base == "." {
		return child
	}
	return base + "/" + child
}
