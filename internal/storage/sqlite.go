package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DatabaseFile is the file name of the index database inside the persist dir.
const DatabaseFile = "index.db"

// Store wraps the index database: collection stamps, vector entries and the
// history of build runs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DatabaseFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for the vector store, which shares the
// connection and the schema.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Collections ---

// CreateCollection inserts the collection stamp. It returns the existing stamp
// and created=false when a collection with that name is already present.
func (s *Store) CreateCollection(ctx context.Context, c Collection) (Collection, bool, error) {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (name, embed_model, dimension, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		c.Name, c.EmbedModel, c.Dimension, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return Collection{}, false, fmt.Errorf("creating collection %s: %w", c.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Collection{}, false, err
	}
	got, err := s.GetCollection(ctx, c.Name)
	if err != nil {
		return Collection{}, false, err
	}
	return got, n == 1, nil
}

func (s *Store) GetCollection(ctx context.Context, name string) (Collection, error) {
	var c Collection
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, embed_model, dimension, created_at FROM collections WHERE name = ?`, name,
	).Scan(&c.Name, &c.EmbedModel, &c.Dimension, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Collection{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, embed_model, dimension, created_at FROM collections ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Collection
	for rows.Next() {
		var c Collection
		var createdAt string
		if err := rows.Scan(&c.Name, &c.EmbedModel, &c.Dimension, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// DropCollection removes the stamp and every entry of the collection.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning drop transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("deleting entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Builds ---

func (s *Store) SaveBuild(b Build) error {
	status := b.Status
	if status == "" {
		status = BuildCompleted
	}
	_, err := s.db.Exec(`
		INSERT INTO builds (id, started_at, finished_at, source, collection, rows, records, malformed,
			chunks, chunk_failures, added, updated, failed, total, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.StartedAt.UTC().Format(time.RFC3339), b.FinishedAt.UTC().Format(time.RFC3339),
		b.Source, b.Collection, b.Rows, b.Records, b.Malformed, b.Chunks, b.ChunkFailures,
		b.Added, b.Updated, b.Failed, b.Total, status, b.Error,
	)
	return err
}

const buildColumns = `id, started_at, finished_at, source, collection, rows, records, malformed,
	chunks, chunk_failures, added, updated, failed, total, status, error`

func scanBuild(scan func(dest ...any) error) (Build, error) {
	var b Build
	var startedAt, finishedAt string
	if err := scan(&b.ID, &startedAt, &finishedAt, &b.Source, &b.Collection, &b.Rows, &b.Records,
		&b.Malformed, &b.Chunks, &b.ChunkFailures, &b.Added, &b.Updated, &b.Failed, &b.Total,
		&b.Status, &b.Error); err != nil {
		return Build{}, err
	}
	var err error
	if b.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return Build{}, fmt.Errorf("parsing started_at for build %s: %w", b.ID, err)
	}
	if b.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
		return Build{}, fmt.Errorf("parsing finished_at for build %s: %w", b.ID, err)
	}
	return b, nil
}

func (s *Store) GetBuild(id string) (Build, error) {
	b, err := scanBuild(s.db.QueryRow(`SELECT `+buildColumns+` FROM builds WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, ErrNotFound
	}
	return b, err
}

func (s *Store) GetRecentBuilds(limit int) ([]Build, error) {
	rows, err := s.db.Query(`SELECT `+buildColumns+` FROM builds ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Build
	for rows.Next() {
		b, err := scanBuild(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}
