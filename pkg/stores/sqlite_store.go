package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/froyopack/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a build record does not exist.
var ErrNotFound = errors.New("build not found")

// SQLiteStore records build history in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ engine.BuildRecorder = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database, creating its directory when needed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	if s.cfg.Path == MemoryPath {
		// Closing the last connection would drop the database.
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate brings the schema up to date.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveBuild inserts or updates a build record together with its warnings.
// A record without an ID is assigned a new one.
func (s *SQLiteStore) SaveBuild(ctx context.Context, build *engine.BuildRecord) error {
	if err := build.Status.Validate(); err != nil {
		return err
	}
	if build.Name == "" {
		return fmt.Errorf("build name is required")
	}
	if build.ID == "" {
		build.ID = uuid.NewString()
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO builds (
			id, name, config_path, status, artifact_path, index_digest,
			artifact_size, modules, excluded_count, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			artifact_path = excluded.artifact_path,
			index_digest = excluded.index_digest,
			artifact_size = excluded.artifact_size,
			modules = excluded.modules,
			excluded_count = excluded.excluded_count,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err = tx.ExecContext(ctx, query,
		build.ID,
		build.Name,
		build.ConfigPath,
		build.Status,
		build.ArtifactPath,
		build.IndexDigest,
		build.ArtifactSize,
		build.Modules,
		build.Excluded,
		nullString(build.Error),
		build.StartedAt.UTC(),
		utcTime(build.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save build: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM build_warnings WHERE build_id = ?`, build.ID); err != nil {
		return fmt.Errorf("failed to clear build warnings: %w", err)
	}
	for i, w := range build.Warnings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO build_warnings (build_id, seq, class, code, module, path, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, build.ID, i, w.Class, w.Code, w.Module, w.Path, w.Message)
		if err != nil {
			return fmt.Errorf("failed to save build warning: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit build: %w", err)
	}
	return nil
}

const buildColumns = `
	id, name, config_path, status, artifact_path, index_digest,
	artifact_size, modules, excluded_count, error, started_at, completed_at
`

// GetBuild retrieves a build by ID
func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*engine.BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	build, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	if err := s.loadWarnings(ctx, build); err != nil {
		return nil, err
	}
	return build, nil
}

// GetLatestBuild returns the most recent successful build of the named artifact.
func (s *SQLiteStore) GetLatestBuild(ctx context.Context, name string) (*engine.BuildRecord, error) {
	query := `SELECT ` + buildColumns + `
		FROM builds
		WHERE name = ? AND status = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`

	build, err := scanBuild(s.db.QueryRowContext(ctx, query, name, engine.BuildStatusSucceeded))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no successful build of %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest build: %w", err)
	}
	if err := s.loadWarnings(ctx, build); err != nil {
		return nil, err
	}
	return build, nil
}

// ListBuilds lists builds newest first. An empty name lists every artifact.
func (s *SQLiteStore) ListBuilds(ctx context.Context, name string, limit int) ([]*engine.BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + buildColumns + `
		FROM builds
		WHERE (? = '' OR name = ?)
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	builds := []*engine.BuildRecord{}
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, build)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}

	// Warnings are loaded after the cursor is closed: the pool may hold a
	// single connection.
	rows.Close()
	for _, build := range builds {
		if err := s.loadWarnings(ctx, build); err != nil {
			return nil, err
		}
	}
	return builds, nil
}

// PruneBuilds keeps the newest keep builds of the named artifact and deletes
// the rest. It returns the number of deleted builds.
func (s *SQLiteStore) PruneBuilds(ctx context.Context, name string, keep int) (int64, error) {
	query := `
		DELETE FROM builds
		WHERE name = ? AND id NOT IN (
			SELECT id FROM builds WHERE name = ?
			ORDER BY started_at DESC, rowid DESC
			LIMIT ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, name, name, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadWarnings(ctx context.Context, build *engine.BuildRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT class, code, module, path, message
		FROM build_warnings
		WHERE build_id = ?
		ORDER BY seq ASC
	`, build.ID)
	if err != nil {
		return fmt.Errorf("failed to load build warnings: %w", err)
	}
	defer rows.Close()

	build.Warnings = nil
	for rows.Next() {
		w := &engine.PackError{}
		if err := rows.Scan(&w.Class, &w.Code, &w.Module, &w.Path, &w.Message); err != nil {
			return fmt.Errorf("failed to scan build warning: %w", err)
		}
		build.Warnings = append(build.Warnings, w)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*engine.BuildRecord, error) {
	build := &engine.BuildRecord{}
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&build.ID,
		&build.Name,
		&build.ConfigPath,
		&build.Status,
		&build.ArtifactPath,
		&build.IndexDigest,
		&build.ArtifactSize,
		&build.Modules,
		&build.Excluded,
		&errMsg,
		&build.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	build.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		build.CompletedAt = &t
	}
	return build, nil
}

func utcTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
