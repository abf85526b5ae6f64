package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/catprev/catprev/pkg/catalog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg: cfg,
	}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveFacts upserts the latest fact set for a node. One row per node name:
// a later submission for the same node replaces the previous one, so a
// subsequent node lookup observes the facts carried by the request.
func (s *SQLiteStore) SaveFacts(ctx context.Context, facts *catalog.FactSet, opts SaveOptions) error {
	if facts == nil || facts.Name == "" {
		return fmt.Errorf("fact set must name its node")
	}

	values, err := json.Marshal(facts.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal fact values: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO facts (id, node_name, environment, values_json, transaction_uuid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_name) DO UPDATE SET
			environment = excluded.environment,
			values_json = excluded.values_json,
			transaction_uuid = excluded.transaction_uuid,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(), facts.Name, opts.Environment, string(values),
		opts.TransactionUUID, now, now)
	if err != nil {
		return fmt.Errorf("failed to save facts for %s: %w", facts.Name, err)
	}
	return nil
}

// GetFacts returns the latest fact set saved for a node.
func (s *SQLiteStore) GetFacts(ctx context.Context, nodeName string) (*catalog.FactSet, error) {
	query := `
		SELECT environment, values_json, updated_at
		FROM facts WHERE node_name = ?`

	var (
		environment string
		valuesJSON  string
		updatedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx, query, nodeName).Scan(&environment, &valuesJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facts for %s: %w", nodeName, err)
	}

	values := make(map[string]any)
	if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fact values for %s: %w", nodeName, err)
	}

	return &catalog.FactSet{
		Name:        nodeName,
		Environment: environment,
		Values:      values,
		Timestamp:   updatedAt,
	}, nil
}

// RecordCompile appends an audit entry for a dual-compile run.
func (s *SQLiteStore) RecordCompile(ctx context.Context, rec *CompileRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO compiles (id, node_name, baseline_env, preview_env, transaction_uuid, status, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.NodeName, rec.BaselineEnv, rec.PreviewEnv, rec.TransactionUUID,
		rec.Status, rec.Error, rec.StartedAt, rec.CompletedAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record compile: %w", err)
	}
	return nil
}

// ListCompiles returns compile audit entries for a node, newest first. An
// empty node name lists entries for all nodes.
func (s *SQLiteStore) ListCompiles(ctx context.Context, nodeName string, limit, offset int) ([]*CompileRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, node_name, baseline_env, preview_env, transaction_uuid, status, error, started_at, completed_at, created_at
		FROM compiles`
	args := []any{}
	if nodeName != "" {
		query += " WHERE node_name = ?"
		args = append(args, nodeName)
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compiles: %w", err)
	}
	defer rows.Close()

	var records []*CompileRecord
	for rows.Next() {
		rec := &CompileRecord{}
		if err := rows.Scan(&rec.ID, &rec.NodeName, &rec.BaselineEnv, &rec.PreviewEnv,
			&rec.TransactionUUID, &rec.Status, &rec.Error, &rec.StartedAt,
			&rec.CompletedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan compile record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate compile records: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is usable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
