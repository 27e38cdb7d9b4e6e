package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements History using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		index_dir TEXT NOT NULL,
		model_id TEXT NOT NULL,
		count INTEGER NOT NULL,
		skipped INTEGER NOT NULL DEFAULT 0,
		decode_failures INTEGER NOT NULL DEFAULT 0,
		text_fused INTEGER NOT NULL DEFAULT 0,
		alpha REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_builds_created_at ON builds(created_at);

	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		index_dir TEXT NOT NULL,
		image_path TEXT NOT NULL,
		top_k INTEGER NOT NULL,
		average REAL NOT NULL,
		result_ids TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordBuild inserts a build record, assigning ID and CreatedAt when unset.
func (s *SQLiteStorage) RecordBuild(ctx context.Context, rec *BuildRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, index_dir, model_id, count, skipped, decode_failures, text_fused, alpha, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IndexDir, rec.ModelID, rec.Count, rec.Skipped, rec.DecodeFailures,
		rec.TextFused, rec.Alpha, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return nil
}

// ListBuilds returns up to limit builds, newest first.
func (s *SQLiteStorage) ListBuilds(ctx context.Context, limit int) ([]*BuildRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, index_dir, model_id, count, skipped, decode_failures, text_fused, alpha, created_at
		 FROM builds ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BuildRecord
	for rows.Next() {
		var rec BuildRecord
		if err := rows.Scan(&rec.ID, &rec.IndexDir, &rec.ModelID, &rec.Count, &rec.Skipped,
			&rec.DecodeFailures, &rec.TextFused, &rec.Alpha, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// RecordQuery inserts a query record, assigning ID and CreatedAt when unset.
func (s *SQLiteStorage) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	ids := rec.ResultIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal result ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queries (id, index_dir, image_path, top_k, average, result_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IndexDir, rec.ImagePath, rec.TopK, rec.Average, string(idsJSON), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// ListQueries returns up to limit queries, newest first.
func (s *SQLiteStorage) ListQueries(ctx context.Context, limit int) ([]*QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, index_dir, image_path, top_k, average, result_ids, created_at
		 FROM queries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*QueryRecord
	for rows.Next() {
		var rec QueryRecord
		var idsJSON string
		if err := rows.Scan(&rec.ID, &rec.IndexDir, &rec.ImagePath, &rec.TopK, &rec.Average,
			&idsJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(idsJSON), &rec.ResultIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result ids: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountQueries returns the number of recorded queries.
func (s *SQLiteStorage) CountQueries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
