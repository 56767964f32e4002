package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flowers (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    version     TEXT NOT NULL DEFAULT '1.0',
    document    TEXT NOT NULL,
    is_archived INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flowers_type ON flowers(type);
`

// SQLite stores flower documents in a single-file database.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return initSQLite(db, logger)
}

// OpenSQLiteMemory opens an in-memory database for testing.
func OpenSQLiteMemory(logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	return initSQLite(db, logger)
}

func initSQLite(db *sql.DB, logger *zap.Logger) (*SQLite, error) {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Save(ctx context.Context, f *flower.Flower) error {
	doc, err := encode(f)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	archived := 0
	if f.Metadata.Archived {
		archived = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flowers (id, type, version, document, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			version = excluded.version,
			document = excluded.document,
			is_archived = excluded.is_archived,
			updated_at = excluded.updated_at`,
		f.ID, f.Type, f.Version, string(doc), archived, now, now,
	)
	if err != nil {
		return fmt.Errorf("save flower %s: %w", f.ID, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, id string) (*flower.Flower, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM flowers WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, flower.ErrFlowerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get flower %s: %w", id, err)
	}
	return decode(id, []byte(doc))
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flowers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete flower %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete flower %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, flower.ErrFlowerNotFound)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
