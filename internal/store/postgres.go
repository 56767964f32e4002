package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/flowerbed/internal/flower"
	"go.uber.org/zap"
)

// Postgres stores flower documents in a jsonb column.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a backend with a pgx connection pool.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Postgres{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Postgres) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Save upserts a flower document.
func (s *Postgres) Save(ctx context.Context, f *flower.Flower) error {
	doc, err := encode(f)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO flowers (id, type, version, document, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at`,
		f.ID, f.Type, f.Version, string(doc), f.Metadata.Archived, now,
	)
	if err != nil {
		return fmt.Errorf("save flower %s: %w", f.ID, err)
	}
	return nil
}

// Load retrieves a single flower by ID.
func (s *Postgres) Load(ctx context.Context, id string) (*flower.Flower, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT document::text FROM flowers WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, flower.ErrFlowerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get flower %s: %w", id, err)
	}
	return decode(id, doc)
}

// Delete removes a flower row.
func (s *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM flowers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete flower %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", id, flower.ErrFlowerNotFound)
	}
	return nil
}

// ListIDs returns the ids of all non-archived flowers, oldest first.
func (s *Postgres) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM flowers WHERE NOT is_archived ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list flowers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flower id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LogInteraction appends one tend trace to the interactions table.
func (s *Postgres) LogInteraction(ctx context.Context, l *flower.InteractionLog) error {
	before, err := json.Marshal(l.StateBefore)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	after, err := json.Marshal(l.StateAfter)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO interactions (id, flower_id, session_id, input, response, model,
			tokens_used, response_time_ms, state_before, state_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.FlowerID, l.SessionID, l.Input, l.Response, l.Model,
		l.TokensUsed, l.ResponseTimeMS, string(before), string(after), l.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("log interaction %s: %w", l.FlowerID, err)
	}
	return nil
}

// Interactions returns up to limit traces of a flower, newest first.
func (s *Postgres) Interactions(ctx context.Context, flowerID string, limit int) ([]*flower.InteractionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, flower_id, session_id, input, response, model, tokens_used,
			response_time_ms, state_before::text, state_after::text, created_at
		FROM interactions WHERE flower_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, flowerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions %s: %w", flowerID, err)
	}
	defer rows.Close()

	var logs []*flower.InteractionLog
	for rows.Next() {
		var l flower.InteractionLog
		var before, after []byte
		if err := rows.Scan(&l.ID, &l.FlowerID, &l.SessionID, &l.Input, &l.Response, &l.Model,
			&l.TokensUsed, &l.ResponseTimeMS, &before, &after, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		if err := json.Unmarshal(before, &l.StateBefore); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		if err := json.Unmarshal(after, &l.StateAfter); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// Close shuts down the connection pool.
func (s *Postgres) Close() {
	s.db.Close()
}
