package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"insidertrack/pkg/core/form4"
)

// PGStore keeps records in a single cache_states table. The jsonb upsert is
// atomic, satisfying the replace-on-write contract.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an initialized pool and ensures the backing table exists.
func NewPGStore(pool *pgxpool.Pool) (*PGStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	s := &PGStore{pool: pool}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS cache_states (
			key        TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure cache_states table: %w", err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context, key string, v any) (bool, error) {
	query := `SELECT data FROM cache_states WHERE key = $1`
	var data []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load state %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &form4.StateCorruptionError{Key: key, Err: err}
	}
	return true, nil
}

func (s *PGStore) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal state %q: %w", key, err)
	}
	query := `
		INSERT INTO cache_states (key, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("failed to save state %q: %w", key, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cache_states WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	return nil
}
