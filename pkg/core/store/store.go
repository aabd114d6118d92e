// Package store persists cache state records. It mirrors a hybrid layout:
// Postgres when DATABASE_URL is configured, atomic JSON files otherwise.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"insidertrack/pkg/core/form4"
)

// Store is a keyed JSON record store. Every implementation must replace
// records atomically so a crash mid-write can never leave truncated state.
type Store interface {
	// Load unmarshals the record for key into v. It returns false when the
	// key has never been written, and a StateCorruptionError when the stored
	// bytes exist but cannot be decoded.
	Load(ctx context.Context, key string, v any) (bool, error)

	// Save atomically replaces the record for key.
	Save(ctx context.Context, key string, v any) error

	// Delete removes the record for key if present.
	Delete(ctx context.Context, key string) error
}

// FileStore keeps one JSON file per key under a directory, written with a
// temp-file-then-rename swap.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	// Keys are hierarchical ("entity/NVDA"); flatten for the filesystem.
	safe := strings.ReplaceAll(key, "/", "_")
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Load(ctx context.Context, key string, v any) (bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &form4.StateCorruptionError{Key: key, Err: err}
	}
	return true, nil
}

func (s *FileStore) Save(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state %q: %w", key, err)
	}

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to swap state %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	return nil
}

// Open selects the backing store: Postgres when databaseURL is set, files
// under dir otherwise.
func Open(ctx context.Context, databaseURL, dir string) (Store, error) {
	if databaseURL != "" {
		if err := InitDB(ctx, databaseURL); err != nil {
			return nil, err
		}
		return NewPGStore(GetPool())
	}
	return NewFileStore(dir)
}
