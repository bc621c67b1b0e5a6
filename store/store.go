// Package store persists the merged route metadata of finished builds, so a
// result page can be reopened later by key.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hyperlapse/models"
)

// ErrNotFound is returned when no metadata exists for a key
var ErrNotFound = errors.New("metadata not found")

// Store is a sqlite backed metadata store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	metadataTable := `
	CREATE TABLE IF NOT EXISTS route_metadata (
		key TEXT PRIMARY KEY,
		metadata TEXT,
		created_at DATETIME
	);
	`
	if _, err := db.Exec(metadataTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveMetadata stores meta under key, replacing any previous value
func (s *Store) SaveMetadata(ctx context.Context, key string, meta *models.RouteMetadata) error {
	if meta == nil {
		return fmt.Errorf("metadata for %s is nil", key)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO route_metadata (key, metadata, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET metadata = excluded.metadata, created_at = excluded.created_at`,
		key, string(metaJSON), now)
	return err
}

// GetMetadata fetches the metadata stored under key
func (s *Store) GetMetadata(ctx context.Context, key string) (*models.RouteMetadata, error) {
	var metaJSON string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM route_metadata WHERE key = ?`, key).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	var meta models.RouteMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", key, err)
	}
	return &meta, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
