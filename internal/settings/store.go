package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Store reads and writes versioned settings documents.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, int, error)
	GetAll(ctx context.Context) (map[string]json.RawMessage, int, error)
	Set(ctx context.Context, key string, value json.RawMessage) (int, error)
}

// ErrNotFound is returned when a settings key has no stored value.
var ErrNotFound = errors.New("settings: key not found")

// SQLStore is the Postgres-backed settings store. Every write bumps the
// per-key version; the snapshot version is the maximum across keys.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, key string) (json.RawMessage, int, error) {
	var value []byte
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version FROM settings WHERE key = $1
	`, key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, version, nil
}

func (s *SQLStore) GetAll(ctx context.Context) (map[string]json.RawMessage, int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, version FROM settings`)
	if err != nil {
		return nil, 0, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	maxVersion := 0
	for rows.Next() {
		var key string
		var value []byte
		var version int
		if err := rows.Scan(&key, &value, &version); err != nil {
			return nil, 0, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = value
		if version > maxVersion {
			maxVersion = version
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate settings: %w", err)
	}
	return out, maxVersion, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value json.RawMessage) (int, error) {
	if !json.Valid(value) {
		return 0, fmt.Errorf("set setting %s: value is not valid JSON", key)
	}
	var version int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO settings (key, value, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			version = settings.version + 1,
			updated_at = NOW()
		RETURNING version
	`, key, []byte(value)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("set setting %s: %w", key, err)
	}
	return version, nil
}
