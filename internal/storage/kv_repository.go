package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// KVRepository is a small durable key-value store over key_value_cache,
// used for processing checkpoints and other bookkeeping that must survive
// restarts.
type KVRepository struct {
	db *PostgresDB
}

// NewKVRepository creates a new key-value repository.
func NewKVRepository(db *PostgresDB) *KVRepository {
	return &KVRepository{db: db}
}

// Get returns the value for a key, with found=false for a missing key.
func (r *KVRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT value FROM key_value_cache WHERE name = $1`, key,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores or overwrites a key.
func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO key_value_cache (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM key_value_cache WHERE name = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
