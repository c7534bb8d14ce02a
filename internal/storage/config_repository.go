package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"keypool/internal/models"
)

// ConfigRepository handles system configuration rows
type ConfigRepository struct {
	db *DB
}

// NewConfigRepository creates a new config repository
func NewConfigRepository(db *DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// List returns every config row ordered by key
func (r *ConfigRepository) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	query := `
		SELECT id, config_key, config_value, memo, create_time, update_time
		FROM system_configs
		ORDER BY config_key
	`

	var entries []*models.ConfigEntry
	if err := r.db.conn.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	return entries, nil
}

// GetAll returns the flat key/value map
func (r *ConfigRepository) GetAll(ctx context.Context) (map[string]string, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(entries))
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	return values, nil
}

// Get returns a single config value
func (r *ConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	query := r.db.rebind(`SELECT config_value FROM system_configs WHERE config_key = ?`)
	if err := r.db.conn.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, nil
}

// SaveAll upserts every entry of values in one transaction
func (r *ConfigRepository) SaveAll(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	update := r.db.rebind(`UPDATE system_configs SET config_value = ?, update_time = ? WHERE config_key = ?`)
	insert := r.db.rebind(`
		INSERT INTO system_configs (config_key, config_value, memo, create_time, update_time)
		VALUES (?, ?, ?, ?, ?)
	`)

	for _, key := range slices.Sorted(maps.Keys(values)) {
		result, err := tx.ExecContext(ctx, update, values[key], ts, key)
		if err != nil {
			return fmt.Errorf("failed to update config %s: %w", key, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, key, values[key], memoFor(key), ts, ts); err != nil {
			return fmt.Errorf("failed to insert config %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SeedDefaults inserts missing keys and leaves existing values untouched.
// It returns the number of rows inserted.
func (r *ConfigRepository) SeedDefaults(ctx context.Context, defaults map[string]string) (int, error) {
	ts := now()
	query := r.db.rebind(`
		INSERT INTO system_configs (config_key, config_value, memo, create_time, update_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (config_key) DO NOTHING
	`)

	inserted := 0
	for _, key := range slices.Sorted(maps.Keys(defaults)) {
		result, err := r.db.conn.ExecContext(ctx, query, key, defaults[key], memoFor(key), ts, ts)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed config %s: %w", key, err)
		}
		if rows, err := result.RowsAffected(); err == nil {
			inserted += int(rows)
		}
	}
	return inserted, nil
}

func memoFor(key string) *string {
	if memo, ok := models.ConfigDescriptions[key]; ok {
		return &memo
	}
	return nil
}
