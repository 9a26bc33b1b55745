package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// ConfigRepository handles the server-side configuration key/value store.
type ConfigRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(db *sql.DB, logger *zap.Logger) *ConfigRepository {
	return &ConfigRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the raw JSON value stored under key, or ok=false when unset.
func (r *ConfigRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores the raw JSON value under key, replacing any previous value.
func (r *ConfigRepository) Set(key, value string) error {
	query := `
		INSERT INTO app_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := r.db.Exec(query, key, value); err != nil {
		r.logger.Error("Failed to set config", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

// All returns every stored configuration entry.
func (r *ConfigRepository) All() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM app_config")
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		entries[key] = value
	}
	return entries, rows.Err()
}
