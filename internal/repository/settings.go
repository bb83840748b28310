package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veleda/stemshop/internal/settings"
)

const getSettingSQL = `SELECT value FROM settings WHERE key = $1`

var _ settings.Store = (*SettingsStore)(nil)

// SettingsStore implements settings.Store backed by PostgreSQL.
// The settings.Provider wrapping it absorbs every error into a default, so
// errors here are informational only.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore returns a SettingsStore that uses the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the raw value stored under key.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.pool.QueryRow(ctx, getSettingSQL, key).Scan(&value); err != nil {
		return "", errors.Wrapf(err, "get setting %q", key)
	}
	return value, nil
}
