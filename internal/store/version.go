package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"github.com/roach88/aggql/internal/metadata"
)

// TableVersion returns the freshness marker of t.
//
// A table with a VersionQuery runs it and uses the single value it
// returns. Otherwise the table_versions row for t.Name is used. ok is
// false when neither yields a value.
func (s *Store) TableVersion(ctx context.Context, t *metadata.Table) (string, bool, error) {
	if t.VersionQuery != "" {
		return s.scanVersion(ctx, t.VersionQuery)
	}
	return s.scanVersion(ctx, `SELECT version FROM table_versions WHERE table_name = ?`, t.Name)
}

func (s *Store) scanVersion(ctx context.Context, query string, args ...any) (string, bool, error) {
	var v any
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read table version: %w", err)
	}
	if v == nil {
		return "", false, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	version, err := cast.ToStringE(v)
	if err != nil {
		return "", false, fmt.Errorf("table version %v: %w", v, err)
	}
	return version, true, nil
}

// SetTableVersion records a new version for a table. Cached results
// keyed by the old version are no longer used.
func (s *Store) SetTableVersion(ctx context.Context, table, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO table_versions (table_name, version) VALUES (?, ?)
		ON CONFLICT (table_name) DO UPDATE SET version = excluded.version
	`, table, version)
	if err != nil {
		return fmt.Errorf("set version of %s: %w", table, err)
	}
	return nil
}
