package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesDatabaseWithBookkeeping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err, "database file should exist")
	assert.Equal(t, DriverSQLite, s.Driver())

	var name string
	require.NoError(t, s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", "table_versions",
	).Scan(&name))
	assert.Equal(t, "table_versions", name)
}

// Reopening keeps recorded versions and the schema version.
func TestOpen_ReopenKeepsVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetTableVersion(ctx, "playerStats", "v7"))
	require.NoError(t, s.Close())

	for i := 0; i < 2; i++ {
		s, err = Open(path)
		require.NoError(t, err, "reopen %d", i)
		require.NoError(t, s.verifyPragma("user_version", "1"))

		rows, err := s.Query(ctx, "SELECT version FROM table_versions WHERE table_name = ?", "playerStats")
		require.NoError(t, err)
		assert.Equal(t, []map[string]any{{"version": "v7"}}, rows)
		require.NoError(t, s.Close())
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/stats.db")
	require.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer s.Close()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.pragma, tt.want))
		})
	}
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close(), "closing a store without a database")

	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	// A second close must not panic.
	_ = s.Close()
}
