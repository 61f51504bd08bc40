package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestDB opens a migrated database in a temp dir.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "frontier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
