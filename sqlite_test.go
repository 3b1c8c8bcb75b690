package outbox

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE outbox (
	id TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_outbox_processed_at ON outbox (processed_at);
CREATE INDEX idx_outbox_created_at ON outbox (created_at);

CREATE TABLE entity_items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
`

// openTestDB returns a DBContext backed by a fresh sqlite file.
func openTestDB(t *testing.T) (*sql.DB, *DBContext) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db, NewDBContext(db, SQLDialectSQLite)
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func storeEntries(t *testing.T, dbCtx *DBContext, entries ...*Entry) {
	t.Helper()

	writer := NewWriter(dbCtx)
	for _, entry := range entries {
		err := writer.Write(context.Background(), func(ctx context.Context, _ TxQueryer, entryWriter EntryWriter) error {
			return entryWriter.Store(ctx, entry)
		})
		require.NoError(t, err)
	}
}
