package outbox

import (
	"strings"
	"testing"
)

func TestDBContextTableName(t *testing.T) {
	t.Run("defaults to outbox", func(t *testing.T) {
		dbCtx := NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres)

		if dbCtx.tableName != "outbox" {
			t.Errorf("expected default table name 'outbox', got %q", dbCtx.tableName)
		}
	})

	t.Run("custom table name is used in every query", func(t *testing.T) {
		dbCtx := NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres, WithTableName("sender_outbox"))

		queries := []string{
			dbCtx.buildInsertQuery(),
			dbCtx.buildSelectPendingQuery(),
			dbCtx.buildMarkProcessedQuery(1),
			dbCtx.buildIncrementRetryQuery(1),
			dbCtx.buildCountPendingQuery(),
		}
		for _, q := range queries {
			if !strings.Contains(q, "sender_outbox") {
				t.Errorf("expected query to use custom table, got %q", q)
			}
		}
	})

	t.Run("invalid table name panics", func(t *testing.T) {
		for _, name := range []string{"", "123outbox", "schema.outbox", "outbox; DROP TABLE x"} {
			func() {
				defer func() {
					if recover() == nil {
						t.Errorf("expected panic for table name %q", name)
					}
				}()
				_ = NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres, WithTableName(name))
			}()
		}
	})
}

func TestDBContextQueries(t *testing.T) {
	tests := []struct {
		dialect     SQLDialect
		insert      string
		pending     string
		markDone    string
		incrementBy string
	}{
		{
			dialect:     SQLDialectPostgres,
			insert:      "VALUES ($1, $2, $3, $4, $5, $6, $7)",
			pending:     "LIMIT $1",
			markDone:    "SET processed_at = $1 WHERE id IN ($2, $3)",
			incrementBy: "WHERE id IN ($1, $2)",
		},
		{
			dialect:     SQLDialectMySQL,
			insert:      "VALUES (?, ?, ?, ?, ?, ?, ?)",
			pending:     "LIMIT ?",
			markDone:    "SET processed_at = ? WHERE id IN (?, ?)",
			incrementBy: "WHERE id IN (?, ?)",
		},
		{
			dialect:     SQLDialectSQLite,
			insert:      "VALUES (?, ?, ?, ?, ?, ?, ?)",
			pending:     "LIMIT ?",
			markDone:    "SET processed_at = ? WHERE id IN (?, ?)",
			incrementBy: "WHERE id IN (?, ?)",
		},
		{
			dialect:     SQLDialectOracle,
			insert:      "VALUES (:1, :2, :3, :4, :5, :6, :7)",
			pending:     "FETCH FIRST :1 ROWS ONLY",
			markDone:    "SET processed_at = :1 WHERE id IN (:2, :3)",
			incrementBy: "WHERE id IN (:1, :2)",
		},
		{
			dialect:     SQLDialectSQLServer,
			insert:      "VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)",
			pending:     "SELECT TOP (@p1)",
			markDone:    "SET processed_at = @p1 WHERE id IN (@p2, @p3)",
			incrementBy: "WHERE id IN (@p1, @p2)",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			dbCtx := NewDBContextWithDB(&fakeDB{}, tt.dialect)

			if q := dbCtx.buildInsertQuery(); !strings.Contains(q, tt.insert) {
				t.Errorf("insert query %q does not contain %q", q, tt.insert)
			}

			pending := dbCtx.buildSelectPendingQuery()
			if !strings.Contains(pending, tt.pending) {
				t.Errorf("pending query %q does not contain %q", pending, tt.pending)
			}
			if !strings.Contains(pending, "processed_at IS NULL") {
				t.Errorf("pending query %q does not filter processed entries", pending)
			}
			if !strings.Contains(pending, "ORDER BY created_at ASC, id ASC") {
				t.Errorf("pending query %q is not ordered oldest first", pending)
			}

			if q := dbCtx.buildMarkProcessedQuery(2); !strings.Contains(q, tt.markDone) {
				t.Errorf("mark processed query %q does not contain %q", q, tt.markDone)
			}

			q := dbCtx.buildIncrementRetryQuery(2)
			if !strings.Contains(q, tt.incrementBy) || !strings.Contains(q, "retry_count = retry_count + 1") {
				t.Errorf("increment retry query %q does not contain %q", q, tt.incrementBy)
			}
		})
	}
}
