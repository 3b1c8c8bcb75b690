// Package projection maintains the read-side view of entity items built from
// the events published by the sender service.
package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oagudo/outboxsync/sqldb"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("projection record not found")

// Record is one row of the projection table.
type Record struct {
	// ID is the id of the originating entity and the idempotency key.
	ID uuid.UUID

	Name  string
	Value float64

	// CreatedAt is the creation time carried by the event.
	CreatedAt time.Time

	// ReceivedAt is the local time the first event for ID was applied.
	// It is never changed by later events.
	ReceivedAt time.Time
}

// Store persists projection records.
type Store struct {
	db        sqldb.DB
	dialect   sqldb.SQLDialect
	tableName string
}

// StoreOption is a function that configures a Store instance.
type StoreOption func(*Store)

// WithTableName sets the projection table name. Default is "entity_items_projection".
// An invalid table name causes a panic when creating the Store.
func WithTableName(tableName string) StoreOption {
	return func(s *Store) {
		s.tableName = tableName
	}
}

// NewStore creates a Store from a standard *sql.DB.
func NewStore(db *sql.DB, dialect sqldb.SQLDialect, opts ...StoreOption) *Store {
	return NewStoreWithDB(sqldb.NewDB(db), dialect, opts...)
}

// NewStoreWithDB creates a Store over a custom DB implementation.
func NewStoreWithDB(db sqldb.DB, dialect sqldb.SQLDialect, opts ...StoreOption) *Store {
	s := &Store{
		db:        db,
		dialect:   dialect,
		tableName: "entity_items_projection",
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := sqldb.ValidateIdentifier(s.tableName); err != nil {
		panic(err)
	}

	return s
}

const recordColumns = "id, name, value, created_at, received_at"

// Upsert inserts rec, or overwrites the name and value of the existing record
// with the same id. created_at and received_at of an existing record are kept.
// The write is committed before Upsert returns.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	return sqldb.WithTx(ctx, s.db, func(ctx context.Context, tx sqldb.TxQueryer) error {
		_, err := tx.ExecContext(ctx, s.buildUpsertQuery(),
			s.dialect.FormatID(rec.ID),
			rec.Name,
			rec.Value,
			rec.CreatedAt,
			rec.ReceivedAt,
		)
		if err != nil {
			return fmt.Errorf("upserting projection %s: %w", rec.ID, err)
		}
		return nil
	})
}

// List returns every record, most recently received first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	query, args, err := s.dialect.Builder().
		Select(recordColumns).
		From(s.tableName).
		OrderBy("received_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	return s.query(ctx, query, args...)
}

// Get returns the record with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	query, args, err := s.dialect.Builder().
		Select(recordColumns).
		From(s.tableName).
		Where("id = ?", s.dialect.FormatID(id)).
		ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("building get query: %w", err)
	}

	records, err := s.query(ctx, query, args...)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}

	return records[0], nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying projection: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Value, &rec.CreatedAt, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning projection: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projection: %w", err)
	}

	return records, nil
}

func (s *Store) buildUpsertQuery() string {
	values := s.dialect.Placeholders(1, 5)

	switch s.dialect {
	case sqldb.SQLDialectMySQL, sqldb.SQLDialectMariaDB:
		// nolint:gosec
		return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
			ON DUPLICATE KEY UPDATE name = VALUES(name), value = VALUES(value)`,
			s.tableName, recordColumns, values)

	case sqldb.SQLDialectOracle:
		// nolint:gosec
		return fmt.Sprintf(`MERGE INTO %s t
			USING (SELECT :1 AS id, :2 AS name, :3 AS value, :4 AS created_at, :5 AS received_at FROM dual) s
			ON (t.id = s.id)
			WHEN MATCHED THEN UPDATE SET t.name = s.name, t.value = s.value
			WHEN NOT MATCHED THEN INSERT (%s) VALUES (s.id, s.name, s.value, s.created_at, s.received_at)`,
			s.tableName, recordColumns)

	case sqldb.SQLDialectSQLServer:
		// nolint:gosec
		return fmt.Sprintf(`MERGE INTO %s WITH (HOLDLOCK) AS t
			USING (VALUES (%s)) AS s (%s)
			ON t.id = s.id
			WHEN MATCHED THEN UPDATE SET name = s.name, value = s.value
			WHEN NOT MATCHED THEN INSERT (%s) VALUES (s.id, s.name, s.value, s.created_at, s.received_at);`,
			s.tableName, values, recordColumns, recordColumns)

	default:
		// nolint:gosec
		return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, value = excluded.value`,
			s.tableName, recordColumns, values)
	}
}
