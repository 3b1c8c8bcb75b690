package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oagudo/outboxsync/sqldb"
)

// Service selects the tables a service needs.
type Service string

const (
	// Sender owns entity_items and the outbox.
	Sender Service = "sender"
	// Receiver owns entity_items_projection.
	Receiver Service = "receiver"
)

// ErrNoSchema is returned by Schema for dialects whose tables must be created
// by hand.
var ErrNoSchema = errors.New("no bundled schema for dialect")

type columnTypes struct {
	id        string
	text      string
	blob      string
	float     string
	timestamp string
}

var schemaTypes = map[sqldb.SQLDialect]columnTypes{
	sqldb.SQLDialectPostgres: {id: "UUID", text: "VARCHAR(255)", blob: "BYTEA", float: "DOUBLE PRECISION", timestamp: "TIMESTAMPTZ"},
	sqldb.SQLDialectMySQL:    {id: "BINARY(16)", text: "VARCHAR(255)", blob: "BLOB", float: "DOUBLE", timestamp: "DATETIME(6)"},
	sqldb.SQLDialectMariaDB:  {id: "UUID", text: "VARCHAR(255)", blob: "BLOB", float: "DOUBLE", timestamp: "DATETIME(6)"},
	sqldb.SQLDialectSQLite:   {id: "TEXT", text: "TEXT", blob: "BLOB", float: "REAL", timestamp: "TIMESTAMP"},
}

const senderSchema = `CREATE TABLE IF NOT EXISTS entity_items (
	id {{id}} NOT NULL PRIMARY KEY,
	name {{text}} NOT NULL,
	value {{float}} NOT NULL,
	created_at {{timestamp}} NOT NULL
);
CREATE TABLE IF NOT EXISTS outbox (
	id {{id}} NOT NULL PRIMARY KEY,
	aggregate_id {{text}} NOT NULL,
	type {{text}} NOT NULL,
	payload {{blob}} NOT NULL,
	created_at {{timestamp}} NOT NULL,
	processed_at {{timestamp}} NULL,
	retry_count INT NOT NULL DEFAULT 0
);
CREATE INDEX {{ifnotexists}}idx_outbox_processed_at ON outbox (processed_at);
CREATE INDEX {{ifnotexists}}idx_outbox_created_at ON outbox (created_at);
`

const receiverSchema = `CREATE TABLE IF NOT EXISTS entity_items_projection (
	id {{id}} NOT NULL PRIMARY KEY,
	name {{text}} NOT NULL,
	value {{float}} NOT NULL,
	created_at {{timestamp}} NOT NULL,
	received_at {{timestamp}} NOT NULL
);
CREATE INDEX {{ifnotexists}}idx_projection_received_at ON entity_items_projection (received_at);
`

// Schema returns the DDL statements creating the tables of service.
func Schema(dialect sqldb.SQLDialect, service Service) ([]string, error) {
	types, ok := schemaTypes[dialect]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoSchema, dialect)
	}

	var template string
	switch service {
	case Sender:
		template = senderSchema
	case Receiver:
		template = receiverSchema
	default:
		return nil, fmt.Errorf("unknown service %q", service)
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS; its indexes are only created
	// by the first migration, which Migrate detects through the table check.
	ifNotExists := "IF NOT EXISTS "
	if dialect == sqldb.SQLDialectMySQL {
		ifNotExists = ""
	}

	ddl := strings.NewReplacer(
		"{{id}}", types.id,
		"{{text}}", types.text,
		"{{blob}}", types.blob,
		"{{float}}", types.float,
		"{{timestamp}}", types.timestamp,
		"{{ifnotexists}}", ifNotExists,
	).Replace(template)

	var statements []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}

	return statements, nil
}

// Migrate creates the tables of service if they do not exist yet.
func Migrate(ctx context.Context, db sqldb.TxQueryer, dialect sqldb.SQLDialect, service Service) error {
	statements, err := Schema(dialect, service)
	if err != nil {
		return err
	}

	if dialect == sqldb.SQLDialectMySQL {
		exists, err := tableExists(ctx, db, firstTable(service))
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrating %s schema: %w", service, err)
		}
	}

	return nil
}

func firstTable(service Service) string {
	if service == Receiver {
		return "entity_items_projection"
	}
	return "outbox"
}

func tableExists(ctx context.Context, db sqldb.TxQueryer, table string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}
