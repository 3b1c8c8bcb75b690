package outbox

import (
	"database/sql"
	"fmt"

	"github.com/oagudo/outboxsync/sqldb"
)

// SQLDialect represents a SQL database dialect.
type SQLDialect = sqldb.SQLDialect

// Supported database dialects.
const (
	SQLDialectPostgres  = sqldb.SQLDialectPostgres
	SQLDialectMySQL     = sqldb.SQLDialectMySQL
	SQLDialectMariaDB   = sqldb.SQLDialectMariaDB
	SQLDialectSQLite    = sqldb.SQLDialectSQLite
	SQLDialectOracle    = sqldb.SQLDialectOracle
	SQLDialectSQLServer = sqldb.SQLDialectSQLServer
)

// DBContext holds the database connection, the SQL dialect and the outbox table name.
type DBContext struct {
	db        sqldb.DB
	dialect   SQLDialect
	tableName string
}

// DBContextOption is a function that configures a DBContext instance.
type DBContextOption func(*DBContext)

// WithTableName sets a custom table name for the outbox table.
// Default is "outbox".
// The table name must be a valid SQL identifier matching the pattern [a-zA-Z_][a-zA-Z0-9_]*
// (must start with a letter or underscore, followed by letters, digits, or underscores).
// An invalid table name will cause a panic when creating the DBContext.
func WithTableName(tableName string) DBContextOption {
	return func(c *DBContext) {
		c.tableName = tableName
	}
}

// NewDBContext creates a new DBContext from a standard *sql.DB.
func NewDBContext(db *sql.DB, dialect SQLDialect, opts ...DBContextOption) *DBContext {
	return NewDBContextWithDB(sqldb.NewDB(db), dialect, opts...)
}

// NewDBContextWithDB creates a new DBContext with a custom DB implementation.
// This is useful for users who want to provide their own database abstraction or for testing.
func NewDBContextWithDB(db sqldb.DB, dialect SQLDialect, opts ...DBContextOption) *DBContext {
	c := &DBContext{
		db:        db,
		dialect:   dialect,
		tableName: "outbox",
	}

	for _, opt := range opts {
		opt(c)
	}

	err := sqldb.ValidateIdentifier(c.tableName)
	if err != nil {
		panic(err)
	}

	return c
}

// Dialect returns the SQL dialect used to build queries.
func (c *DBContext) Dialect() SQLDialect {
	return c.dialect
}

// DB returns the underlying database handle.
func (c *DBContext) DB() sqldb.DB {
	return c.db
}

const entryColumns = "id, aggregate_id, type, payload, created_at, processed_at, retry_count"

func (c *DBContext) buildInsertQuery() string {
	// nolint:gosec
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.tableName, entryColumns, c.dialect.Placeholders(1, 7))
}

func (c *DBContext) buildSelectPendingQuery() string {
	rest := fmt.Sprintf(`FROM %s
			WHERE processed_at IS NULL
			ORDER BY created_at ASC, id ASC`, c.tableName)

	return c.dialect.WithLimit(entryColumns, rest, 1)
}

func (c *DBContext) buildMarkProcessedQuery(count int) string {
	// nolint:gosec
	return fmt.Sprintf("UPDATE %s SET processed_at = %s WHERE id IN (%s)",
		c.tableName, c.dialect.Placeholder(1), c.dialect.Placeholders(2, count))
}

func (c *DBContext) buildIncrementRetryQuery(count int) string {
	// nolint:gosec
	return fmt.Sprintf("UPDATE %s SET retry_count = retry_count + 1 WHERE id IN (%s)",
		c.tableName, c.dialect.Placeholders(1, count))
}

func (c *DBContext) buildCountPendingQuery() string {
	// nolint:gosec
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE processed_at IS NULL", c.tableName)
}
