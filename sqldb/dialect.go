// Package sqldb holds the SQL plumbing shared by the outbox and the projection
// stores: dialect specific query fragments, identifier formatting and thin
// adapters over database/sql that make transactions easy to fake in tests.
package sqldb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// SQLDialect represents a SQL database dialect.
type SQLDialect string

// Supported database dialects.
const (
	SQLDialectPostgres  SQLDialect = "postgres"
	SQLDialectMySQL     SQLDialect = "mysql"
	SQLDialectMariaDB   SQLDialect = "mariadb"
	SQLDialectSQLite    SQLDialect = "sqlite"
	SQLDialectOracle    SQLDialect = "oracle"
	SQLDialectSQLServer SQLDialect = "sqlserver"
)

// Placeholder returns the bind parameter marker for the given 1-based index.
func (d SQLDialect) Placeholder(index int) string {
	switch d {
	case SQLDialectPostgres:
		return fmt.Sprintf("$%d", index)

	case SQLDialectOracle:
		return fmt.Sprintf(":%d", index)

	case SQLDialectSQLServer:
		return fmt.Sprintf("@p%d", index)

	default:
		return "?"
	}
}

// Placeholders returns count markers starting at index from, joined by ", ".
func (d SQLDialect) Placeholders(from, count int) string {
	placeholders := make([]string, 0, count)
	for i := 0; i < count; i++ {
		placeholders = append(placeholders, d.Placeholder(from+i))
	}
	return strings.Join(placeholders, ", ")
}

// PlaceholderFormat returns the squirrel placeholder format matching the dialect.
func (d SQLDialect) PlaceholderFormat() squirrel.PlaceholderFormat {
	switch d {
	case SQLDialectPostgres:
		return squirrel.Dollar
	case SQLDialectOracle:
		return squirrel.Colon
	case SQLDialectSQLServer:
		return squirrel.AtP
	default:
		return squirrel.Question
	}
}

// Builder returns a squirrel statement builder bound to the dialect placeholders.
func (d SQLDialect) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(d.PlaceholderFormat())
}

// FormatID converts a UUID to the representation stored by the dialect.
func (d SQLDialect) FormatID(id uuid.UUID) any {
	switch d {
	case SQLDialectMySQL, SQLDialectOracle, SQLDialectSQLServer:
		bytes, _ := id.MarshalBinary() // Convert UUID to binary for better storage
		return bytes
	case SQLDialectPostgres, SQLDialectMariaDB:
		return id // Native support
	default:
		return id.String()
	}
}

// FormatIDs applies FormatID to every id.
func (d SQLDialect) FormatIDs(ids []uuid.UUID) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, d.FormatID(id))
	}
	return args
}

// WithLimit wraps a "SELECT <columns> FROM ... ORDER BY ..." statement body so that it
// returns at most limit rows, limit being bound at the given placeholder index.
//
// selectList and rest are the parts before and after the column list, e.g.
// WithLimit("id, payload", "FROM outbox ORDER BY created_at", 1).
func (d SQLDialect) WithLimit(selectList, rest string, index int) string {
	limit := d.Placeholder(index)

	switch d {
	case SQLDialectOracle:
		return fmt.Sprintf("SELECT %s %s FETCH FIRST %s ROWS ONLY", selectList, rest, limit)

	case SQLDialectSQLServer:
		return fmt.Sprintf("SELECT TOP (%s) %s %s", limit, selectList, rest)

	default:
		return fmt.Sprintf("SELECT %s %s LIMIT %s", selectList, rest, limit)
	}
}

var sqlIdentifierRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier reports whether name can be used as an unquoted table name.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if !sqlIdentifierRegexp.MatchString(name) {
		return fmt.Errorf(
			"invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*",
			name,
		)
	}
	return nil
}
