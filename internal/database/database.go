// Package database opens the SQL database a service is configured with.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"

	"github.com/oagudo/outboxsync/sqldb"
)

type driver struct {
	name    string
	dialect sqldb.SQLDialect
}

// drivers maps DB_DRIVER values to the registered database/sql driver and
// the SQL dialect spoken through it.
var drivers = map[string]driver{
	"postgres":  {name: "postgres", dialect: sqldb.SQLDialectPostgres},
	"pgx":       {name: "pgx", dialect: sqldb.SQLDialectPostgres},
	"mysql":     {name: "mysql", dialect: sqldb.SQLDialectMySQL},
	"mariadb":   {name: "mysql", dialect: sqldb.SQLDialectMariaDB},
	"oracle":    {name: "oracle", dialect: sqldb.SQLDialectOracle},
	"sqlserver": {name: "sqlserver", dialect: sqldb.SQLDialectSQLServer},
	"sqlite":    {name: "sqlite", dialect: sqldb.SQLDialectSQLite},
}

// Dialect returns the SQL dialect used with the given DB_DRIVER value.
func Dialect(driverName string) (sqldb.SQLDialect, error) {
	d, ok := drivers[driverName]
	if !ok {
		return "", fmt.Errorf("unsupported database driver %q", driverName)
	}
	return d.dialect, nil
}

// Open opens and pings the database.
func Open(ctx context.Context, driverName, dsn string, maxOpenConns int) (*sql.DB, sqldb.SQLDialect, error) {
	d, ok := drivers[driverName]
	if !ok {
		return nil, "", fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s database: %w", driverName, err)
	}

	if d.dialect == sqldb.SQLDialectSQLite {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("pinging %s database: %w", driverName, err)
	}

	return db, d.dialect, nil
}
