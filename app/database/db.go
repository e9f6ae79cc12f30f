package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB wraps the connection pool with a statement builder using the
// dialect's placeholder format.
type DB struct {
	*sql.DB
	Dialect Dialect
	builder sq.StatementBuilderType
}

// NewConnection opens and pings a database. For SQLite the DSN is a file
// path; foreign keys are enabled and the pool is limited to one connection.
func NewConnection(driver, dsn string) (*DB, error) {
	dialect := Dialect(strings.ToLower(strings.TrimSpace(driver)))

	var (
		db  *sql.DB
		err error
	)

	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Debug("Database connected", "driver", dialect)

	return newDB(db, dialect), nil
}

func newDB(db *sql.DB, dialect Dialect) *DB {
	placeholder := sq.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}

	return &DB{
		DB:      db,
		Dialect: dialect,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// sqlizer is implemented by every squirrel builder.
type sqlizer interface {
	ToSql() (string, []interface{}, error)
}

func (db *DB) exec(ctx context.Context, q sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.ExecContext(ctx, query, args...)
}

func (db *DB) query(ctx context.Context, q sqlizer) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.QueryContext(ctx, query, args...)
}

func (db *DB) queryRow(ctx context.Context, q sqlizer) (*sql.Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.QueryRowContext(ctx, query, args...), nil
}
