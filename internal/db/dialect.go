package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Dialect captures the few places where the supported SQL engines differ.
// All queries in this package are written with `?` placeholders and go
// through Rebind before execution.
type Dialect struct {
	Name       string // value of DB_DRIVER
	DriverName string // database/sql driver name

	schemaFile  string
	numbered    bool // $1, $2 placeholders
	returningID bool // INSERT ... RETURNING id instead of LastInsertId
	textTimes   bool // timestamps stored as RFC3339 TEXT
	tablesQuery string
}

var dialects = map[string]*Dialect{
	"sqlite": {
		Name:        "sqlite",
		DriverName:  "sqlite",
		schemaFile:  "schema/sqlite.sql",
		textTimes:   true,
		tablesQuery: "SELECT name FROM sqlite_master WHERE type = 'table'",
	},
	"postgres": {
		Name:        "postgres",
		DriverName:  "pgx",
		schemaFile:  "schema/postgres.sql",
		numbered:    true,
		returningID: true,
		tablesQuery: "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema()",
	},
	"mysql": {
		Name:        "mysql",
		DriverName:  "mysql",
		schemaFile:  "schema/mysql.sql",
		tablesQuery: "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()",
	},
}

// LookupDialect returns the dialect registered for a DB_DRIVER value.
func LookupDialect(name string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", name)
	}
	return d, nil
}

// Rebind rewrites `?` placeholders into the dialect's native form.
func (d *Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// buildDSN adds the connection parameters each engine needs.
func (d *Dialect) buildDSN(dsn string) (string, error) {
	switch d.Name {
	case "sqlite":
		if strings.Contains(dsn, "?") {
			return dsn, nil
		}
		// WAL + busy timeout so API reads can run next to the poller
		return dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)" +
			"&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid mysql DSN: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN(), nil
	default:
		return dsn, nil
	}
}

// schemaStatements returns the embedded schema split into single statements.
func (d *Dialect) schemaStatements() ([]string, error) {
	raw, err := schemaFS.ReadFile(d.schemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", d.schemaFile, err)
	}

	var stmts []string
	for _, part := range strings.Split(string(raw), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

// bindTime converts a timestamp into the value stored for this dialect.
func (d *Dialect) bindTime(t time.Time) any {
	if d.textTimes {
		return t.UTC().Format(time.RFC3339)
	}
	return t.UTC()
}

func (d *Dialect) bindTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.bindTime(*t)
}

// insertID runs an INSERT and returns the generated primary key.
func (d *Dialect) insertID(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	if d.returningID {
		var id int64
		if err := q.QueryRowContext(ctx, d.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := q.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
