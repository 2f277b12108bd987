package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
)

// Options configures Connect.
type Options struct {
	Driver string // sqlite, postgres or mysql
	DSN    string // file path for sqlite
	LogSQL bool   // log every statement at debug level
	Logger *slog.Logger
}

// OptionsFromConfig maps service configuration onto connection options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Driver: cfg.DBDriver,
		DSN:    cfg.DSN(),
		LogSQL: cfg.DBLogSQL,
		Logger: logger,
	}
}

const sqliteMaxConns = 4

// DB is the explicitly constructed storage handle shared by the ingestion
// pipeline, the station sync and the API. It owns the connection pool for
// its whole lifetime; callers must Close it.
type DB struct {
	conn    *sql.DB
	dialect *Dialect
	logger  *slog.Logger
	writeMu chan struct{} // one write batch at a time per process
	now     func() time.Time
}

// Connect opens and pings the database for the given driver.
func Connect(ctx context.Context, opts Options) (*DB, error) {
	dialect, err := LookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn, err := dialect.buildDSN(opts.DSN)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	if opts.LogSQL {
		connector, err := NewLoggingConnector(dialect.DriverName, dsn, logger)
		if err != nil {
			return nil, err
		}
		conn = sql.OpenDB(connector)
	} else {
		conn, err = sql.Open(dialect.DriverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	if dialect.Name == "sqlite" {
		// WAL lets readers run beside the open batch; writers are
		// serialized by writeMu and take the lock at BEGIN.
		conn.SetMaxOpenConns(sqliteMaxConns)
		conn.SetMaxIdleConns(sqliteMaxConns)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database", "driver", dialect.Name)
	return &DB{
		conn:    conn,
		dialect: dialect,
		logger:  logger,
		writeMu: make(chan struct{}, 1),
		now:     time.Now,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// lockWrite acquires the process-wide write slot or fails when ctx is done.
// Must be paired with unlockWrite.
func (db *DB) lockWrite(ctx context.Context) error {
	select {
	case db.writeMu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unlockWrite releases the write slot.
func (db *DB) unlockWrite() {
	<-db.writeMu
}

// EnsureSchema creates tables and indexes if they don't exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts, err := db.dialect.schemaStatements()
	if err != nil {
		return err
	}

	if err := db.lockWrite(ctx); err != nil {
		return err
	}
	defer db.unlockWrite()

	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	db.logger.Info("database schema ensured", "driver", db.dialect.Name, "statements", len(stmts))
	return nil
}
