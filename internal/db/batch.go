package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// UpsertOutcome reports what an upsert did to storage.
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota + 1
	Updated
	Unchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// UpsertCounts aggregates outcomes of a multi-record upsert.
type UpsertCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Batch is one storage transaction. Writes are visible inside the batch
// (generated ids are assigned immediately) but only become durable on Commit.
// A Batch must be ended with Commit or Rollback; Rollback after Commit
// returns sql.ErrTxDone.
type Batch struct {
	tx      *sql.Tx
	dialect *Dialect
	logger  *slog.Logger
	now     func() time.Time

	release func()
	once    sync.Once
}

// BeginBatch starts a write transaction. Only one batch runs at a time per DB.
func (db *DB) BeginBatch(ctx context.Context) (*Batch, error) {
	if err := db.lockWrite(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire write lock: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		db.unlockWrite()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &Batch{
		tx:      tx,
		dialect: db.dialect,
		logger:  db.logger,
		now:     db.now,
		release: db.unlockWrite,
	}, nil
}

// Commit makes every write of the batch durable.
func (b *Batch) Commit() error {
	defer b.finish()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards every write of the batch.
func (b *Batch) Rollback() error {
	defer b.finish()
	return b.tx.Rollback()
}

func (b *Batch) finish() {
	b.once.Do(b.release)
}

const departureSavepoint = "departure_upsert"

func (b *Batch) savepoint(ctx context.Context, stmt string) error {
	_, err := b.tx.ExecContext(ctx, stmt+" "+departureSavepoint)
	return err
}
