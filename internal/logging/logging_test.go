package logging

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
)

type mockTransaction struct {
	rollbackErr error
	calls       int
}

func (m *mockTransaction) Rollback() error {
	m.calls++
	return m.rollbackErr
}

type errorCloser struct{ err error }

func (e *errorCloser) Close() error { return e.err }

func TestNewLogger(t *testing.T) {
	t.Run("prod writes json with app and env", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, &config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}, "poller")

		logger.Info("hello", "station", "Gent-Sint-Pieters")

		out := buf.String()
		assert.Contains(t, out, `"msg":"hello"`)
		assert.Contains(t, out, `"app":"poller"`)
		assert.Contains(t, out, `"env":"prod"`)
		assert.Contains(t, out, `"station":"Gent-Sint-Pieters"`)
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, &config.Config{AppEnv: "prod", LogLevel: slog.LevelWarn}, "api")

		logger.Info("dropped")
		assert.Empty(t, buf.String())
	})

	t.Run("dev uses text output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, &config.Config{AppEnv: "dev", LogLevel: slog.LevelInfo}, "api")

		logger.Info("ready")
		assert.Contains(t, buf.String(), "ready")
		assert.NotContains(t, buf.String(), `"msg"`)
	})
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "fetch failed", errors.New("boom"), slog.String("station", "Oostende"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"station":"Oostende"`)

	assert.NotPanics(t, func() { LogError(nil, "ignored", errors.New("x")) })
}

func TestLogOperation_SkipsZeroDuration(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogOperation(logger, "batch_complete", slog.Duration("duration", 0), slog.Int("inserted", 3))

	out := buf.String()
	assert.Contains(t, out, `"inserted":3`)
	assert.NotContains(t, out, "duration")
}

func TestSafeRollback(t *testing.T) {
	t.Run("logs unexpected rollback errors", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)

		SafeRollbackWithLogging(&mockTransaction{rollbackErr: assert.AnError}, logger, "ingest_batch")

		out := buf.String()
		assert.Contains(t, out, `"msg":"failed to rollback transaction"`)
		assert.Contains(t, out, `"operation":"ingest_batch"`)
	})

	t.Run("ignores ErrTxDone", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewStructuredLogger(&buf, slog.LevelInfo)

		tx := &mockTransaction{rollbackErr: sql.ErrTxDone}
		SafeRollbackWithLogging(tx, logger, "ingest_batch")

		assert.Equal(t, 1, tx.calls)
		assert.Empty(t, buf.String())
	})
}

func TestSafeClose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	SafeCloseWithLogging(&errorCloser{err: assert.AnError}, logger, "close_body")
	assert.Contains(t, buf.String(), `"msg":"failed to close resource"`)

	buf.Reset()
	SafeCloseWithLogging(&errorCloser{}, logger, "close_body")
	assert.Empty(t, buf.String())
}

func TestHandleDeferredError(t *testing.T) {
	logger := Discard()

	run := func(original error) (err error) {
		defer HandleDeferredError(&err, func() error { return assert.AnError }, logger, "commit")
		return original
	}

	err := run(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit failed")

	original := errors.New("fetch failed")
	assert.Equal(t, original, run(original))
}

func TestContextLogger(t *testing.T) {
	logger := Discard()
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
