package db

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

func TestLoggingConnector_LogsStatements(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewStructuredLogger(&buf, slog.LevelDebug)

	database, err := Connect(context.Background(), Options{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "logged.db"),
		LogSQL: true,
		Logger: logger,
	})
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, database.EnsureSchema(context.Background()))
	_, err = database.GetStationByName(context.Background(), "Oostende")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"sql"`)
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS Stations")
	assert.Contains(t, out, `"args":["Oostende"]`)
}

func TestFormatArg(t *testing.T) {
	assert.Equal(t, "NULL", formatArg(nil))
	assert.Equal(t, "abc", formatArg([]byte("abc")))
	assert.Equal(t, "42", formatArg(int64(42)))
}
