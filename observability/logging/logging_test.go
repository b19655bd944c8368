package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("p2pnftsd", "test", Options{Output: &buf, Level: "debug"})
	defer closer.Close()

	logger.Debug("loan created", "loan_id", "0x01", Secret("jwt_secret", "hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "loan created", line["message"])
	require.Equal(t, "p2pnftsd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["jwt_secret"])
	require.Contains(t, line, "timestamp")
}

func TestSetupRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p2pnftsd.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("p2pnftsd", "", Options{Output: &buf, File: path})
	logger.Info("started")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, buf.String(), string(raw))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestSecretKeepsEmptyValues(t *testing.T) {
	require.Equal(t, "", Secret("dsn", "").Value.String())
}
