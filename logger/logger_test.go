package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/config"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "json", slog.LevelInfo, false)

	log.Debug("hidden")
	log.Info("book borrowed", "book_id", 5)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"book borrowed"`)
	assert.Contains(t, out, `"book_id":5`)
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.log")
	log, closer, err := New(config.LogConfig{Level: "debug", Format: "text", Output: "file", FilePath: path})
	require.NoError(t, err)

	log.Debug("opened", "driver", "sqlite3")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "driver=sqlite3"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "loud", Output: "stderr"})
	assert.Error(t, err)

	_, _, err = New(config.LogConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)
}
