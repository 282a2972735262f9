package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "library.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Lending.LockWait)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "stderr", cfg.Log.Output)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.yaml")
	content := `
database:
  driver: postgres
  dsn: postgres://localhost/library
  max_open_conns: 4
lending:
  lock_wait: 250ms
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("LIBRARY_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/library", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns)
	assert.Equal(t, 250*time.Millisecond, cfg.Lending.LockWait)
	assert.Equal(t, "error", cfg.Log.Level, "environment overrides the file")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: "sqlite3", Path: "library.db"},
			Lending:  LendingConfig{LockWait: time.Second},
			Log:      LogConfig{Level: "info", Format: "text", Output: "stderr"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"memory driver", func(c *Config) { c.Database.Driver = "memory" }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "pgx" }, true},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, true},
		{"negative lock wait", func(c *Config) { c.Lending.LockWait = -time.Second }, true},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"file output without path", func(c *Config) { c.Log.Output = "file" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
