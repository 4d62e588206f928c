package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lineage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

// clearEnv blanks the overrides; ApplyEnv ignores empty values.
func clearEnv(t *testing.T) {
	for _, k := range []string{EnvDatabase, EnvRepository, EnvLogLevel, EnvCaching} {
		t.Setenv(k, "")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Query.BatchSize)
	assert.Equal(t, 1000, cfg.Runner.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Transport.SafeOpenInterval)
	assert.Empty(t, cfg.Repository.Path)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/lineage/db.sqlite
repository:
  path: /var/lib/lineage/objects
caching:
  enabled: true
  subtypes: [process.calculation.calcfunction]
runner:
  max_steps: 50
transport:
  safe_open_interval: 250ms
log:
  level: debug
  format: json
`)
	clearEnv(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/lineage/db.sqlite", cfg.Database.Path)
	assert.Equal(t, "/var/lib/lineage/objects", cfg.Repository.Path)
	assert.True(t, cfg.Caching.Enabled)
	assert.Equal(t, []string{"process.calculation.calcfunction"}, cfg.Caching.Subtypes)
	assert.Equal(t, 50, cfg.Runner.MaxSteps)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.SafeOpenInterval)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched sections keep defaults
	assert.Equal(t, 100, cfg.Query.BatchSize)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Runner, cfg.Runner)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "databse:\n  path: x\n", "databse"},
		{"bad batch size", "query:\n  batch_size: 0\n", "query.batch_size"},
		{"bad max steps", "runner:\n  max_steps: -1\n", "runner.max_steps"},
		{"bad level", "log:\n  level: loud\n", "unknown log level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
	}
	clearEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDatabase:   "/tmp/env.db",
		EnvRepository: "/tmp/objects",
		EnvLogLevel:   "WARN",
		EnvCaching:    "true",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/objects", cfg.Repository.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Caching.Enabled)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.Equal(t, Default(), cfg)

	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvCaching {
			return "maybe", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestEncode_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Caching.Enabled = true
	data, err := cfg.Encode()
	require.NoError(t, err)

	back := Default()
	require.NoError(t, back.decode(data))
	assert.Equal(t, cfg, back)
}
