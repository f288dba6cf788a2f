package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"text"}, cfg.Index.TextFields)
	assert.Equal(t, 1000, cfg.Limits.VisitBase)
	assert.Equal(t, 10, cfg.Limits.PerPosition)
	assert.Equal(t, 1.2, cfg.Group.Growth)
	assert.Equal(t, 1.0, cfg.Group.BatchStart)
	assert.Equal(t, 5.0, cfg.Group.FrequentStart)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
index:
  dir: /tmp/idx
  textFields: [body, title]
limits:
  visitBase: 50
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/idx", cfg.Index.Dir)
	assert.Equal(t, []string{"body", "title"}, cfg.Index.TextFields)
	assert.Equal(t, 50, cfg.Limits.VisitBase)
	assert.Equal(t, 10, cfg.Limits.PerPosition, "unset values keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SS_INDEX_DIR", "/env/dir")
	t.Setenv("SS_INDEX_TEXT_FIELDS", "a,b")
	t.Setenv("SS_LIMITS_PER_POSITION", "3")
	t.Setenv("SS_METRICS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/dir", cfg.Index.Dir)
	assert.Equal(t, []string{"a", "b"}, cfg.Index.TextFields)
	assert.Equal(t, 3, cfg.Limits.PerPosition)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("group:\n  growth: 0.5\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
