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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: streetpano
  user: u
  password: p
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, StrategyOnDemand, cfg.Process.DerivatesStrategy)
	assert.Equal(t, 4, cfg.Process.WorkerCount)
	assert.Equal(t, time.Second, cfg.Process.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Blur.Timeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 5000
process:
  derivates_strategy: ON_DEMAND
`)

	t.Setenv("PANO_SERVER_PORT", "8080")
	t.Setenv("PANO_API_KEY", "secret")
	t.Setenv("PANO_PICTURE_PROCESS_DERIVATES_STRATEGY", "PREPROCESS")
	t.Setenv("PANO_API_BLUR_URL", "http://blur:5500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, StrategyPreprocess, cfg.Process.DerivatesStrategy)
	assert.Equal(t, "http://blur:5500", cfg.Blur.URL)
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, `
process:
  derivates_strategy: SOMETIMES
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "pano", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/pano?sslmode=disable", d.DSN())
}
