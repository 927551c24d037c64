package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	t.Setenv(PostgresDSNEnv, "")

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), conf)
	assert.NoError(t, conf.Validate())
}

func TestLoadOverlaysFile(t *testing.T) {
	t.Setenv(PostgresDSNEnv, "postgres://scanner@db/issuers")

	path := filepath.Join(t.TempDir(), "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input: lists/top-10k.csv
concurrency: 250
rate: 500
timeouts:
  request: 8s
  tls_handshake: 3s
log:
  level: debug
  format: json
metrics:
  addr: ":9090"
postgres:
  dsn: postgres://ignored
  ensure_schema: true
`), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lists/top-10k.csv", conf.Input)
	assert.Equal(t, "statistics.txt", conf.Output)
	assert.Equal(t, 250, conf.Concurrency)
	assert.Equal(t, 500.0, conf.Rate)
	assert.Equal(t, 8*time.Second, conf.Timeouts.Request)
	assert.Equal(t, 3*time.Second, conf.Timeouts.TLSHandshake)
	assert.Equal(t, "debug", conf.Log.Level)
	assert.Equal(t, ":9090", conf.Metrics.Addr)
	assert.Equal(t, "postgres://scanner@db/issuers", conf.Postgres.DSN)
	assert.True(t, conf.Postgres.EnsureSchema)
	assert.NoError(t, conf.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurency: 5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	conf := Default()
	conf.Input = ""
	conf.Concurrency = 0
	conf.Rate = -1
	conf.Log.Format = "xml"
	conf.Timeouts.Dial = -time.Second

	err := conf.Validate()
	require.Error(t, err)
	for _, want := range []string{"input", "concurrency", "rate", "log format", "dial"} {
		assert.Contains(t, err.Error(), want)
	}
}
