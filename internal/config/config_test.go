package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dwelltime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.Equal(t, "Asia/Jakarta", cfg.Timezone)
	assert.Equal(t, "sql", cfg.Storage.Type)
	assert.Equal(t, "store", cfg.Credentials.Type)
	assert.Equal(t, "8760h", cfg.Credentials.Validity)
	assert.True(t, cfg.Credentials.OpenIssuance)
	assert.Equal(t, int64(10<<20), cfg.Blob.MaxBytes)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
timezone: UTC
storage:
  type: bolt
  path: /tmp/dwelltime.bolt
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "bolt", cfg.Storage.Type)
	assert.Equal(t, "/tmp/dwelltime.bolt", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DWELLTIME_SERVER_HTTP_PORT", "8123")
	t.Setenv("DWELLTIME_CREDENTIALS_OPEN_ISSUANCE", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8123, cfg.Server.HTTPPort)
	assert.False(t, cfg.Credentials.OpenIssuance)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad timezone", "timezone: Mars/Olympus\n"},
		{"bad port", "server:\n  http_port: 70000\n"},
		{"bad storage type", "storage:\n  type: mongo\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"bad duration", "credentials:\n  cache_ttl: soon\n"},
		{"bad credentials type", "credentials:\n  type: ldap\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("later", time.Minute))
}

func TestDefaultsMatchLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg, Defaults())
}

func TestUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
  htp_port: 1
storage:
  tpye: bolt
`)

	unknown, err := UnknownKeys(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"server.htp_port", "storage.tpye"}, unknown)
}
