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
	path := filepath.Join(t.TempDir(), "procuredata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Fiware.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.Fiware.TokenMargin)
	assert.Equal(t, "procuredata", cfg.Fiware.Tenant)
	assert.True(t, cfg.Workflow.AutoSubmit)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.Equal(t, "procuredata.transactions", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Fiware.Host)
	assert.Equal(t, "test", cfg.Environment)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
fiware:
  host: http://from-file:1026
workflow:
  auto_submit: false
`)
	t.Setenv("PROCUREDATA_SERVER_PORT", "9100")
	t.Setenv("FIWARE_USER", "admin@test.com")
	t.Setenv("FIWARE_PASS", "secret")
	t.Setenv("IDM_HOST", "http://keyrock:3005")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://from-file:1026", cfg.Fiware.Host)
	assert.Equal(t, "admin@test.com", cfg.Fiware.User)
	assert.Equal(t, "secret", cfg.Fiware.Password)
	assert.Equal(t, "http://keyrock:3005", cfg.IDMHost())
	assert.False(t, cfg.Workflow.AutoSubmit)
}

func TestLoadConfig_LegacyHostVariable(t *testing.T) {
	t.Setenv("FIWARE_HOST", "http://orion:1026")
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "http://orion:1026", cfg.Fiware.Host)
	assert.Equal(t, "http://orion:1026", cfg.IDMHost())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"unknown driver", "database:\n  driver: mongo\n"},
		{"margin over ttl", "fiware:\n  token_ttl: 1m\n  token_margin: 5m\n"},
		{"oidc without issuer", "auth:\n  mode: oidc\n"},
		{"unknown auth mode", "auth:\n  mode: magic\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"typesense without key", "typesense:\n  enabled: true\n"},
		{"sample rate", "tracing:\n  sample_rate: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}

	t.Run("memory driver needs no database", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "database:\n  driver: memory\n  host: \"\"\n"))
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Database.Driver)
	})
}

func TestGetDatabaseURL(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Username: "u", Password: "p", Host: "db", Port: 5432, Database: "procuredata", SSLMode: "disable",
	}}
	assert.Equal(t, "postgres://u:p@db:5432/procuredata?sslmode=disable", cfg.GetDatabaseURL())
}
