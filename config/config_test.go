package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/courier/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COURIER_AUTH_MODE", "header")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "courier-api", cfg.AppName)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, config.StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
	assert.Equal(t, 5*time.Second, cfg.DatabaseStatementTimeout)
	assert.False(t, cfg.RedisEnabled)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoadReadsDotEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("COURIER_AUTH_MODE=header\nCOURIER_PORT=8088\nCOURIER_KAFKA_BROKERS=a:9092,b:9092\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("COURIER_AUTH_MODE")
		os.Unsetenv("COURIER_PORT")
		os.Unsetenv("COURIER_KAFKA_BROKERS")
	})

	cfg, err := config.Load(file)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Port)
	assert.Equal(t, "a:9092,b:9092", cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown store", env: map[string]string{"COURIER_AUTH_MODE": "header", "COURIER_STORE_DRIVER": "sqlite"}, want: "store driver"},
		{name: "oidc without issuer", env: map[string]string{"COURIER_AUTH_MODE": "oidc"}, want: "AUTH_ISSUER_URL"},
		{name: "unknown auth", env: map[string]string{"COURIER_AUTH_MODE": "basic"}, want: "auth mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &config.Config{
		DatabaseHost:             "db",
		DatabasePort:             "5432",
		DatabaseUserName:         "courier",
		DatabasePassword:         "p@ss",
		DatabaseName:             "courier",
		DatabaseSSLMode:          "disable",
		DatabaseStatementTimeout: 2 * time.Second,
	}
	assert.Equal(t, "postgres://courier:p%40ss@db:5432/courier?sslmode=disable&statement_timeout=2000", cfg.DatabaseDSN())
}
