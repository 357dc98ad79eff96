package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "LOG_LEVEL", "CATALOG_SOURCE", "CATALOG_API_BASE_URL", "CATALOG_API_TIMEOUT",
		"CATALOG_CACHE_TTL", "CATALOG_SESSION_LIMIT", "STORAGE_BACKEND", "STORAGE_BADGER_PATH",
		"POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DBNAME",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.HttpServer.Port)
	assert.Equal(t, "9090", cfg.GrpcServer.Port)
	assert.Equal(t, SourceHTTP, cfg.Catalog.Source)
	assert.Equal(t, 8*time.Second, cfg.Catalog.APITimeout)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, 1024, cfg.Catalog.SessionLimit)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.False(t, cfg.NeedsPostgres())
}

func TestLoad_PostgresRequiresCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_HOST")
	assert.Contains(t, err.Error(), "POSTGRES_DBNAME")
}

func TestLoad_MissingCredentialsReportedInFixedOrder(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("POSTGRES_USER", "shop")

	_, first := Load()
	require.Error(t, first)
	for range 20 {
		_, again := Load()
		require.Error(t, again)
		assert.Equal(t, first.Error(), again.Error())
	}

	msg := first.Error()
	host := strings.Index(msg, "POSTGRES_HOST")
	password := strings.Index(msg, "POSTGRES_PASSWORD")
	dbname := strings.Index(msg, "POSTGRES_DBNAME")
	require.True(t, host >= 0 && password >= 0 && dbname >= 0, msg)
	assert.Less(t, host, password)
	assert.Less(t, password, dbname)
	assert.NotContains(t, msg, "POSTGRES_USER")
}

func TestLoad_PostgresSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOG_SOURCE", "Postgres")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "shop")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DBNAME", "storefront")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, SourcePostgres, cfg.Catalog.Source)
	assert.True(t, cfg.NeedsPostgres())
	assert.Equal(t, "host=db port=5432 user=shop password=secret dbname=storefront sslmode=disable", cfg.Postgres.DSN())
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"source", map[string]string{"CATALOG_SOURCE": "grpc"}, "CATALOG_SOURCE"},
		{"backend", map[string]string{"STORAGE_BACKEND": "redis"}, "STORAGE_BACKEND"},
		{"ttl", map[string]string{"CATALOG_CACHE_TTL": "0s"}, "CATALOG_CACHE_TTL"},
		{"badger path", map[string]string{"STORAGE_BACKEND": "badger", "STORAGE_BADGER_PATH": " "}, "STORAGE_BADGER_PATH"},
		{"bad duration", map[string]string{"CATALOG_API_TIMEOUT": "soon"}, "failed to process configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
