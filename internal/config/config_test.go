package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "")
	t.Setenv("RECORD_STORE", "")
	t.Setenv("SIGNED_URL_DEFAULT_EXPIRATION_SECONDS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, "files-storage", cfg.Storage.LocalBasePath)
	assert.Equal(t, RecordStoreMongo, cfg.RecordStore)
	assert.Equal(t, 900, cfg.SignedURL.DefaultExpirationSeconds)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, cfg.Server.PublicBaseURL, cfg.Storage.PublicBaseURL)
}

func TestLoadS3RequiresBucket(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "S3")
	t.Setenv("S3_BUCKET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")

	t.Setenv("S3_BUCKET", "files")
	t.Setenv("S3_ENDPOINT", "http://localhost:8333")
	t.Setenv("S3_FORCE_PATH_STYLE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderS3, cfg.Storage.Provider)
	assert.Equal(t, "files", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.ForcePathStyle)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:      ServerConfig{MaxUploadSizeMB: 10},
			Storage:     StorageConfig{Provider: ProviderLocal, LocalBasePath: "data"},
			SignedURL:   SignedURLConfig{DefaultExpirationSeconds: 900, MaxExpirationSeconds: 3600},
			RecordStore: RecordStorePostgres,
			Postgres:    PostgresConfig{DatabaseURL: "postgres://localhost/db"},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown provider", func(c *Config) { c.Storage.Provider = "ftp" }},
		{"unknown record store", func(c *Config) { c.RecordStore = "sqlite" }},
		{"zero default ttl", func(c *Config) { c.SignedURL.DefaultExpirationSeconds = 0 }},
		{"max below default", func(c *Config) { c.SignedURL.MaxExpirationSeconds = 60 }},
		{"no upload size", func(c *Config) { c.Server.MaxUploadSizeMB = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_LIST", " a, ,b ")
	t.Setenv("TEST_MAP", "Authorization=Basic abc, bad, X-Scope = 1")

	assert.Equal(t, []string{"a", "b"}, getEnvAsList("TEST_LIST", nil))
	assert.Equal(t, map[string]string{"Authorization": "Basic abc", "X-Scope": "1"}, getEnvAsMap("TEST_MAP"))
	assert.Equal(t, int64(7), getEnvAsInt64("TEST_MISSING_INT", 7))
}
