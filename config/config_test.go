package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "token", cfg.BotToken)
	assert.Equal(t, "listings.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, 6*time.Hour, cfg.MarketCacheTTL)
	assert.Equal(t, 90*time.Second, cfg.AnalysisTimeout)
	assert.Equal(t, 60*time.Second, cfg.TranscriptionTimeout)
	assert.Equal(t, 30*time.Second, cfg.UploadTimeout)
	assert.True(t, cfg.MinioUseSSL)
	assert.False(t, cfg.MinioEnabled())
	assert.False(t, cfg.MarketEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")
	t.Setenv("MINIO_USE_SSL", "false")
	t.Setenv("MARKET_API_URL", "https://market.example.com")
	t.Setenv("ANALYSIS_TIMEOUT", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.MinioEnabled())
	assert.False(t, cfg.MinioUseSSL)
	assert.True(t, cfg.MarketEnabled())
	assert.Equal(t, 2*time.Minute, cfg.AnalysisTimeout)
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a duration", "soon"},
		{"negative", "-5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("UPLOAD_TIMEOUT", tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, "UPLOAD_TIMEOUT")
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "everything missing",
			cfg:     Config{},
			wantErr: "missing required config: BOT_TOKEN, GEMINI_API_KEY",
		},
		{
			name:    "gemini key missing",
			cfg:     Config{BotToken: "t"},
			wantErr: "missing required config: GEMINI_API_KEY",
		},
		{
			name:    "minio without credentials",
			cfg:     Config{BotToken: "t", GeminiAPIKey: "k", MinioEndpoint: "localhost:9000"},
			wantErr: "MINIO_ACCESS_KEY",
		},
		{
			name: "valid",
			cfg:  Config{BotToken: "t", GeminiAPIKey: "k"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadEnvFile_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BOT_TOKEN=from-file\nLOCATION=98101\n"), 0o600))

	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("LOCATION", "")
	os.Unsetenv("LOCATION")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	LoadEnvFile()
	t.Cleanup(func() { os.Unsetenv("LOCATION") })

	assert.Equal(t, "from-env", os.Getenv("BOT_TOKEN"))
	assert.Equal(t, "98101", os.Getenv("LOCATION"))
}

func TestWriteEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)

	path, err := WriteEnvFile(map[string]string{
		"BOT_TOKEN":      "123:abc",
		"GEMINI_API_KEY": "key with spaces",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, AppName, EnvFileName), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	os.Unsetenv("BOT_TOKEN")
	os.Unsetenv("GEMINI_API_KEY")
	t.Cleanup(func() {
		os.Unsetenv("BOT_TOKEN")
		os.Unsetenv("GEMINI_API_KEY")
	})
	t.Chdir(dir)
	LoadEnvFile()

	assert.Equal(t, "123:abc", os.Getenv("BOT_TOKEN"))
	assert.Equal(t, "key with spaces", os.Getenv("GEMINI_API_KEY"))
}
