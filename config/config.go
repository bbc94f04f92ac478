package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	AppName     = "vehicle-listing-bot"
	EnvFileName = "config.env"
)

// Config is the runtime configuration, read from the environment.
type Config struct {
	BotToken      string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	DBPath        string
	HTTPAddr      string
	PublicBaseURL string
	Location      string

	MarketAPIURL   string
	MarketAPIKey   string
	MarketCacheTTL time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	HEICConverterCmd string
	PricingTablePath string

	AnalysisTimeout      time.Duration
	TranscriptionTimeout time.Duration
	UploadTimeout        time.Duration
}

var requiredKeys = []string{"BOT_TOKEN", "GEMINI_API_KEY"}

// FilePath returns the path of the config file in the user's config
// directory.
func FilePath() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configBase, AppName, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory and from .env in the working directory. Errors are
// ignored since the files may not exist. Variables already set win.
func LoadEnvFile() {
	if path, err := FilePath(); err == nil {
		_ = godotenv.Load(path)
	}
	_ = godotenv.Load(".env")
}

// WriteEnvFile writes values to the config file, replacing it. The file
// holds secrets so only the owner can read it.
func WriteEnvFile(values map[string]string) (string, error) {
	path, err := FilePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	content, err := godotenv.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("DB_PATH", "listings.db")
	v.SetDefault("HTTP_ADDR", "127.0.0.1:8080")
	v.SetDefault("MARKET_CACHE_TTL", "6h")
	v.SetDefault("MINIO_BUCKET", "vehicle-listings")
	v.SetDefault("MINIO_USE_SSL", true)
	v.SetDefault("ANALYSIS_TIMEOUT", "90s")
	v.SetDefault("TRANSCRIPTION_TIMEOUT", "60s")
	v.SetDefault("UPLOAD_TIMEOUT", "30s")

	cfg := &Config{
		BotToken:         v.GetString("BOT_TOKEN"),
		GeminiAPIKey:     v.GetString("GEMINI_API_KEY"),
		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		DBPath:           v.GetString("DB_PATH"),
		HTTPAddr:         v.GetString("HTTP_ADDR"),
		PublicBaseURL:    v.GetString("PUBLIC_BASE_URL"),
		Location:         v.GetString("LOCATION"),
		MarketAPIURL:     v.GetString("MARKET_API_URL"),
		MarketAPIKey:     v.GetString("MARKET_API_KEY"),
		MinioEndpoint:    v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey:   v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:   v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:      v.GetString("MINIO_BUCKET"),
		MinioRegion:      v.GetString("MINIO_REGION"),
		MinioUseSSL:      v.GetBool("MINIO_USE_SSL"),
		HEICConverterCmd: v.GetString("HEIC_CONVERTER_CMD"),
		PricingTablePath: v.GetString("PRICING_TABLE_PATH"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MARKET_CACHE_TTL", &cfg.MarketCacheTTL},
		{"ANALYSIS_TIMEOUT", &cfg.AnalysisTimeout},
		{"TRANSCRIPTION_TIMEOUT", &cfg.TranscriptionTimeout},
		{"UPLOAD_TIMEOUT", &cfg.UploadTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// Missing returns the required keys that are not set.
func (c *Config) Missing() []string {
	values := map[string]string{
		"BOT_TOKEN":      c.BotToken,
		"GEMINI_API_KEY": c.GeminiAPIKey,
	}
	var missing []string
	for _, key := range requiredKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Validate reports all missing required keys in one error.
func (c *Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}
	return nil
}

// MinioEnabled reports whether durable storage is configured.
func (c *Config) MinioEnabled() bool {
	return c.MinioEndpoint != ""
}

// MarketEnabled reports whether the market service is configured.
func (c *Config) MarketEnabled() bool {
	return c.MarketAPIURL != ""
}
