package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the donation engine.
type Config struct {
	DataDir          string
	BindAddress      string
	Port             int
	AdminKey         string
	BaseURL          string
	NotifierURL      string        // templated-notification collaborator endpoint
	NotifierToken    string        // if empty, notifications are logged instead
	ProcessorTimeout time.Duration // outbound payment-processor call timeout
	DraftRetention   time.Duration // orphaned draft expiry
	LogLevel         string
	LogFormat        string
}

// EngineDir returns the directory for the engine's own data (database, etc).
func (c *Config) EngineDir() string {
	return filepath.Join(c.DataDir, "engine")
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("GB_PORT", 8090)
	if err != nil {
		return nil, err
	}
	processorTimeout, err := envOrDefaultDuration("GB_PROCESSOR_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}
	draftRetention, err := envOrDefaultDuration("GB_DRAFT_RETENTION", 72*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:          envOrDefault("GB_DATA_DIR", "/data"),
		BindAddress:      envOrDefault("GB_BIND_ADDRESS", "0.0.0.0"),
		Port:             port,
		AdminKey:         strings.TrimSpace(os.Getenv("GB_ADMIN_KEY")),
		BaseURL:          strings.TrimSpace(os.Getenv("GB_BASE_URL")),
		NotifierURL:      strings.TrimSpace(os.Getenv("GB_NOTIFIER_URL")),
		NotifierToken:    strings.TrimSpace(os.Getenv("GB_NOTIFIER_TOKEN")),
		ProcessorTimeout: processorTimeout,
		DraftRetention:   draftRetention,
		LogLevel:         envOrDefault("GB_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("GB_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "GB_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "GB_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("GB_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.ProcessorTimeout <= 0 {
		return fmt.Errorf("GB_PROCESSOR_TIMEOUT must be greater than 0")
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("GB_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("GB_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("GB_BASE_URL must include a host")
	}
	if c.NotifierURL != "" {
		if _, err := url.Parse(c.NotifierURL); err != nil {
			return fmt.Errorf("GB_NOTIFIER_URL must be a valid URL: %w", err)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return parsed, nil
}
