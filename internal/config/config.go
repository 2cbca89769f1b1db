package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Vault      VaultConfig      `yaml:"vault"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// ProjectID tags credit reports; optional.
	ProjectID string `yaml:"project_id"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	LoggingLevel string `yaml:"logging_level"`

	// LoggingFormat selects the slog handler: "text" or "json".
	LoggingFormat string `yaml:"logging_format"`

	// MaxConcurrentGenerations caps in-flight provider calls process-wide.
	MaxConcurrentGenerations int `yaml:"max_concurrent_generations"`

	// GenerationQueueSize bounds jobs waiting for a worker.
	GenerationQueueSize int `yaml:"generation_queue_size"`
}

type VaultConfig struct {
	BaseURL        string        `yaml:"base_url"`
	FallbackDir    string        `yaml:"fallback_dir"`
	TokenCacheSize int           `yaml:"token_cache_size"`
	TokenCacheTTL  time.Duration `yaml:"token_cache_ttl"`
}

type ProvidersConfig struct {
	Fal    FalConfig    `yaml:"fal"`
	Vertex VertexConfig `yaml:"vertex"`
}

type FalConfig struct {
	// APIKey falls back to $FAL_API_KEY when empty.
	APIKey string `yaml:"api_key"`
}

type VertexConfig struct {
	// ProjectID falls back to $GOOGLE_CLOUD_PROJECT when empty.
	ProjectID string `yaml:"project_id"`
	// Location falls back to $GOOGLE_CLOUD_LOCATION, then us-central1.
	Location string `yaml:"location"`
	// CredentialsFile falls back to $GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string `yaml:"credentials_file"`
	// CredentialsJSON holds the raw service account JSON inline.
	CredentialsJSON string `yaml:"credentials_json"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize fills defaults and resolves credentials from the environment.
func (c *Config) Normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8188
	}
	if c.Server.MaxConcurrentGenerations == 0 {
		c.Server.MaxConcurrentGenerations = 4
	}
	if c.Server.GenerationQueueSize == 0 {
		c.Server.GenerationQueueSize = 32
	}

	c.Vault.BaseURL = strings.TrimSuffix(c.Vault.BaseURL, "/")
	if c.Vault.BaseURL == "" {
		c.Vault.BaseURL = "http://localhost:8080"
	}
	if c.Vault.TokenCacheSize == 0 {
		c.Vault.TokenCacheSize = 256
	}
	if c.Vault.TokenCacheTTL == 0 {
		c.Vault.TokenCacheTTL = 60 * time.Second
	}

	if c.Providers.Fal.APIKey == "" {
		c.Providers.Fal.APIKey = os.Getenv("FAL_API_KEY")
	}
	if c.Providers.Vertex.ProjectID == "" {
		c.Providers.Vertex.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if c.Providers.Vertex.Location == "" {
		c.Providers.Vertex.Location = os.Getenv("GOOGLE_CLOUD_LOCATION")
	}
	if c.Providers.Vertex.Location == "" {
		c.Providers.Vertex.Location = "us-central1"
	}
	if c.Providers.Vertex.CredentialsFile == "" && c.Providers.Vertex.CredentialsJSON == "" {
		c.Providers.Vertex.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}

	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.LoggingLevel != "" {
		validLevels := map[string]bool{"info": true, "debug": true, "error": true}
		if !validLevels[c.Server.LoggingLevel] {
			return fmt.Errorf("invalid logging_level: %s (must be info, debug, or error)", c.Server.LoggingLevel)
		}
	} else {
		c.Server.LoggingLevel = "info"
	}

	if c.Server.LoggingFormat != "" {
		if c.Server.LoggingFormat != "text" && c.Server.LoggingFormat != "json" {
			return fmt.Errorf("invalid logging_format: %s (must be text or json)", c.Server.LoggingFormat)
		}
	} else {
		c.Server.LoggingFormat = "text"
	}

	if c.Server.MaxConcurrentGenerations < 0 {
		return fmt.Errorf("invalid max_concurrent_generations: %d", c.Server.MaxConcurrentGenerations)
	}

	if err := validateBaseURL("vault", c.Vault.BaseURL); err != nil {
		return err
	}

	if c.Vault.TokenCacheSize < 0 {
		return fmt.Errorf("invalid token_cache_size: %d", c.Vault.TokenCacheSize)
	}

	return nil
}

// validateBaseURL validates that a URL is properly formed with http/https scheme
func validateBaseURL(name, baseURL string) error {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid base_url: %w", name, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: base_url must use http or https scheme, got: %s", name, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s: base_url must have a host", name)
	}
	return nil
}
