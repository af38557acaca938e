// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. User settings file (settings.json, written by the configure API)
//  3. Config file (~/.knowledge-console/config.yaml)
//  4. Default values
//
// Per request, an immutable Snapshot is taken from the merged view and
// passed down; nothing re-reads mutable process-wide state mid-request.
//
// Security: sensitive values (API keys, passwords) are masked in
// MarshalJSON and String.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Provider kind identifiers used in Config.ProviderKind.
const (
	ProviderLocal = "local"
	ProviderCloud = "cloud"
	ProviderAuto  = "auto"
)

// DefaultCloudModel is used when no cloud model override is configured.
const DefaultCloudModel = "meta-llama/llama-3.1-8b-instruct:free"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Provider selection
	ProviderKind string `mapstructure:"provider_kind" json:"provider_kind"` // "local", "cloud", or "auto"
	LocalBaseURL string `mapstructure:"local_base_url" json:"local_base_url"`
	CloudBaseURL string `mapstructure:"cloud_base_url" json:"cloud_base_url"`
	CloudModel   string `mapstructure:"cloud_model" json:"cloud_model"`
	CloudAPIKey  string `mapstructure:"cloud_api_key" json:"cloud_api_key"` // SENSITIVE: masked in MarshalJSON

	// Generation parameters
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`

	// Retrieval configuration
	EmbedderBaseURL string `mapstructure:"embedder_base_url" json:"embedder_base_url"`
	EmbedderModel   string `mapstructure:"embedder_model" json:"embedder_model"`
	ChunkSize       int    `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap    int    `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	TopK            int    `mapstructure:"top_k" json:"top_k"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Connector credentials
	GitHubToken    string `mapstructure:"github_token" json:"github_token"`         // SENSITIVE: masked in MarshalJSON
	OpenWeatherKey string `mapstructure:"openweather_key" json:"openweather_key"` // SENSITIVE: masked in MarshalJSON

	// User settings overlay location (see settings.go)
	SettingsPath string `mapstructure:"settings_path" json:"settings_path"`

	// Server configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".knowledge-console")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// Provider defaults: local llama.cpp server, no cloud configured
	v.SetDefault("provider_kind", ProviderAuto)
	v.SetDefault("local_base_url", "http://localhost:8080")
	v.SetDefault("cloud_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("cloud_model", "")
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("temperature", 0.7)

	// Retrieval defaults
	v.SetDefault("embedder_base_url", "http://localhost:8081")
	v.SetDefault("embedder_model", "all-MiniLM-L6-v2")
	v.SetDefault("chunk_size", 500)
	v.SetDefault("chunk_overlap", 50)
	v.SetDefault("top_k", 5)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "console")
	v.SetDefault("postgres_password", "console_dev_password")
	v.SetDefault("postgres_db_name", "console")
	v.SetDefault("postgres_ssl_mode", "disable")

	// User settings overlay
	v.SetDefault("settings_path", filepath.Join(configDir, "settings.json"))

	// Server defaults
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)

	// Observability defaults (empty endpoint = tracing disabled)
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("service_name", "knowledge-console")
	v.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider_kind", "CONSOLE_PROVIDER")
	mustBind("local_base_url", "CONSOLE_LOCAL_BASE_URL")
	mustBind("cloud_base_url", "CONSOLE_CLOUD_BASE_URL")
	mustBind("cloud_model", "CONSOLE_CLOUD_MODEL")
	mustBind("cloud_api_key", "OPENROUTER_API_KEY")
	mustBind("embedder_base_url", "CONSOLE_EMBEDDER_BASE_URL")
	mustBind("embedder_model", "CONSOLE_EMBEDDER_MODEL")
	mustBind("github_token", "GITHUB_TOKEN")
	mustBind("openweather_key", "OPENWEATHER_API_KEY")
	mustBind("cors_origins", "CONSOLE_CORS_ORIGINS")
	mustBind("trust_proxy", "CONSOLE_TRUST_PROXY")
	mustBind("otlp_endpoint", "CONSOLE_OTLP_ENDPOINT")
	mustBind("postgres_host", "CONSOLE_POSTGRES_HOST")
	mustBind("postgres_port", "CONSOLE_POSTGRES_PORT")
	mustBind("postgres_user", "CONSOLE_POSTGRES_USER")
	mustBind("postgres_password", "CONSOLE_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "CONSOLE_POSTGRES_DB")
}

// ConnURL returns the PostgreSQL connection URL.
func (c *Config) ConnURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := u.Query()
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked to prevent substring matching; longer secrets
// keep the first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.CloudAPIKey = maskSecret(a.CloudAPIKey)
	a.GitHubToken = maskSecret(a.GitHubToken)
	a.OpenWeatherKey = maskSecret(a.OpenWeatherKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
