package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validation errors.
var (
	ErrInvalidProviderKind = errors.New("provider_kind must be local, cloud, or auto")
	ErrInvalidBaseURL      = errors.New("base URL must be a valid http(s) URL")
	ErrInvalidChunking     = errors.New("chunk_overlap must be smaller than chunk_size")
	ErrCloudKeyMissing     = errors.New("cloud provider selected but no API key configured")
)

// Validate checks the configuration for fatal misconfiguration. It fails
// fast at startup rather than surfacing errors on the first request.
func (c *Config) Validate() error {
	switch c.ProviderKind {
	case ProviderLocal, ProviderCloud, ProviderAuto:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidProviderKind, c.ProviderKind)
	}

	if err := validateURL("local_base_url", c.LocalBaseURL); err != nil {
		return err
	}
	if err := validateURL("cloud_base_url", c.CloudBaseURL); err != nil {
		return err
	}
	if err := validateURL("embedder_base_url", c.EmbedderBaseURL); err != nil {
		return err
	}

	if c.ProviderKind == ProviderCloud && c.CloudAPIKey == "" {
		return ErrCloudKeyMissing
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, c.ChunkSize, c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %g", c.Temperature)
	}

	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("postgres_port must be in [1, 65535], got %d", c.PostgresPort)
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s=%q", ErrInvalidBaseURL, field, raw)
	}
	return nil
}
