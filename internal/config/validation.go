package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the fields of a loaded Config for internal
// consistency beyond what Load already enforces.
func (c *Config) Validate() error {
	if err := ValidateToken(c.CanvasAPIToken); err != nil {
		return fmt.Errorf("CANVAS_API_TOKEN: %w", err)
	}

	if err := ValidateBaseURL(c.CanvasAPIURL); err != nil {
		return fmt.Errorf("CANVAS_API_URL: %w", err)
	}

	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}

	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL cannot be negative")
	}

	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_REQUESTS must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %q (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// ValidateToken validates an API token format.
func ValidateToken(token string) error {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if len(trimmed) < 20 {
		return fmt.Errorf("token seems too short (minimum 20 characters), got %d", len(trimmed))
	}

	if len(trimmed) > 500 {
		return fmt.Errorf("token seems too long (maximum 500 characters), got %d", len(trimmed))
	}

	lowerToken := strings.ToLower(trimmed)
	placeholders := []string{"your-token-here", "your_token_here", "replace-me", "changeme", "example", "token"}
	for _, placeholder := range placeholders {
		if lowerToken == placeholder {
			return fmt.Errorf("token appears to be a placeholder value: %q", placeholder)
		}
	}

	return nil
}

// ValidateBaseURL validates the Canvas base URL scheme and host.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// NormalizeURL normalizes a Canvas instance URL: adds a scheme if
// missing and strips a bare trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")
	if parsedURL.Path == "/" {
		parsedURL.Path = ""
	}

	return parsedURL.String(), nil
}
