// Package config loads the server's process-wide configuration from
// the environment. A Config is immutable after Load returns; no
// component ever mutates one once constructed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-sourced setting the server needs.
type Config struct {
	CanvasAPIToken string
	CanvasAPIURL   string

	RequestTimeoutSeconds int
	CacheTTLSeconds       int
	MaxConcurrentRequests int

	EnableAnonymization bool
	AnonymizationDebug  bool

	LogAPIRequests     bool
	LogAccessEvents    bool
	LogExecutionEvents bool
	AuditLogDir        string

	InstitutionName string
	Timezone        string
	LogLevel        string
}

// Load reads configuration from the environment. It fails if the
// bearer token or base URL is absent. A base URL missing the
// /api/v1 suffix is a warning, not a fatal error; the warning text is
// returned alongside the Config so the caller can log it once its
// application logger is up.
func Load() (*Config, string, error) {
	token := os.Getenv("CANVAS_API_TOKEN")
	if token == "" {
		return nil, "", fmt.Errorf("CANVAS_API_TOKEN is required")
	}

	baseURL := os.Getenv("CANVAS_API_URL")
	if baseURL == "" {
		return nil, "", fmt.Errorf("CANVAS_API_URL is required")
	}

	var warning string
	if !strings.HasSuffix(strings.TrimRight(baseURL, "/"), "/api/v1") {
		warning = fmt.Sprintf("CANVAS_API_URL %q does not end in /api/v1; proceeding anyway", baseURL)
	}

	cfg := &Config{
		CanvasAPIToken:        token,
		CanvasAPIURL:          baseURL,
		RequestTimeoutSeconds: envInt("API_TIMEOUT", 30),
		CacheTTLSeconds:       envInt("CACHE_TTL", 300),
		MaxConcurrentRequests: envInt("MAX_CONCURRENT_REQUESTS", 10),
		EnableAnonymization:   envBool("ENABLE_DATA_ANONYMIZATION", true),
		AnonymizationDebug:    envBool("ANONYMIZATION_DEBUG", false),
		LogAPIRequests:        envBool("LOG_API_REQUESTS", false),
		LogAccessEvents:       envBool("LOG_ACCESS_EVENTS", false),
		LogExecutionEvents:    envBool("LOG_EXECUTION_EVENTS", false),
		AuditLogDir:           os.Getenv("AUDIT_LOG_DIR"),
		InstitutionName:       os.Getenv("INSTITUTION_NAME"),
		Timezone:              os.Getenv("TIMEZONE"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
	}

	if cfg.AuditLogDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.AuditLogDir = home + "/.canvas-mcp"
		} else {
			cfg.AuditLogDir = ".canvas-mcp"
		}
	}

	return cfg, warning, nil
}

// AuditEnabled reports whether either audit flag requires the audit
// logger to be wired up at all.
func (c *Config) AuditEnabled() bool {
	return c.LogAccessEvents || c.LogExecutionEvents
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
