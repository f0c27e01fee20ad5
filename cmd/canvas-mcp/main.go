package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/instructure-oss/canvas-mcp-server/internal/anonymize"
	"github.com/instructure-oss/canvas-mcp-server/internal/audit"
	"github.com/instructure-oss/canvas-mcp-server/internal/canvasapi"
	"github.com/instructure-oss/canvas-mcp-server/internal/config"
	"github.com/instructure-oss/canvas-mcp-server/internal/coursecache"
	"github.com/instructure-oss/canvas-mcp-server/internal/grader"
	"github.com/instructure-oss/canvas-mcp-server/internal/mcptools"
	"github.com/instructure-oss/canvas-mcp-server/internal/upload"
)

// Version is set during build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the dependency graph in the order the system requires:
// Config -> Audit -> Rate Limiter -> HTTP client -> Course Cache -> Tool
// registry, then serves the MCP surface over stdio.
func run(ctx context.Context) error {
	cfg, warning, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if warning != "" {
		logger.Warn(warning)
	}

	auditLogger, err := audit.New(cfg.AuditLogDir, cfg.LogAccessEvents, cfg.LogExecutionEvents)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer auditLogger.Close()

	initialRate := float64(cfg.MaxConcurrentRequests)
	if initialRate <= 0 {
		initialRate = 10
	}
	rateLimiter := canvasapi.NewRateLimiter(initialRate, 1, initialRate*2, logger)

	pseudonyms := anonymize.NewPseudonymizer()

	gateway := canvasapi.NewGateway(canvasapi.GatewayConfig{
		BaseURL:          cfg.CanvasAPIURL,
		Token:            cfg.CanvasAPIToken,
		Timeout:          time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		RateLimiter:      rateLimiter,
		Audit:            auditLogger,
		Pseudonyms:       pseudonyms,
		AnonymizeEnabled: cfg.EnableAnonymization,
		AnonymizeDebug:   cfg.AnonymizationDebug,
		LogRequests:      cfg.LogAPIRequests,
		Logger:           logger,
	})

	cache := coursecache.New(gateway, time.Duration(cfg.CacheTTLSeconds)*time.Second, logger)
	paginator := canvasapi.NewPaginator(gateway)
	bulkGrader := grader.New(gateway)
	uploader := upload.New(gateway, cfg.CanvasAPIURL, cfg.CanvasAPIToken)

	impl := &mcp.Implementation{
		Name:    "canvas-mcp-server",
		Title:   "Canvas LMS MCP Server",
		Version: Version,
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})

	mcptools.Register(server, mcptools.Deps{
		Gateway:    gateway,
		Paginator:  paginator,
		Cache:      cache,
		Grader:     bulkGrader,
		Uploader:   uploader,
		Pseudonyms: pseudonyms,
		Anonymize:  cfg.EnableAnonymization,
		Logger:     logger,
	})

	logger.Info("starting canvas-mcp-server", "institution", cfg.InstitutionName)
	return server.Run(ctx, &mcp.StdioTransport{})
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
