package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/toolhub/ghmcp/internal/config"
	"github.com/toolhub/ghmcp/internal/core"
	gh "github.com/toolhub/ghmcp/internal/github"
	httpsvr "github.com/toolhub/ghmcp/internal/http"
	"github.com/toolhub/ghmcp/internal/logging"
	mcpsvr "github.com/toolhub/ghmcp/internal/mcp"
	"github.com/toolhub/ghmcp/internal/telemetry"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = pflag.String("config", config.DefaultPath(), "path to a YAML config file")
		logLevel    = pflag.String("log-level", "", "log level: trace, debug, info, warn, error")
		logFormat   = pflag.String("log-format", "", "log format: json or text")
		listen      = pflag.String("listen", "", "serve MCP over TCP on host:port instead of stdio")
		httpListen  = pflag.String("http-listen", "", "serve /healthz, /version and /metrics on host:port")
		showVersion = pflag.BoolP("version", "v", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Printf("ghmcp %s (commit %s, built %s)\n", orDefault(version, "dev"), orDefault(gitCommit, "unknown"), orDefault(buildTime, "unknown"))
		return 0
	}

	// Bootstrap logger until the configured one exists. stdout carries the
	// protocol, so every log goes to stderr.
	logger := logging.New(os.Stderr, slog.LevelInfo, "json")

	cfg, err := config.Load(*configPath, version)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = strings.ToLower(*logLevel)
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *httpListen != "" {
		cfg.Server.HTTPListen = *httpListen
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Error("invalid log level", "value", cfg.Logging.Level, "err", err)
		return 1
	}
	logger = logging.New(os.Stderr, level, cfg.Logging.Format)
	slog.SetDefault(logger)

	sinks := []core.EventSink{telemetry.NewLogSink(logger), telemetry.NewMetricsSink()}
	var providers *telemetry.Providers
	if cfg.Telemetry.OTelExport {
		providers = telemetry.NewProviders(logger, orDefault(version, "dev"), cfg.ExportInterval())
		providers.Install()
		otelSink, err := telemetry.NewOTelSink(otel.Meter("github.com/toolhub/ghmcp"), otel.Tracer("github.com/toolhub/ghmcp"))
		if err != nil {
			logger.Error("otel instruments init failed", "err", err)
			return 1
		}
		sinks = append(sinks, otelSink)
	}
	sink := telemetry.Fanout(sinks...)

	engine := gh.NewEngine(gh.EngineConfig{
		Timeout:         cfg.RequestTimeout(),
		UserAgent:       cfg.GitHub.UserAgent,
		MaxRetries:      cfg.GitHub.MaxRetries,
		MaxConcurrent:   cfg.GitHub.MaxConcurrentRequests,
		RateLimitBuffer: cfg.GitHub.RateLimitBuffer,
		RequestLogging:  cfg.GitHub.EnableRequestLogging,
		Sink:            sink,
		Logger:          logger,
	})
	gateway := gh.NewGateway(engine, cfg.GitHub.APIURL)

	policy := core.NewPolicy(strings.Join(cfg.Auth.RepoAllowlist, ","))
	mcpCfg := mcpsvr.Config{
		Gateway:       gateway,
		Policy:        policy,
		Token:         cfg.GitHub.Token,
		CacheDuration: cfg.CacheDuration(),
		Version:       orDefault(version, "dev"),
		Sink:          sink,
		Logger:        logger,
	}
	if cfg.UsesApp() {
		src, err := gh.NewAppTokenSource(gh.AppConfig{
			AppID:          cfg.GitHub.App.AppID,
			InstallationID: cfg.GitHub.App.InstallationID,
			PrivateKeyPath: cfg.GitHub.App.PrivateKeyPath,
			BaseURL:        cfg.GitHub.APIURL,
			UserAgent:      cfg.GitHub.UserAgent,
		})
		if err != nil {
			logger.Error("github app init failed", "err", err)
			return 1
		}
		mcpCfg.AppTokens = src
	}

	logger.Info("effective config",
		"api_url", logging.SanitizeURL(cfg.GitHub.APIURL),
		"enterprise", cfg.IsEnterprise(),
		"github_app", cfg.UsesApp(),
		"token_configured", cfg.GitHub.Token != "",
		"max_retries", cfg.GitHub.MaxRetries,
		"max_concurrent_requests", cfg.GitHub.MaxConcurrentRequests,
		"request_timeout_seconds", cfg.GitHub.RequestTimeoutSeconds,
		"repo_allowlist", policy.Repos(),
		"otel_export", cfg.Telemetry.OTelExport,
		"listen", orDefault(cfg.Server.Listen, "stdio"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	var httpServer *httpsvr.Server
	if cfg.Server.HTTPListen != "" {
		httpServer = httpsvr.NewServer(cfg.Server.HTTPListen, logger, httpsvr.BuildInfo{
			Version:   version,
			GitCommit: gitCommit,
			BuildTime: buildTime,
		}, engine, cfg.IsEnterprise())
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	mcpServer := mcpsvr.NewServer(cfg.Server.Listen, mcpCfg)
	go func() {
		if cfg.Server.Listen != "" {
			errCh <- mcpServer.ListenAndServe(ctx)
			return
		}
		errCh <- mcpServer.ServeStdio(ctx, os.Stdin, os.Stdout)
	}()

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server error", "err", err)
			exit = 1
		} else {
			logger.Info("shutting down", "reason", "client disconnected")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	_ = mcpServer.Shutdown(shutdownCtx)
	if providers != nil {
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "err", err)
		}
	}
	logger.Info("shutdown complete")
	return exit
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
