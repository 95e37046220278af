package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	inhttp "github.com/agenticmail/toolgate/internal/adapter/inbound/http"
	auditfile "github.com/agenticmail/toolgate/internal/adapter/outbound/audit"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/clickhouse"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/memory"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/policyfile"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/prom"
	redislimiter "github.com/agenticmail/toolgate/internal/adapter/outbound/redis"
	"github.com/agenticmail/toolgate/internal/adapter/outbound/settings"
	"github.com/agenticmail/toolgate/internal/config"
	"github.com/agenticmail/toolgate/internal/domain/audit"
	"github.com/agenticmail/toolgate/internal/domain/breaker"
	"github.com/agenticmail/toolgate/internal/domain/policy"
	"github.com/agenticmail/toolgate/internal/domain/ratelimit"
	"github.com/agenticmail/toolgate/internal/observability"
	"github.com/agenticmail/toolgate/internal/pipeline"
	"github.com/agenticmail/toolgate/internal/service"
	"github.com/agenticmail/toolgate/internal/tools/fetch"
	"github.com/agenticmail/toolgate/internal/tools/grep"
	"github.com/agenticmail/toolgate/internal/tools/shell"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the toolgate gateway server.

The server exposes the tool invocation API and operational endpoints.
Policies come from the configured source (static defaults, a YAML policy
file, or the dashboard settings API) and are re-resolved on every
invocation.

Examples:
  # Start with config file settings
  toolgate serve

  # Start with a specific config file
  toolgate --config /path/to/toolgate.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, pretty trace output)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation so the CLI flag can override dev mode first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}

// run wires all components and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Policy source
	policySource, err := createPolicySource(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create policy source: %w", err)
	}

	// Rate limiter backend
	var limiter ratelimit.Limiter
	var limiterSize func() int
	switch cfg.RateLimit.Backend {
	case "redis":
		rl, err := redislimiter.NewRateLimiter(redislimiter.Config{
			Addr:      cfg.RateLimit.Redis.Addr,
			Password:  cfg.RateLimit.Redis.Password,
			DB:        cfg.RateLimit.Redis.DB,
			KeyPrefix: cfg.RateLimit.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect rate limiter: %w", err)
		}
		defer func() { _ = rl.Close() }()
		limiter = rl
		logger.Info("rate limiter backend", "backend", "redis", "addr", cfg.RateLimit.Redis.Addr)
	default:
		ml := memory.NewRateLimiter()
		limiter = ml
		limiterSize = ml.Size
		logger.Info("rate limiter backend", "backend", "memory")
	}

	brk := memory.NewCircuitBreaker()

	// Audit store and async writer
	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.AuditFlushInterval()),
		service.WithSendTimeout(cfg.AuditSendTimeout()),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// Tracing
	tracing, err := observability.Setup(observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		PrettyPrint: cfg.Tracing.PrettyPrint,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	// Metrics registry shared by the telemetry sink and the HTTP server
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := prom.NewTelemetrySink(reg)
	metrics := inhttp.NewMetrics(reg)

	// Built-in tools, configured against the org default policy. Per-agent
	// policy enforcement happens in the pipeline on every invocation.
	workspace := cfg.Tools.WorkspaceDir
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	bootPolicy, err := policySource.OrgDefault(ctx)
	if err != nil {
		logger.Warn("org default policy unavailable at boot, tools use built-in defaults", "error", err)
		bootPolicy = policy.DefaultToolSecurity()
	}
	toolPolicy := bootPolicy.Security
	if len(toolPolicy.PathSandbox.AllowedDirs) == 0 {
		toolPolicy.PathSandbox.AllowedDirs = []string{workspace}
	}

	registry := service.NewToolRegistry()
	if err := registry.Register(grep.New(workspace, toolPolicy.PathSandbox)); err != nil {
		return err
	}
	if err := registry.Register(fetch.New(toolPolicy.SSRF,
		fetch.WithMaxBodyBytes(cfg.Tools.FetchMaxBodyBytes))); err != nil {
		return err
	}
	if err := registry.Register(shell.New(workspace, toolPolicy.CommandSanitizer)); err != nil {
		return err
	}

	executor := pipeline.NewExecutor(policySource, limiter, brk, auditService, sink, logger,
		pipeline.WithExecTimeout(cfg.ExecTimeout()),
		pipeline.WithBreakerConfig(breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.BreakerCooldown(),
		}),
		pipeline.WithRateLimitDefaults(ratelimit.BucketConfig{
			MaxTokens:       cfg.RateLimit.MaxTokens,
			RefillPerSecond: cfg.RateLimit.RefillPerSecond,
		}),
		pipeline.WithTracer(tracing.Tracer()),
	)

	queries, _ := auditStore.(audit.QueryStore)
	handlers := inhttp.NewHandlers(executor, registry, brk, sink, queries, metrics)
	healthChecker := inhttp.NewHealthChecker(auditService, limiterSize, Version)

	server := inhttp.NewServer(handlers,
		inhttp.WithAddr(cfg.Server.HTTPAddr),
		inhttp.WithLogger(logger),
		inhttp.WithHealthChecker(healthChecker),
		inhttp.WithRegistry(reg),
	)

	logger.Info("toolgate starting",
		"addr", cfg.Server.HTTPAddr,
		"policy_source", cfg.Policy.Source,
		"audit_output", cfg.Audit.Output,
		"tools", len(registry.List()),
	)
	return server.Start(ctx)
}

// createPolicySource builds the configured policy.Source.
func createPolicySource(cfg *config.Config, logger *slog.Logger) (policy.Source, error) {
	switch cfg.Policy.Source {
	case "file":
		src, err := policyfile.Load(cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		logger.Info("policy source", "source", "file", "path", cfg.Policy.File)
		return src, nil
	case "http":
		logger.Info("policy source", "source", "http", "base_url", cfg.Policy.BaseURL)
		return settings.NewClient(cfg.Policy.BaseURL, logger), nil
	default:
		logger.Info("policy source", "source", "static")
		return memory.NewPolicySource(policy.DefaultToolSecurity()), nil
	}
}

// createAuditStore builds the configured audit backend.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch cfg.Audit.Output {
	case "file":
		return auditfile.NewFileStore(auditfile.FileStoreConfig{
			Dir:           cfg.Audit.File.Dir,
			RetentionDays: cfg.Audit.File.RetentionDays,
			MaxFileSizeMB: cfg.Audit.File.MaxFileSizeMB,
			CacheSize:     cfg.Audit.File.CacheSize,
		}, logger)
	case "clickhouse":
		return clickhouse.NewStore(cfg.Audit.ClickHouseDSN, logger)
	default:
		return memory.NewAuditStore(), nil
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
