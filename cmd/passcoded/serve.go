package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	goPasscode "github.com/MrEthical07/goPasscode"
	"github.com/MrEthical07/goPasscode/internal/logging"
	"github.com/MrEthical07/goPasscode/postgres"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
)

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	addr        string
	redisURL    string
	databaseURL string
	logFormat   string
	logLevel    string
	pingRetries uint64
}

// Validate checks that the configuration is valid.
func (cfg *serveConfig) Validate() error {
	if cfg.addr == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.redisURL == "" {
		return fmt.Errorf("redis-url is required")
	}
	if cfg.logFormat != "json" && cfg.logFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", cfg.logFormat)
	}
	return nil
}

// Default values for serve command flags.
const (
	defaultAddr        = "127.0.0.1:8080"
	defaultRedisURL    = "redis://127.0.0.1:6379/0"
	defaultLogFormat   = "json"
	defaultLogLevel    = "info"
	defaultPingRetries = 5
	shutdownTimeout    = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP sign-in server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", defaultAddr, "HTTP listen address")
	cmd.Flags().StringVar(&cfg.redisURL, "redis-url", defaultRedisURL, "Redis URL for codes (and identities without a database)")
	cmd.Flags().StringVar(&cfg.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL DSN for identities (empty = Redis)")
	cmd.Flags().StringVar(&cfg.logFormat, "log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().StringVar(&cfg.logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Uint64Var(&cfg.pingRetries, "ping-retries", defaultPingRetries, "backend connection attempts before giving up")

	return cmd
}

func runServe(ctx context.Context, cfg *serveConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup("passcoded", version, cfg.logFormat, cfg.logLevel, os.Stderr)
	slog.SetDefault(logger)

	engineCfg, err := goPasscode.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load engine config: %w", err)
	}

	opts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return fmt.Errorf("invalid redis-url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	if err := pingWithRetry(ctx, cfg.pingRetries, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	logger.InfoContext(ctx, "connected to redis")

	builder := goPasscode.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithLogger(logger)

	if cfg.databaseURL != "" {
		store, pool, err := postgres.Connect(ctx, cfg.databaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		if err := pingWithRetry(ctx, cfg.pingRetries, pool.Ping); err != nil {
			return fmt.Errorf("failed to reach database: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.InfoContext(ctx, "connected to database")
		builder = builder.WithIdentityStore(store)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	if engineCfg.Security.ProductionMode {
		logger.WarnContext(ctx, "production mode: codes are not written to the log and no delivery provider is configured")
	}

	srv := &http.Server{
		Addr: cfg.addr,
		Handler: newServer(serverOptions{
			engine:    engine,
			sender:    logSender{logger: logger, redact: engineCfg.Security.ProductionMode},
			logger:    logger,
			echoCodes: !engineCfg.Security.ProductionMode,
			health: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "http server listening", "addr", cfg.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// pingWithRetry retries ping with exponential backoff, attempts times in total.
func pingWithRetry(ctx context.Context, attempts uint64, ping func(context.Context) error) error {
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
