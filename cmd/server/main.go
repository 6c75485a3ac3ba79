// Command server starts the mediagate WhatsApp media upload gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mediagate/internal/api"
	"mediagate/internal/auth"
	"mediagate/internal/observability/logging"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/server"
	"mediagate/internal/serverutil"
	"mediagate/internal/staging"
	"mediagate/internal/whatsapp"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	credentialDriver := flag.String("credential-store", "", "credential store driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for service credentials")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	stagingDir := flag.String("staging-dir", "", "directory for staged upload files")
	stagingSweepInterval := flag.Duration("staging-sweep-interval", 0, "interval between sweeps of orphaned staged files")
	stagingMaxAge := flag.Duration("staging-max-age", 0, "age after which an orphaned staged file is removed")
	graphBaseURL := flag.String("graph-base-url", "", "WhatsApp Graph API base URL")
	graphMaxAttempts := flag.Int("graph-max-attempts", 0, "maximum delivery attempts per upload")
	graphTimeout := flag.Duration("graph-timeout", 0, "timeout for each WhatsApp API request")
	rateLimit := flag.Int("rate-limit", 0, "maximum uploads per window for a single client")
	rateWindow := flag.Duration("rate-window", 0, "window for counting uploads per client")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed rate limiting")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed rate limiting")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("MEDIAGATE_LOG_LEVEL"))})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("MEDIAGATE_MODE"))
	listenAddr := resolveListenAddr(*addr, os.Getenv("MEDIAGATE_ADDR"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := firstNonEmpty(*postgresDSN, os.Getenv("MEDIAGATE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver, err := resolveCredentialDriver(*credentialDriver, os.Getenv("MEDIAGATE_CREDENTIAL_STORE"), serverMode, dsn)
	if err != nil {
		logger.Error("failed to resolve credential store", "error", err)
		os.Exit(1)
	}

	var store auth.CredentialStore
	switch driver {
	case "memory":
		store = auth.NewMemoryCredentialStore()
		logger.Warn("using in-memory credential store; uploads will fail authentication until credentials are seeded")
	case "postgres":
		bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		pgStore, err := auth.NewPostgresCredentialStore(bootCtx, auth.PostgresConfig{
			DSN:                 dsn,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "MEDIAGATE_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "MEDIAGATE_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "MEDIAGATE_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "MEDIAGATE_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "MEDIAGATE_POSTGRES_HEALTH_INTERVAL", 0),
			AcquireTimeout:      resolveDuration(*postgresAcquireTimeout, "MEDIAGATE_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("MEDIAGATE_POSTGRES_APP_NAME"), "mediagate"),
		})
		cancel()
		if err != nil {
			logger.Error("failed to open credential store", "error", err)
			os.Exit(1)
		}
		store = pgStore
	default:
		logger.Error("unsupported credential store driver", "driver", driver)
		os.Exit(1)
	}

	authenticator := auth.NewAuthenticator(store,
		auth.WithLogger(logging.WithComponent(logger, "auth")),
		auth.WithRecorder(recorder),
	)

	stager := staging.NewStager(firstNonEmpty(*stagingDir, os.Getenv("MEDIAGATE_STAGING_DIR")))

	graphClient := whatsapp.NewClient(whatsapp.Config{
		BaseURL:     firstNonEmpty(*graphBaseURL, os.Getenv("MEDIAGATE_GRAPH_BASE_URL")),
		MaxAttempts: resolveInt(*graphMaxAttempts, "MEDIAGATE_GRAPH_MAX_ATTEMPTS"),
		HTTPClient:  graphHTTPClient(resolveDuration(*graphTimeout, "MEDIAGATE_GRAPH_TIMEOUT", 0)),
		Logger:      logging.WithComponent(logger, "whatsapp"),
		Recorder:    recorder,
	})

	handler := api.NewHandler(authenticator, stager, graphClient)
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Recorder = recorder

	rateCfg := server.RateLimitConfig{
		Limit:         resolveRateLimit(*rateLimit, serverMode),
		Window:        resolveDuration(*rateWindow, "MEDIAGATE_RATE_WINDOW", server.DefaultWindow),
		RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("MEDIAGATE_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("MEDIAGATE_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*redisTimeout, "MEDIAGATE_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		RateLimit: rateCfg,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	sweepInterval := resolveDuration(*stagingSweepInterval, "MEDIAGATE_STAGING_SWEEP_INTERVAL", 15*time.Minute)
	sweepMaxAge := resolveDuration(*stagingMaxAge, "MEDIAGATE_STAGING_MAX_AGE", time.Hour)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("mediagate listening", "addr", listenAddr, "mode", serverMode, "rate_limit", rateCfg.Limit)
		logger.Info("metrics endpoint available", "path", "/metrics")
		return serverutil.Run(groupCtx, serverutil.Config{Server: srv.HTTPServer()})
	})
	group.Go(func() error {
		return runStagingSweeper(groupCtx, logging.WithComponent(logger, "staging-sweeper"), stager, sweepInterval, sweepMaxAge)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close credential store", "error", err)
	}

	logger.Info("server stopped")
}

func runStagingSweeper(ctx context.Context, logger *slog.Logger, stager *staging.Stager, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := stager.Sweep(maxAge)
			if err != nil {
				logger.Warn("staging sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("swept orphaned staged files", "removed", removed)
			}
		}
	}
}

func graphHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		return nil
	}
	return &http.Client{Timeout: timeout}
}

func resolveCredentialDriver(flagValue, envValue, mode, dsn string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(dsn) != "" {
		return "postgres", nil
	}
	if mode == "production" {
		return "", fmt.Errorf("production mode requires Postgres credentials: set MEDIAGATE_POSTGRES_DSN or --postgres-dsn")
	}
	return "memory", nil
}

func resolveRateLimit(flagValue int, mode string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv("MEDIAGATE_RATE_LIMIT"); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	if mode == "production" {
		return 3
	}
	return 1000000
}

func resolveListenAddr(flagValue, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
