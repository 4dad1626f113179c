// Command server starts the StreamForge video API and transcoding pipeline.
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

	"github.com/joho/godotenv"

	"streamforge/internal/api"
	"streamforge/internal/media"
	"streamforge/internal/observability/logging"
	"streamforge/internal/observability/metrics"
	"streamforge/internal/pipeline"
	"streamforge/internal/server"
	"streamforge/internal/storage"
)

func main() {
	// A local .env complements the process environment during development.
	envLoaded := godotenv.Load() == nil

	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to the JSON datastore")
	blobDir := flag.String("blob-dir", "", "directory for segment and thumbnail payloads (JSON driver)")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sourceDir := flag.String("source-dir", "", "directory that receives uploaded source files")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "size cap for multipart source uploads in bytes")
	manifestBaseURL := flag.String("manifest-base-url", "", "absolute base URL prefixed to manifest segment links")
	apiToken := flag.String("api-token", "", "bearer token required on mutating routes")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	workers := flag.Int("pipeline-workers", 0, "number of workers draining the job queue")
	queueSize := flag.Int("pipeline-queue-size", 0, "buffered capacity of the in-process job queue")
	encodeConcurrency := flag.Int("encode-concurrency", 0, "maximum simultaneous encodes across all videos")
	retryAttempts := flag.Int("encode-retry-attempts", 0, "attempts per rendition when failures are transient")
	retryBaseDelay := flag.Duration("encode-retry-base-delay", 0, "first retry delay for transient encode failures")
	retryMaxDelay := flag.Duration("encode-retry-max-delay", 0, "retry delay ceiling for transient encode failures")
	stageTimeout := flag.Duration("pipeline-stage-timeout", 0, "timeout per probe, transcode, segment, or thumbnail invocation")
	queueDriver := flag.String("queue-driver", "", "pipeline queue driver (memory or redis)")
	queueRedisAddr := flag.String("queue-redis-addr", "", "Redis address for the shared job queue")
	queueRedisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the shared job queue")
	queueRedisUsername := flag.String("queue-redis-username", "", "Redis username for the job queue")
	queueRedisPassword := flag.String("queue-redis-password", "", "Redis password for the job queue")
	queueRedisStream := flag.String("queue-redis-stream", "", "Redis stream key for pipeline jobs")
	queueRedisGroup := flag.String("queue-redis-group", "", "Redis consumer group for pipeline jobs")
	queueRedisMasterName := flag.String("queue-redis-sentinel-master", "", "Redis sentinel master name for the job queue")
	queueRedisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections for the job queue")
	queueRedisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate for the job queue")
	queueRedisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate for the job queue")
	queueRedisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key for the job queue")
	queueRedisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name for the job queue")
	queueRedisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification for the job queue")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	intakeLimit := flag.Int("rate-intake-limit", 0, "maximum upload submissions per window for a single IP")
	intakeWindow := flag.Duration("rate-intake-window", 0, "window for counting upload submissions")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for shared intake throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for shared intake throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for intake throttle Redis operations")
	dashboardOrigins := flag.String("cors-dashboard-origins", "", "comma separated origins allowed for the management dashboard")
	playerOrigins := flag.String("cors-player-origins", "", "comma separated origins allowed for embedded players")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMFORGE_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	if envLoaded {
		logger.Debug("loaded environment overrides from .env")
	}

	serverMode := modeValue(*mode, os.Getenv("STREAMFORGE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("STREAMFORGE_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("STREAMFORGE_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("STREAMFORGE_TLS_KEY"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, _, err := resolveStorageDriver(*storageDriver, os.Getenv("STREAMFORGE_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN, os.Getenv("STREAMFORGE_POSTGRES_DSN")); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var (
		store           storage.Repository
		storagePathUsed string
	)
	switch driver {
	case "json":
		storagePathUsed = resolveDataPath(*dataPath, os.Getenv("STREAMFORGE_DATA"))
		var options []storage.Option
		if dir := firstNonEmpty(*blobDir, os.Getenv("STREAMFORGE_BLOB_DIR")); dir != "" {
			options = append(options, storage.WithBlobDir(dir))
		}
		store, err = storage.NewJSONRepository(storagePathUsed, options...)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "STREAMFORGE_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "STREAMFORGE_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "STREAMFORGE_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "STREAMFORGE_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "STREAMFORGE_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "STREAMFORGE_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("STREAMFORGE_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	toolchain := media.NewFFmpegToolchain(
		firstNonEmpty(*ffmpegPath, os.Getenv("STREAMFORGE_FFMPEG")),
		firstNonEmpty(*ffprobePath, os.Getenv("STREAMFORGE_FFPROBE")),
		logging.WithComponent(logger, "media"),
	)

	queueCfg := pipeline.RedisQueueConfig{
		Addr:       firstNonEmpty(*queueRedisAddr, os.Getenv("STREAMFORGE_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*queueRedisAddrs, os.Getenv("STREAMFORGE_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*queueRedisUsername, os.Getenv("STREAMFORGE_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*queueRedisPassword, os.Getenv("STREAMFORGE_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*queueRedisStream, os.Getenv("STREAMFORGE_QUEUE_REDIS_STREAM")),
		Group:      firstNonEmpty(*queueRedisGroup, os.Getenv("STREAMFORGE_QUEUE_REDIS_GROUP")),
		MasterName: firstNonEmpty(*queueRedisMasterName, os.Getenv("STREAMFORGE_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*queueRedisPoolSize, "STREAMFORGE_QUEUE_REDIS_POOL_SIZE"),
		TLS: pipeline.RedisTLSConfig{
			CAFile:             firstNonEmpty(*queueRedisTLSCA, os.Getenv("STREAMFORGE_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*queueRedisTLSCert, os.Getenv("STREAMFORGE_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*queueRedisTLSKey, os.Getenv("STREAMFORGE_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*queueRedisTLSServerName, os.Getenv("STREAMFORGE_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*queueRedisTLSSkipVerify, "STREAMFORGE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	resolvedQueueDriver := strings.ToLower(strings.TrimSpace(firstNonEmpty(*queueDriver, os.Getenv("STREAMFORGE_QUEUE_DRIVER"))))
	queue, err := configureExternalQueue(resolvedQueueDriver, queueCfg, logger)
	if err != nil {
		logger.Error("failed to configure pipeline queue", "error", err)
		os.Exit(1)
	}

	pipelineWorkers := resolveInt(*workers, "STREAMFORGE_PIPELINE_WORKERS")
	encodeSlots := resolveInt(*encodeConcurrency, "STREAMFORGE_ENCODE_CONCURRENCY")
	orchestrator := pipeline.New(pipeline.Config{
		Store:             store,
		Toolchain:         toolchain,
		Queue:             queue,
		Workers:           pipelineWorkers,
		QueueSize:         resolveInt(*queueSize, "STREAMFORGE_PIPELINE_QUEUE_SIZE"),
		EncodeConcurrency: encodeSlots,
		RetryAttempts:     resolveInt(*retryAttempts, "STREAMFORGE_ENCODE_RETRY_ATTEMPTS"),
		RetryBaseDelay:    resolveDuration(*retryBaseDelay, "STREAMFORGE_ENCODE_RETRY_BASE_DELAY", 0),
		RetryMaxDelay:     resolveDuration(*retryMaxDelay, "STREAMFORGE_ENCODE_RETRY_MAX_DELAY", 0),
		StageTimeout:      resolveDuration(*stageTimeout, "STREAMFORGE_PIPELINE_STAGE_TIMEOUT", 0),
		Logger:            logging.WithComponent(logger, "pipeline"),
		Metrics:           recorder,
	})
	orchestrator.Start()

	handler := api.NewHandler(store, orchestrator)
	handler.Toolchain = toolchain
	handler.SourceDir = firstNonEmpty(*sourceDir, os.Getenv("STREAMFORGE_SOURCE_DIR"))
	handler.MaxUploadBytes = resolveInt64(*maxUploadBytes, "STREAMFORGE_MAX_UPLOAD_BYTES")
	handler.ManifestBaseURL = firstNonEmpty(*manifestBaseURL, os.Getenv("STREAMFORGE_MANIFEST_BASE_URL"))
	handler.APIToken = firstNonEmpty(*apiToken, os.Getenv("STREAMFORGE_API_TOKEN"))

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "STREAMFORGE_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "STREAMFORGE_RATE_GLOBAL_BURST"),
		IntakeLimit:           resolveInt(*intakeLimit, "STREAMFORGE_RATE_INTAKE_LIMIT"),
		IntakeWindow:          resolveDuration(*intakeWindow, "STREAMFORGE_RATE_INTAKE_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "STREAMFORGE_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("STREAMFORGE_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*rateRedisAddr, os.Getenv("STREAMFORGE_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*rateRedisPassword, os.Getenv("STREAMFORGE_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*rateRedisTimeout, "STREAMFORGE_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	corsCfg := server.CORSConfig{
		DashboardOrigins: splitAndTrim(firstNonEmpty(*dashboardOrigins, os.Getenv("STREAMFORGE_CORS_DASHBOARD_ORIGINS"))),
		PlayerOrigins:    splitAndTrim(firstNonEmpty(*playerOrigins, os.Getenv("STREAMFORGE_CORS_PLAYER_ORIGINS"))),
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit:   rateCfg,
		CORS:        corsCfg,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	summary := newStartupSummary(startupSummaryInput{
		StorageDriver:     driver,
		StoragePath:       storagePathUsed,
		StorageDSN:        postgresDefaultDSN,
		QueueDriver:       resolvedQueueDriver,
		QueueConfig:       queueCfg,
		RateLimit:         rateCfg,
		FFmpegPath:        firstNonEmpty(*ffmpegPath, os.Getenv("STREAMFORGE_FFMPEG"), "ffmpeg"),
		FFprobePath:       firstNonEmpty(*ffprobePath, os.Getenv("STREAMFORGE_FFPROBE"), "ffprobe"),
		Workers:           pipelineWorkers,
		EncodeConcurrency: encodeSlots,
	})
	logger.Info("configuration resolved", summary.LogArgs()...)

	errs := make(chan error, 1)
	go func() {
		logger.Info("StreamForge API listening", "addr", listenAddr, "mode", serverMode)
		if tlsCertPath != "" && tlsKeyPath != "" {
			logger.Info("TLS enabled", "cert_file", tlsCertPath)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	// Stage shutdown: stop accepting requests, then drain the pipeline, then
	// close the datastore. In-flight encodes are cancelled through their
	// contexts, so the lease recovery pass picks the videos up on restart.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if err := orchestrator.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop pipeline", "error", err)
	}

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

// configureExternalQueue builds the shared Redis-backed job queue. Returning
// a nil queue with a nil error selects the orchestrator's in-process queue.
func configureExternalQueue(driver string, cfg pipeline.RedisQueueConfig, logger *slog.Logger) (pipeline.Queue, error) {
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the pipeline queue")
		}
		cfg.Logger = logging.WithComponent(logger, "pipeline-queue")
		return pipeline.NewRedisQueue(cfg)
	case "", "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported pipeline queue driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
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

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, bool, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, true, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, true, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", false, nil
	}
	return "", false, fmt.Errorf("no datastore configured: provide --storage-driver json or configure Postgres via STREAMFORGE_POSTGRES_DSN, DATABASE_URL, or --postgres-dsn")
}

func validateProductionDatastore(driver, resolvedPostgresDSN, envPostgresDSN string) error {
	if driver != "postgres" {
		if driver == "" {
			return fmt.Errorf("production mode requires the postgres datastore driver")
		}
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(envPostgresDSN) == "" {
		return fmt.Errorf("production mode requires STREAMFORGE_POSTGRES_DSN to be set")
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("STREAMFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
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

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
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

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
