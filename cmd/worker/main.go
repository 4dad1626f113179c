// Command worker runs a headless transcoding worker. It drains jobs from the
// shared Redis queue written by API replicas, so it requires Postgres and
// Redis; single-process deployments run the pipeline inside cmd/server
// instead.
package main

import (
	"context"
	"encoding/json"
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

	"streamforge/internal/media"
	"streamforge/internal/observability/logging"
	"streamforge/internal/observability/metrics"
	"streamforge/internal/pipeline"
	"streamforge/internal/serverutil"
	"streamforge/internal/storage"
)

func main() {
	envLoaded := godotenv.Load() == nil

	healthAddr := flag.String("health-addr", "", "listen address for health and metrics probes")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresAppName := flag.String("postgres-app-name", "streamforge-worker", "application_name reported to Postgres")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	workers := flag.Int("pipeline-workers", 0, "number of workers draining the job queue")
	encodeConcurrency := flag.Int("encode-concurrency", 0, "maximum simultaneous encodes across all videos")
	retryAttempts := flag.Int("encode-retry-attempts", 0, "attempts per rendition when failures are transient")
	retryBaseDelay := flag.Duration("encode-retry-base-delay", 0, "first retry delay for transient encode failures")
	retryMaxDelay := flag.Duration("encode-retry-max-delay", 0, "retry delay ceiling for transient encode failures")
	stageTimeout := flag.Duration("pipeline-stage-timeout", 0, "timeout per probe, transcode, segment, or thumbnail invocation")
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
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMFORGE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	if envLoaded {
		logger.Debug("loaded environment overrides from .env")
	}

	dsn := resolvePostgresDSN(*postgresDSN)
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, STREAMFORGE_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	var pgOptions []storage.Option
	if appName := firstNonEmpty(*postgresAppName, os.Getenv("STREAMFORGE_POSTGRES_APP_NAME")); appName != "" {
		pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
	}
	store, err := storage.NewPostgresRepository(dsn, pgOptions...)
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
	queue, err := joinWorkerQueue(queueCfg, logger)
	if err != nil {
		logger.Error("failed to join job queue", "error", err)
		os.Exit(1)
	}

	orchestrator := pipeline.New(pipeline.Config{
		Store:             store,
		Toolchain:         toolchain,
		Queue:             queue,
		Workers:           resolveInt(*workers, "STREAMFORGE_PIPELINE_WORKERS"),
		EncodeConcurrency: resolveInt(*encodeConcurrency, "STREAMFORGE_ENCODE_CONCURRENCY"),
		RetryAttempts:     resolveInt(*retryAttempts, "STREAMFORGE_ENCODE_RETRY_ATTEMPTS"),
		RetryBaseDelay:    resolveDuration(*retryBaseDelay, "STREAMFORGE_ENCODE_RETRY_BASE_DELAY"),
		RetryMaxDelay:     resolveDuration(*retryMaxDelay, "STREAMFORGE_ENCODE_RETRY_MAX_DELAY"),
		StageTimeout:      resolveDuration(*stageTimeout, "STREAMFORGE_PIPELINE_STAGE_TIMEOUT"),
		Logger:            logging.WithComponent(logger, "pipeline"),
		Metrics:           recorder,
	})
	orchestrator.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	probeAddr := firstNonEmpty(*healthAddr, os.Getenv("STREAMFORGE_WORKER_HEALTH_ADDR"))
	if probeAddr == "" {
		probeAddr = ":9090"
	}
	probe := &http.Server{
		Addr:              probeAddr,
		Handler:           probeRoutes(store, toolchain, queue, recorder),
		ReadHeaderTimeout: 5 * time.Second,
	}
	probeErr := make(chan error, 1)
	go func() {
		probeErr <- serverutil.Run(ctx, serverutil.Config{Server: probe, ShutdownTimeout: 5 * time.Second})
	}()

	logger.Info("transcoding worker ready",
		"queue_addr", firstNonEmpty(queueCfg.Addr, strings.Join(queueCfg.Addrs, ",")),
		"health_addr", probeAddr,
	)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		if err := <-probeErr; err != nil {
			logger.Warn("probe shutdown failed", "error", err)
		}
	case err := <-probeErr:
		if err != nil {
			logger.Error("probe server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// In-flight renditions are abandoned mid-stage; their videos stay leased
	// in analyzing or processing and the next worker start reclaims them.
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop pipeline", "error", err)
	}
	if err := queue.Close(); err != nil {
		logger.Warn("failed to close job queue", "error", err)
	}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("worker stopped")
}

// joinWorkerQueue connects to the shared Redis queue. Unlike cmd/server the
// worker has no in-process fallback: without a shared queue it would never
// receive work.
func joinWorkerQueue(cfg pipeline.RedisQueueConfig, logger *slog.Logger) (pipeline.Queue, error) {
	if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required: workers receive jobs only through the shared queue")
	}
	cfg.Logger = logging.WithComponent(logger, "pipeline-queue")
	return pipeline.NewRedisQueue(cfg)
}

type probeComponent struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// probeRoutes serves the worker's health and metrics endpoints. The health
// payload mirrors the API server's /healthz so operators see one schema.
func probeRoutes(store storage.Repository, toolchain media.Toolchain, queue pipeline.Queue, recorder *metrics.Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		overall := "ok"
		code := http.StatusOK
		record := func(component string, err error) probeComponent {
			status := "ok"
			message := ""
			if err != nil {
				status = "degraded"
				message = err.Error()
				overall = "degraded"
				code = http.StatusServiceUnavailable
			}
			metrics.SetComponentHealth(component, status)
			return probeComponent{Component: component, Status: status, Error: message}
		}
		components := []probeComponent{
			record("datastore", store.Ping(r.Context())),
			record("toolchain", toolchain.Check(r.Context())),
			record("job_queue", queue.Ping(r.Context())),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     overall,
			"components": components,
		})
	})
	mux.Handle("/metrics", recorder.Handler())
	return mux
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

func resolveDuration(flagValue time.Duration, envKey string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
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
