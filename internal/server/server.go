package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamforge/internal/api"
	"streamforge/internal/observability/logging"
	"streamforge/internal/observability/metrics"
	"streamforge/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Security    SecurityConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	resolver, err := newClientIPResolver(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/videos", handler.Videos)
	mux.HandleFunc("/api/videos/", handler.VideoByID)

	chain := http.Handler(mux)
	chain = rateLimitMiddleware(rl, resolver, cfg.Logger, chain)
	chain = corsMiddleware(policy, cfg.Logger, chain)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = auditMiddleware(cfg.AuditLogger, resolver, chain)
	chain = loggingMiddleware(cfg.Logger, resolver, chain)
	chain = requestIDMiddleware(cfg.Logger, chain)

	// Source uploads and segment reads move large bodies, so the transfer
	// timeouts are sized for video payloads while header reads stay tight.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	ln, err := serverutil.NewListener(s.httpServer.Addr, serverutil.TLSConfig{
		CertFile: s.tlsCertFile,
		KeyFile:  s.tlsKeyFile,
	}, s.httpServer.TLSConfig)
	if err != nil {
		return err
	}

	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.rateLimiter.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	middleware := logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, status int, duration time.Duration) []any {
			ip, source := resolveClientIP(r, resolver)
			return []any{"remote_ip", ip, "ip_source", source}
		},
	})
	return middleware(next)
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		auditLogger := loggingWithRequest(logger, resolver, r)
		if auditLogger == nil {
			return
		}
		auditLogger.Info("audit",
			"method", r.Method,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// shouldAudit marks the mutating API calls worth an audit line: intake,
// submission, deletion.
func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if isIntakeRequest(r) {
			ip, _ := resolveClientIP(r, resolver)
			allowed, retryAfter, err := rl.AllowIntake(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many uploads from this address")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// isIntakeRequest matches the routes that start pipeline work: video intake
// and explicit resubmission.
func isIntakeRequest(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "/api/videos" {
		return true
	}
	return strings.HasPrefix(path, "/api/videos/") && strings.HasSuffix(path, "/submit")
}
