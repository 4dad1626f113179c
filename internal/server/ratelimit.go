package server

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig bounds request volume. The global token bucket protects the
// whole server, while the intake limit throttles upload submissions per
// client IP. When RedisAddr is set the intake counters live in Redis so
// multiple server processes share one budget.
type RateLimitConfig struct {
	GlobalRPS             float64
	GlobalBurst           int
	IntakeLimit           int
	IntakeWindow          time.Duration
	TrustForwardedHeaders bool
	TrustedProxies        []string
	RedisAddr             string
	RedisPassword         string
	RedisTimeout          time.Duration
}

type rateLimiter struct {
	global        *tokenBucket
	intakeLimit   int
	intakeWindow  time.Duration
	intakeMu      sync.Mutex
	intakeBuckets map[string]*ipLimiter
	store         tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		intakeLimit:   cfg.IntakeLimit,
		intakeWindow:  cfg.IntakeWindow,
		intakeBuckets: make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.intakeLimit <= 0 {
		rl.intakeLimit = 0
	}
	if rl.intakeWindow <= 0 {
		rl.intakeWindow = time.Minute
	}
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" && rl.intakeLimit > 0 {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("parse rate limit redis addr %q: %w", cfg.RedisAddr, err)
		}
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisStore(addr, cfg.RedisPassword, timeout)
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

func (r *rateLimiter) AllowIntake(key string) (bool, time.Duration, error) {
	if r == nil || r.intakeLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("streamforge:intake:%s", key), r.intakeLimit, r.intakeWindow)
	}
	if key == "" {
		key = "unknown"
	}
	r.intakeMu.Lock()
	bucket, exists := r.intakeBuckets[key]
	if !exists {
		rate := float64(r.intakeLimit) / r.intakeWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.intakeWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.intakeLimit)}
		r.intakeBuckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.intakeMu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

// Close releases the Redis-backed store when one is configured.
func (r *rateLimiter) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	if closer, ok := r.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.intakeBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.intakeWindow)
	for key, bucket := range r.intakeBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.intakeBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	now := time.Now()
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens -= 1
	return true
}
