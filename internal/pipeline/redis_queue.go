package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisQueueConfig configures the Redis Streams job queue implementation.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	Group        string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	Buffer       int
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

// NewRedisQueue initialises a job queue backed by Redis Streams. Jobs are
// distributed across consumers in one group, so multiple server processes can
// share a backlog. The caller is responsible for ensuring the Redis instance
// is reachable.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "streamforge:jobs"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "pipeline-workers"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	queue := &redisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumer:     randomConsumerID(),
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
		jobs:         make(chan Job, cfg.Buffer),
		cancel:       cancel,
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	if queue.blockTimeout <= 0 {
		queue.blockTimeout = 2 * time.Second
	}
	if err := queue.ensureGroup(ctx); err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	queue.wg.Add(1)
	go queue.run(ctx)
	return queue, nil
}

type redisQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumer     string
	blockTimeout time.Duration
	logger       *slog.Logger

	jobs   chan Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

func (q *redisQueue) Enqueue(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.VideoID) == "" {
		return errors.New("job video id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	_, err = q.client.Do(ctx, "XADD", q.stream, "*", "payload", string(payload)).Result()
	return err
}

func (q *redisQueue) Jobs() <-chan Job {
	return q.jobs
}

func (q *redisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *redisQueue) Close() error {
	var err error
	q.once.Do(func() {
		q.cancel()
		q.wg.Wait()
		err = q.client.Close()
	})
	return err
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	_, err := q.client.Do(ctx, "XGROUP", "CREATE", q.stream, q.group, "$", "MKSTREAM").Result()
	if err != nil {
		if isBusyGroup(err) {
			q.groupReady.Store(true)
			return nil
		}
		return err
	}
	q.groupReady.Store(true)
	return nil
}

func (q *redisQueue) run(ctx context.Context) {
	defer q.wg.Done()
	defer close(q.jobs)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := q.ensureGroup(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Warn("redis queue group ensure failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		entries, err := q.read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Warn("redis queue read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, entry := range entries {
			var job Job
			if err := json.Unmarshal(entry.Payload, &job); err != nil {
				q.logger.Error("redis queue decode failed", "error", err)
				q.ack(ctx, entry.ID)
				continue
			}
			select {
			case q.jobs <- job:
				q.ack(ctx, entry.ID)
			case <-ctx.Done():
				q.requeueEntry(entry)
				return
			}
		}
	}
}

func (q *redisQueue) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := q.client.Do(ctx, "XACK", q.stream, q.group, id).Result(); err != nil {
		q.logger.Warn("redis ack failed", "id", id, "error", err)
	}
}

// requeueEntry puts a job read but not handed to a worker back on the stream
// so a restart does not drop it.
func (q *redisQueue) requeueEntry(entry redisStreamEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q.ack(ctx, entry.ID)
	if len(entry.Payload) == 0 {
		return
	}
	if _, err := q.client.Do(ctx, "XADD", q.stream, "*", "payload", string(entry.Payload)).Result(); err != nil {
		q.logger.Warn("redis requeue failed", "id", entry.ID, "error", err)
	}
}

type redisStreamEntry struct {
	ID      string
	Payload []byte
}

func (q *redisQueue) read(ctx context.Context) ([]redisStreamEntry, error) {
	blockMs := int(math.Max(float64(q.blockTimeout.Milliseconds()), 1))
	reply, err := q.client.Do(
		ctx,
		"XREADGROUP",
		"GROUP",
		q.group,
		q.consumer,
		"COUNT",
		"32",
		"BLOCK",
		strconv.Itoa(blockMs),
		"STREAMS",
		q.stream,
		">",
	).Result()
	if err != nil {
		if isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return nil, nil
	}
	var entries []redisStreamEntry
	for _, stream := range streams {
		parts, ok := stream.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		for _, record := range records {
			tuple, ok := record.([]interface{})
			if !ok || len(tuple) != 2 {
				continue
			}
			id, _ := asString(tuple[0])
			fields, _ := tuple[1].([]interface{})
			payload := extractPayload(fields)
			if id == "" || len(payload) == 0 {
				continue
			}
			entries = append(entries, redisStreamEntry{ID: id, Payload: payload})
		}
	}
	return entries, nil
}

func extractPayload(fields []interface{}) []byte {
	for i := 0; i < len(fields); i += 2 {
		key, _ := asString(fields[i])
		if strings.EqualFold(key, "payload") && i+1 < len(fields) {
			value, _ := asString(fields[i+1])
			if value != "" {
				return []byte(value)
			}
		}
	}
	return nil
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busygrou")
}

func isNilReply(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nil reply") || strings.Contains(msg, "timeout")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
