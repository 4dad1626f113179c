package main

import (
	"net/url"
	"strings"

	"streamforge/internal/pipeline"
	"streamforge/internal/server"
)

// startupSummaryInput carries the resolved configuration worth echoing at
// boot. Secrets are redacted before anything reaches the log.
type startupSummaryInput struct {
	StorageDriver     string
	StoragePath       string
	StorageDSN        string
	QueueDriver       string
	QueueConfig       pipeline.RedisQueueConfig
	RateLimit         server.RateLimitConfig
	FFmpegPath        string
	FFprobePath       string
	Workers           int
	EncodeConcurrency int
}

type startupSummary struct {
	datastore      map[string]any
	pipelineQueue  map[string]any
	intakeThrottle map[string]any
	transcoder     map[string]any
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	datastore := map[string]any{"driver": input.StorageDriver}
	if input.StorageDriver == "postgres" {
		datastore["dsn"] = redactDSN(input.StorageDSN)
	} else if input.StoragePath != "" {
		datastore["path"] = input.StoragePath
	}

	queueDriver := strings.TrimSpace(input.QueueDriver)
	if queueDriver == "" {
		queueDriver = "memory"
	}
	queue := map[string]any{"driver": queueDriver}
	if queueDriver == "redis" {
		addr := input.QueueConfig.Addr
		if len(input.QueueConfig.Addrs) > 0 {
			addr = strings.Join(input.QueueConfig.Addrs, ",")
		}
		queue["addr"] = addr
		stream := input.QueueConfig.Stream
		if stream == "" {
			stream = "streamforge:jobs"
		}
		queue["stream"] = stream
		group := input.QueueConfig.Group
		if group == "" {
			group = "pipeline-workers"
		}
		queue["group"] = group
		if input.QueueConfig.MasterName != "" {
			queue["master_name"] = input.QueueConfig.MasterName
		}
	}

	throttleDriver := "memory"
	if input.RateLimit.RedisAddr != "" && input.RateLimit.IntakeLimit > 0 {
		throttleDriver = "redis"
	}
	throttle := map[string]any{"driver": throttleDriver}
	if throttleDriver == "redis" {
		throttle["addr"] = input.RateLimit.RedisAddr
	}
	if input.RateLimit.IntakeLimit > 0 {
		throttle["limit"] = input.RateLimit.IntakeLimit
		throttle["window"] = input.RateLimit.IntakeWindow.String()
	}

	transcoder := map[string]any{
		"ffmpeg":  input.FFmpegPath,
		"ffprobe": input.FFprobePath,
	}
	if input.Workers > 0 {
		transcoder["workers"] = input.Workers
	}
	if input.EncodeConcurrency > 0 {
		transcoder["encode_concurrency"] = input.EncodeConcurrency
	}

	return startupSummary{
		datastore:      datastore,
		pipelineQueue:  queue,
		intakeThrottle: throttle,
		transcoder:     transcoder,
	}
}

// LogArgs renders the summary as slog key/value pairs.
func (s startupSummary) LogArgs() []any {
	return []any{
		"datastore", s.datastore,
		"pipeline_queue", s.pipelineQueue,
		"intake_throttle", s.intakeThrottle,
		"transcoder", s.transcoder,
	}
}

// redactDSN masks the password in a connection string. URL-shaped DSNs keep
// their structure with the password replaced; keyword/value DSNs have the
// password field overwritten.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if parsed, err := url.Parse(dsn); err == nil && parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), "*****")
		}
		return parsed.String()
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		if strings.HasPrefix(field, "password=") {
			fields[i] = "password=*****"
		}
	}
	return strings.Join(fields, " ")
}
