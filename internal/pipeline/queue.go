package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Job identifies one pipeline run for a claimed video. Payloads stay small on
// purpose: workers reload the video from the repository so a job survives
// process restarts without embedding state that can go stale.
type Job struct {
	VideoID    string    `json:"videoId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queue feeds claimed videos to the orchestrator workers. Implementations
// deliver each job to exactly one worker. The in-memory queue serves tests
// and single-process deployments; the Redis Streams queue survives restarts.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Jobs() <-chan Job
	Ping(ctx context.Context) error
	Close() error
}

// NewMemoryQueue initialises a buffered in-process job queue.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &memoryQueue{
		jobs: make(chan Job, buffer),
		done: make(chan struct{}),
	}
}

type memoryQueue struct {
	jobs chan Job
	done chan struct{}

	once sync.Once
}

func (q *memoryQueue) Enqueue(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.VideoID) == "" {
		return errors.New("job video id is required")
	}
	select {
	case <-q.done:
		return errors.New("queue closed")
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return errors.New("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Jobs() <-chan Job {
	return q.jobs
}

func (q *memoryQueue) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return errors.New("queue closed")
	default:
		return nil
	}
}

func (q *memoryQueue) Close() error {
	q.once.Do(func() {
		close(q.done)
	})
	return nil
}
