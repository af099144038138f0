// Package queue provides the shared ingestion job queue backed by a
// Redis list. Workers compete for jobs with a blocking, timeout-polled
// pop so each can observe cancellation between polls.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrInvalidJob indicates a malformed job payload, rejected
	// without retry.
	ErrInvalidJob = errors.New("invalid job payload")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Job types.
const (
	TypeFile       = "file"
	TypeWeb        = "web"
	TypeSeedSource = "seed-source"
)

// Job is one ingestion work item, consumed at-most-once per delivery.
type Job struct {
	Type         string `json:"type"`
	Key          string `json:"key,omitempty"`
	URL          string `json:"url,omitempty"`
	OrgID        string `json:"org_id,omitempty"`
	Department   string `json:"department,omitempty"`
	UserCategory string `json:"user_category,omitempty"`
	Filename     string `json:"filename,omitempty"`
	DocumentID   uint   `json:"document_id,omitempty"`

	// JobID is the processing_jobs row recorded at enqueue time, zero
	// for payloads from producers that do not keep job rows.
	JobID uint `json:"job_id,omitempty"`
}

// Validate rejects jobs missing the fields their type requires.
func (j *Job) Validate() error {
	switch j.Type {
	case TypeFile:
		if j.Key == "" {
			return fmt.Errorf("%w: file job requires key", ErrInvalidJob)
		}
	case TypeWeb, TypeSeedSource:
		if j.URL == "" {
			return fmt.Errorf("%w: %s job requires url", ErrInvalidJob, j.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidJob, j.Type)
	}
	return nil
}

// ParseJob decodes a queue payload. Legacy producers push a bare
// object key instead of JSON; those payloads become file jobs.
func ParseJob(payload string) (*Job, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidJob)
	}

	var job Job
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
	} else {
		job = Job{Type: TypeFile, Key: payload}
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Config holds queue settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// QueueName is the Redis list holding job payloads.
	QueueName string

	// PollTimeout bounds one blocking pop so workers can check for
	// cancellation. Default 10s.
	PollTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.QueueName == "" {
		c.QueueName = "document_jobs"
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 10 * time.Second
	}
}

// Queue is the shared job queue.
type Queue struct {
	client *redis.Client
	config Config
	logger *zap.Logger
}

// New creates a queue client.
func New(config Config, logger *zap.Logger) (*Queue, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Queue{client: client, config: config, logger: logger}, nil
}

// Enqueue pushes a job onto the queue.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	if err := q.client.LPush(ctx, q.config.QueueName, payload).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// Dequeue blocks for up to the poll timeout waiting for a job. A nil
// job with nil error means the poll timed out with nothing queued;
// callers loop and re-check their stop signal. Malformed payloads
// return ErrInvalidJob and are consumed, not requeued.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BRPop(ctx, q.config.PollTimeout, q.config.QueueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("polling queue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("%w: unexpected pop result length %d", ErrInvalidJob, len(result))
	}

	job, err := ParseJob(result[1])
	if err != nil {
		q.logger.Warn("dropping malformed job payload", zap.Error(err))
		return nil, err
	}
	return job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.config.QueueName).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue length: %w", err)
	}
	return n, nil
}

// Healthy reports whether the queue backend responds to a ping.
func (q *Queue) Healthy(ctx context.Context) bool {
	return q.client.Ping(ctx).Err() == nil
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}
