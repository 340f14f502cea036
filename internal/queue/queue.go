// Package queue puts ingestion jobs on a Redis-backed asynq queue so the
// ingest worker pool can run as a standalone service instead of a one-shot
// CLI batch, the way VideoAgent's internal/queue/redis_consumer.go wraps
// asynq for video processing jobs.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"previscore/internal/models"
)

// Task type names; also doubles as the asynq queue-routing key prefix.
const TaskIngest = "previscore:ingest"

// Priority queue names, highest weight served most often by asynq's
// weighted round robin scheduler.
const (
	QueueCritical = "previscore:critical"
	QueueDefault  = "previscore:default"
	QueueLow      = "previscore:low"
)

// IngestPayload is the asynq task payload for one file's ingestion.
type IngestPayload struct {
	JobID   string              `json:"job_id"`
	Path    string              `json:"path"`
	Options models.IngestOptions `json:"options"`
	Queue   string              `json:"-"`
}

// Client enqueues ingest jobs for consumers to pick up.
type Client struct {
	client *asynq.Client
}

// NewClient connects to Redis at redisURI (e.g. "redis://localhost:6379/0").
func NewClient(redisURI string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redis uri: %w", err)
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

// EnqueueIngest schedules one file for ingestion on the given priority
// queue (QueueCritical/QueueDefault/QueueLow; empty defaults to
// QueueDefault) and returns the generated job id.
func (c *Client) EnqueueIngest(path string, opts models.IngestOptions, queue string) (string, error) {
	if queue == "" {
		queue = QueueDefault
	}
	payload := IngestPayload{JobID: uuid.NewString(), Path: path, Options: opts}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling ingest payload: %w", err)
	}
	task := asynq.NewTask(TaskIngest, body)
	if _, err := c.client.Enqueue(task, asynq.Queue(queue), asynq.MaxRetry(3)); err != nil {
		return "", fmt.Errorf("enqueueing ingest task: %w", err)
	}
	return payload.JobID, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error { return c.client.Close() }

// exponentialBackoff mirrors VideoAgent's 1/2/4-minute retry ladder,
// generalized to asynq's (n, err, task) signature.
func exponentialBackoff(n int, err error, task *asynq.Task) time.Duration {
	return time.Duration(1<<uint(n)) * time.Minute
}
