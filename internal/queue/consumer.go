package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"previscore/internal/ingest"
)

// Consumer runs the ingest pipeline against jobs pulled off the Redis
// queue, the asynq.Server/ServeMux wiring VideoAgent's RedisConsumer uses
// for its own video processing tasks, generalized to this module's single
// ingest task type and three priority queues.
type Consumer struct {
	server   *asynq.Server
	pipeline *ingest.Pipeline
	log      zerolog.Logger
}

// ConsumerConfig holds consumer construction options.
type ConsumerConfig struct {
	RedisURI    string
	Concurrency int
	Pipeline    *ingest.Pipeline
	Log         zerolog.Logger
}

// NewConsumer builds a Consumer against the Redis instance at
// cfg.RedisURI. Concurrency <= 0 defaults to 4.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redis uri: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	log := cfg.Log

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
			QueueLow:      1,
		},
		RetryDelayFunc: exponentialBackoff,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("task_type", task.Type()).Msg("ingest task failed")
		}),
	})

	return &Consumer{server: server, pipeline: cfg.Pipeline, log: log}, nil
}

// Start blocks serving ingest tasks until Stop is called or the server
// hits an unrecoverable error.
func (c *Consumer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskIngest, c.handleIngestTask)

	c.log.Info().Msg("starting ingest queue consumer")
	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("running ingest consumer: %w", err)
	}
	return nil
}

// Stop shuts the consumer down gracefully, waiting for in-flight tasks.
func (c *Consumer) Stop() {
	c.log.Info().Msg("shutting down ingest queue consumer")
	c.server.Shutdown()
}

func (c *Consumer) handleIngestTask(ctx context.Context, task *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling ingest payload: %w", err)
	}

	log := c.log.With().Str("job_id", payload.JobID).Str("path", payload.Path).Logger()
	log.Info().Msg("ingest job started")

	assetID, err := c.pipeline.Ingest(ctx, payload.Path, payload.Options, func(u ingest.ProgressUpdate) {
		log.Debug().Str("stage", u.Stage).Float64("pct", u.Progress).Msg(u.Message)
	})
	if err != nil {
		log.Error().Err(err).Msg("ingest job failed")
		return err
	}

	log.Info().Str("asset_id", assetID).Msg("ingest job completed")
	return nil
}
