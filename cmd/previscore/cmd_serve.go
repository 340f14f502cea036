package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"previscore/internal/queue"
)

func newServeCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue-backed ingest worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			consumer, err := queue.NewConsumer(queue.ConsumerConfig{
				RedisURI:    a.cfg.Redis.URI,
				Concurrency: concurrency,
				Pipeline:    a.pipeline,
				Log:         a.log,
			})
			if err != nil {
				return fmt.Errorf("initializing queue consumer: %w", err)
			}
			a.log.Info().Msg("ingest worker ready - waiting for jobs")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				if err := consumer.Start(); err != nil {
					errChan <- err
				}
			}()

			select {
			case <-sigChan:
				a.log.Info().Msg("shutdown signal received, stopping gracefully")
				consumer.Stop()
			case err := <-errChan:
				return fmt.Errorf("ingest worker: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of ingest jobs to process concurrently")
	return cmd
}
