package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"previscore/internal/ingest"
	"previscore/internal/models"
	"previscore/internal/queue"
)

func newIngestCmd() *cobra.Command {
	var force bool
	var workers int
	var async bool
	var asyncQueue string

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest one or more media files into the vector store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := models.IngestOptions{Force: force}

			if async {
				client, err := queue.NewClient(a.cfg.Redis.URI)
				if err != nil {
					return fmt.Errorf("connecting to ingest queue: %w", err)
				}
				defer client.Close()
				for _, path := range args {
					jobID, err := client.EnqueueIngest(path, opts, asyncQueue)
					if err != nil {
						return fmt.Errorf("enqueueing %s: %w", path, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> job %s\n", path, jobID)
				}
				return nil
			}

			progress := func(u ingest.ProgressUpdate) {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %.0f%% %s\n", u.AssetID, u.Stage, u.Progress, u.Message)
			}

			ids, err := a.pipeline.RunAll(context.Background(), args, opts, workers, progress)
			for i, id := range ids {
				if id != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[i], id)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest and replace an already-ingested asset")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of files to ingest concurrently")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue onto the Redis ingest queue instead of running inline")
	cmd.Flags().StringVar(&asyncQueue, "queue", queue.QueueDefault, "priority queue for --async (previscore:critical|default|low)")
	return cmd
}
