// Command previscore is the CLI entrypoint for the multimodal retrieval
// core: ingest media into the vector store, query it interactively, or run
// the queue-backed ingest worker, the cobra-rooted wiring VideoAgent's
// cmd/worker/main.go does by hand with flat env-var loading.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"previscore/internal/config"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "previscore",
		Short: "Multimodal retrieval core for previs asset search and recall",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a previscore.yaml config file")

	root.AddCommand(
		newIngestCmd(),
		newSearchCmd(),
		newRecallCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(cfg)
}
