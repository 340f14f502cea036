package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"previscore/internal/models"
)

func newSearchCmd() *cobra.Command {
	var mode string
	var text string
	var limit int
	var multimodal bool
	var image string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search assets by text, tags, or image",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if image != "" {
				results, err := a.search.SearchByImage(context.Background(), imageRefFromPath(image), models.TagFilter{}, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			}

			query := models.Query{Text: text, Mode: models.SearchMode(mode), Limit: limit}

			if multimodal {
				results, err := a.search.MultimodalSearch(context.Background(), query)
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			}

			results, err := a.search.Search(context.Background(), query)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(models.ModeHybrid), "TAG_ONLY | VECTOR_ONLY | HYBRID | FILTER_THEN_RANK")
	cmd.Flags().StringVar(&text, "text", "", "free-text query")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().BoolVar(&multimodal, "multimodal", false, "fuse text, visual, and tag scores instead of a single search mode")
	cmd.Flags().StringVar(&image, "image", "", "path to a query image for reverse image search")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	return nil
}
