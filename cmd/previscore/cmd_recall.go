package main

import (
	"context"

	"github.com/spf13/cobra"

	"previscore/internal/embedding"
	"previscore/internal/models"
)

func newRecallCmd() *cobra.Command {
	var text string
	var targetDuration float64
	var desiredCount int

	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Recall candidate shots for a screenplay beat",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			beat := models.Beat{
				Text:           text,
				TargetDuration: targetDuration,
				DesiredCount:   desiredCount,
			}
			candidates, err := a.search.RecallForBeat(context.Background(), beat)
			if err != nil {
				return err
			}
			return printJSON(cmd, candidates)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "beat description text")
	cmd.Flags().Float64Var(&targetDuration, "duration", 5, "target shot duration in seconds")
	cmd.Flags().IntVar(&desiredCount, "count", 5, "number of candidates to return")
	return cmd
}

func imageRefFromPath(path string) embedding.ImageRef {
	return embedding.ImageRef{Path: path}
}
