package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/config"
	"github.com/recallhq/recall/internal/embedding"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/store"
	"github.com/recallhq/recall/provider"
)

// ingestCMD loads a chat export from disk and runs the full pipeline without
// going through the HTTP server. Useful for backfills and local testing.
func ingestCMD() *cobra.Command {
	var cfgPath string
	var filePath string
	var userID string

	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a chat export file for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" || userID == "" {
				return fmt.Errorf("--file and --user are required")
			}
			cfg := config.LoadConfig(cfgPath)

			payload, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read export: %w", err)
			}

			ctx := context.Background()
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			st, err := store.NewWithDSN(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.DB.Close()

			llmProvider, err := provider.NewProvider(cfg.LLM)
			if err != nil {
				return err
			}
			embedder := embedding.NewClient(llmProvider, cfg.Ingest, nil)
			orch := ingest.NewOrchestrator(st, embedder, cfg.Ingest, nil)

			res, err := orch.ProcessUpload(ctx, userID, payload, filepath.Base(filePath))
			if err != nil {
				return err
			}
			fmt.Printf("inserted %d chunks, embedded %d\n", res.Inserted, res.Embedded)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to chat export JSON")
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
