package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reviewsync",
	Short: "Customer review ingestion pipeline",
	Long:  "Syncs customer reviews from the places API into the listings directory, with a durable priority queue, dedup, tier quotas, and bulk file imports.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
