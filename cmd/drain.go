package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/queue"
	"github.com/listify/reviewsync/internal/quota"
	"github.com/listify/reviewsync/internal/worker"
	"github.com/listify/reviewsync/pkg/placereviews"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process claimed queue items until the queue is empty",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.Worker.Concurrency
		}
		pageSize, _ := cmd.Flags().GetInt("page-size")
		if !cmd.Flags().Changed("page-size") {
			pageSize = cfg.Worker.SyncPageSize
		}
		manual, _ := cmd.Flags().GetBool("manual")

		batchType := model.BatchTypeScheduledSync
		if manual {
			batchType = model.BatchTypeManualSync
		}

		client := placereviews.NewClient(cfg.Places.APIKey,
			placereviews.WithBaseURL(cfg.Places.BaseURL))

		q := queue.NewService(st)
		led := ledger.New(st)
		w := worker.New(st, q, led, client, quota.NewEnforcer(nil), worker.Config{
			Concurrency:       concurrency,
			SyncPageSize:      pageSize,
			ClaimSize:         cfg.Queue.ClaimSize,
			RequestsPerSecond: cfg.Places.RequestsPerSecond,
		})

		batch, err := w.Drain(ctx, batchType)
		if err != nil {
			return eris.Wrap(err, "drain")
		}

		formatBatch(os.Stdout, batch)
		return nil
	},
}

func init() {
	drainCmd.Flags().Int("concurrency", 0, "parallel sync workers (default from config)")
	drainCmd.Flags().Int("page-size", 0, "max reviews fetched per business (default from config)")
	drainCmd.Flags().Bool("manual", false, "record the run as a manual sync")
	rootCmd.AddCommand(drainCmd)
}
