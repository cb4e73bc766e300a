package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/queue"
	"github.com/listify/reviewsync/internal/scheduler"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the sync queue",
	Long:  "Commands for enqueueing businesses, refilling the queue from sync candidates, and inspecting queue depth.",
}

// -- queue add --

var queueAddCmd = &cobra.Command{
	Use:   "add <business-id>",
	Short: "Enqueue a single business for review sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		b, err := st.GetBusiness(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "queue add")
		}
		if b.PlaceID == "" {
			return eris.Errorf("business %s has no place ID", b.ID)
		}

		priority, _ := cmd.Flags().GetInt("priority")
		if !cmd.Flags().Changed("priority") {
			priority = scheduler.Priority(b.Tier, b.LastSyncAt, time.Now())
		}

		q := queue.NewService(st)
		added, err := q.Enqueue(ctx, queue.Request{
			BusinessID: b.ID,
			PlaceID:    b.PlaceID,
			Priority:   priority,
		})
		if err != nil {
			return eris.Wrap(err, "queue add")
		}

		if !added {
			fmt.Fprintf(os.Stderr, "Business %s already has an in-flight sync.\n", b.ID)
			return nil
		}

		zap.L().Info("business enqueued",
			zap.String("business_id", b.ID),
			zap.Int("priority", priority),
		)
		return nil
	},
}

// -- queue refill --

var queueRefillCmd = &cobra.Command{
	Use:   "refill",
	Short: "Top up the queue with the stalest sync candidates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		target, _ := cmd.Flags().GetInt("target")
		if !cmd.Flags().Changed("target") {
			target = cfg.Queue.TargetDepth
		}

		q := queue.NewService(st)
		sched := scheduler.New(st, q, target)

		result, err := sched.Refill(ctx)
		if err != nil {
			return eris.Wrap(err, "queue refill")
		}

		fmt.Printf("Added %d, already queued %d.\n", result.Added, result.AlreadyQueued)
		return nil
	},
}

// -- queue status --

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and recent outcomes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		q := queue.NewService(st)
		status, err := q.Status(ctx)
		if err != nil {
			return eris.Wrap(err, "queue status")
		}

		formatQueueStatus(os.Stdout, status)
		return nil
	},
}

func init() {
	queueAddCmd.Flags().Int("priority", 0, "queue priority (default computed from tier and sync recency)")
	queueRefillCmd.Flags().Int("target", 0, "pending-queue depth to top up to (default from config)")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueRefillCmd)
	queueCmd.AddCommand(queueStatusCmd)
	rootCmd.AddCommand(queueCmd)
}

// formatQueueStatus writes queue depth counters to w.
func formatQueueStatus(out io.Writer, s *model.QueueStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", s.PendingCount)
	_, _ = fmt.Fprintf(w, "Processing:\t%d\n", s.ProcessingCount)
	_, _ = fmt.Fprintf(w, "Completed (24h):\t%d\n", s.RecentCompleted)
	_, _ = fmt.Fprintf(w, "Failed (24h):\t%d\n", s.RecentFailed)
	_ = w.Flush()
}
