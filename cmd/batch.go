package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/listify/reviewsync/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect import batches",
}

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show full details of an import batch",
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

		batch, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "batch show")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(batch)
		}

		formatBatch(os.Stdout, batch)
		return nil
	},
}

func init() {
	batchShowCmd.Flags().Bool("json", false, "emit the batch record as JSON")
	batchCmd.AddCommand(batchShowCmd)
	rootCmd.AddCommand(batchCmd)
}

// formatBatch writes a batch summary with its tally to w.
func formatBatch(out io.Writer, b *model.ImportBatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Batch:\t%s\n", b.ID)
	_, _ = fmt.Fprintf(w, "Type:\t%s\n", b.Type)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", b.Source)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", b.Status)
	_, _ = fmt.Fprintf(w, "Created:\t%d\n", b.Tally.Created)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", b.Tally.Updated)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", b.Tally.Duplicate)
	_, _ = fmt.Fprintf(w, "Quota skipped:\t%d\n", b.Tally.QuotaSkipped)
	_, _ = fmt.Fprintf(w, "Validation failed:\t%d\n", b.Tally.ValidationFailed)
	if len(b.Errors) > 0 {
		_, _ = fmt.Fprintf(w, "Errors:\t%d\n", len(b.Errors))
		for _, e := range b.Errors {
			_, _ = fmt.Fprintf(w, "\t%s\n", e)
		}
	}
	_ = w.Flush()
}
