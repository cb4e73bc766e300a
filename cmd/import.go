package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/listify/reviewsync/internal/bulkfile"
	"github.com/listify/reviewsync/internal/ingest"
	"github.com/listify/reviewsync/internal/ledger"
	"github.com/listify/reviewsync/internal/model"
	"github.com/listify/reviewsync/internal/quota"
)

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import reviews from a CSV or XLSX file",
	Long:  "Imports reviews from a local file, an HTTP(S) URL, or an FTP URL. Columns are mapped to review fields by a YAML mapping file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := args[0]

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		mappingPath, _ := cmd.Flags().GetString("mapping")
		mapping, err := ingest.LoadMapping(mappingPath)
		if err != nil {
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

		header, rows, err := readRows(ctx, cmd, source)
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")

		led := ledger.New(st)
		importer := ingest.New(st, led, quota.NewEnforcer(nil),
			ingest.WithChunkDelay(time.Duration(cfg.Import.ChunkDelayMillis)*time.Millisecond))

		batch, err := importer.Run(ctx, batchTypeFor(source), source, header, rows, mapping, force)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		formatBatch(os.Stdout, batch)
		return nil
	},
}

func init() {
	importCmd.Flags().String("mapping", "", "path to YAML column mapping (required)")
	_ = importCmd.MarkFlagRequired("mapping")
	importCmd.Flags().String("delimiter", ",", "CSV field delimiter")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().Bool("force", false, "reprocess even if a matching batch already completed")
	rootCmd.AddCommand(importCmd)
}

// readRows loads the source into a header row and data rows, dispatching on
// file extension. XLSX sources are fetched to a temp file first because the
// reader needs random access.
func readRows(ctx context.Context, cmd *cobra.Command, source string) ([]string, [][]string, error) {
	if strings.EqualFold(fileExt(source), ".xlsx") {
		path, err := bulkfile.Fetch(ctx, source, os.TempDir())
		if err != nil {
			return nil, nil, err
		}
		if path != source {
			defer os.Remove(path) //nolint:errcheck
		}

		sheet, _ := cmd.Flags().GetString("sheet")
		return bulkfile.ReadXLSX(path, bulkfile.XLSXOptions{SheetName: sheet})
	}

	r, err := bulkfile.Open(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close() //nolint:errcheck

	delimiter, _ := cmd.Flags().GetString("delimiter")
	var delim rune
	if delimiter != "" {
		delim = []rune(delimiter)[0]
	}

	header, rowCh, errCh, err := bulkfile.StreamCSV(ctx, r, bulkfile.CSVOptions{
		Delimiter: delim,
		TrimSpace: true,
	})
	if err != nil {
		return nil, nil, err
	}

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, nil, err
	}
	return header, rows, nil
}

// batchTypeFor distinguishes local file imports from remote pulls.
func batchTypeFor(source string) model.BatchType {
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "ftp://") {
		return model.BatchTypeExternalBulk
	}
	return model.BatchTypeBulkCSV
}

// fileExt returns the extension of the source path, ignoring any URL query.
func fileExt(source string) string {
	if i := strings.IndexAny(source, "?#"); i >= 0 {
		source = source[:i]
	}
	if i := strings.LastIndex(source, "."); i >= 0 {
		return source[i:]
	}
	return ""
}
