package bulkfile

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	TrimSpace bool
}

// StreamCSV reads a review export CSV and sends rows to a channel. The first
// row is delivered separately as the header. The caller must consume the row
// channel; both channels close when parsing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (header []string, rows <-chan []string, errs <-chan error, err error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1 // exports are not always rectangular

	header, err = reader.Read()
	if err == io.EOF {
		header = nil
	} else if err != nil {
		return nil, nil, nil, eris.Wrap(err, "bulkfile: read csv header")
	}
	if opts.TrimSpace {
		trimFields(header)
	}

	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "bulkfile: csv cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "bulkfile: read csv row")
				return
			}
			if opts.TrimSpace {
				trimFields(record)
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "bulkfile: csv cancelled")
				return
			}
		}
	}()

	return header, rowCh, errCh, nil
}

func trimFields(record []string) {
	for i, field := range record {
		record[i] = strings.TrimSpace(field)
	}
}
