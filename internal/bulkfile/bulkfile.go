// Package bulkfile reads bulk review export files: CSV and XLSX, from a local
// path, an HTTP URL, or an FTP drop.
package bulkfile

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/resilience"
)

// downloadRetry governs remote fetches. Export drops and partner HTTP
// endpoints flake often enough that a couple of in-process retries beat
// failing the whole import.
var downloadRetry = func() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("bulkfile", "download")
	return cfg
}()

// Open returns a reader for the export at source. The scheme picks the
// transport: ftp:// goes through the FTP fetcher, http(s):// through plain
// HTTP, anything else is treated as a local path.
func Open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(source, "ftp://"):
		return NewFTPFetcher(FTPOptions{}).Download(ctx, source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return openHTTP(ctx, source)
	default:
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "bulkfile: open %s", source)
		}
		return f, nil
	}
}

func openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	zap.L().Debug("bulkfile: downloading", zap.String("url", url))

	client := &http.Client{Timeout: 5 * time.Minute}
	var body io.ReadCloser
	err := resilience.Do(ctx, downloadRetry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return eris.Wrap(err, "bulkfile: create request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return eris.Wrap(err, "bulkfile: download")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close() //nolint:errcheck
			statusErr := eris.Errorf("bulkfile: unexpected status %d for %s", resp.StatusCode, url)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return statusErr
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Fetch downloads the export to a local temp file and returns its path.
// XLSX parsing needs a seekable file, so remote sources land on disk first.
func Fetch(ctx context.Context, source, dir string) (string, error) {
	if !strings.Contains(source, "://") {
		return source, nil
	}

	rc, err := Open(ctx, source)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	f, err := os.CreateTemp(dir, "bulk-*"+ext(source))
	if err != nil {
		return "", eris.Wrap(err, "bulkfile: create temp file")
	}
	defer f.Close() //nolint:errcheck

	n, err := io.Copy(f, rc)
	if err != nil {
		return "", eris.Wrap(err, "bulkfile: write temp file")
	}
	zap.L().Debug("bulkfile: fetched", zap.String("source", source), zap.Int64("bytes", n))
	return f.Name(), nil
}

func ext(source string) string {
	if i := strings.LastIndex(source, "."); i >= 0 && len(source)-i <= 6 {
		return source[i:]
	}
	return ""
}
