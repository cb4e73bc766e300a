package bulkfile

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/listify/reviewsync/internal/resilience"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
	// User and Password default to anonymous login, which is how most
	// partner export drops are served.
	User     string
	Password string
}

// FTPFetcher retrieves bulk export drops over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTPFetcher.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "bulkfile: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("bulkfile: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("bulkfile: empty path in ftp url")
	}
	return host, path, nil
}

// ftpConnReader ties the response reader to the connection so closing one
// releases both.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "bulkfile: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "bulkfile: quit ftp connection")
	}
	return nil
}

// Download retrieves the file at ftpURL. The caller must close the returned
// ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("bulkfile: ftp connecting", zap.String("host", host), zap.String("path", path))

	// Dial and transfer failures against a flaky drop server retry; login
	// rejections and missing paths do not.
	var rc io.ReadCloser
	err = resilience.Do(ctx, downloadRetry, func(ctx context.Context) error {
		conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return eris.Wrap(err, "bulkfile: ftp dial")
		}

		if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
			conn.Quit() //nolint:errcheck
			return eris.Wrap(err, "bulkfile: ftp login")
		}

		resp, err := conn.Retr(path)
		if err != nil {
			conn.Quit() //nolint:errcheck
			return eris.Wrap(err, "bulkfile: ftp retrieve")
		}

		rc = &ftpConnReader{resp: resp, conn: conn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}
