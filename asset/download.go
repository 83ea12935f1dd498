package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Downloader retrieves a remote resource and writes it to a local file, creating parent directories as needed.
// Failures to retrieve the resource are *NetworkErrors, failures to write it are *IOErrors.
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string) error
}

type DownloaderFunc func(ctx context.Context, rawURL, dest string) error

func (f DownloaderFunc) Download(ctx context.Context, rawURL, dest string) error {
	return f(ctx, rawURL, dest)
}

// HTTPDownloader downloads resources over HTTP(S).
type HTTPDownloader struct {
	Log        *zap.SugaredLogger
	HTTPClient *http.Client
}

type HTTPDownloaderOption func(*retryablehttp.Client)

// WithRetryMax sets the number of retries for a failed request. The default is no retries.
func WithRetryMax(n int) HTTPDownloaderOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = n
	}
}

// WithHTTPClient sets the underlying HTTP client used for requests.
func WithHTTPClient(hc *http.Client) HTTPDownloaderOption {
	return func(c *retryablehttp.Client) {
		c.HTTPClient = hc
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewHTTPDownloader(log *zap.SugaredLogger, opts ...HTTPDownloaderOption) *HTTPDownloader {
	log = log.Named("http_downloader")
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = &logAdapter{SugaredLogger: log}
	for _, o := range opts {
		o(retryClient)
	}
	return &HTTPDownloader{
		Log:        log,
		HTTPClient: retryClient.StandardClient(),
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &NetworkError{URL: rawURL, Err: fmt.Errorf("building request: %w", err)}
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{URL: rawURL, Err: fmt.Errorf("unexpected HTTP status code %d", resp.StatusCode)}
	}

	f, err := createFile(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, &bodyReader{r: resp.Body})
	if err != nil {
		discardPartial(d.Log, f, dest)
		var rerr *bodyReadError
		if errors.As(err, &rerr) {
			return &NetworkError{URL: rawURL, Err: fmt.Errorf("reading response body: %w", rerr.err)}
		}
		return &IOError{Op: "write", Path: dest, Err: err}
	}
	err = f.Close()
	if err != nil {
		return &IOError{Op: "close", Path: dest, Err: err}
	}
	d.Log.Debugw("downloaded file", "URL", rawURL, "Dest", dest, "Bytes", n)
	return nil
}

// discardPartial closes and removes a file left behind by a failed download,
// so that it can't be mistaken for an installed asset.
func discardPartial(log *zap.SugaredLogger, f *os.File, path string) {
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Debugf("error closing partial download %s: %s", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("unable to remove partial download %s: %s", path, err)
	}
}

// bodyReader tags read errors so that io.Copy failures can be attributed to the network or the local file.
type bodyReader struct {
	r io.Reader
}

type bodyReadError struct{ err error }

func (e *bodyReadError) Error() string { return e.err.Error() }

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &bodyReadError{err: err}
	}
	return n, err
}

// SchemeDownloader routes downloads to a Downloader based on the URL scheme.
type SchemeDownloader map[string]Downloader

func (s SchemeDownloader) Download(ctx context.Context, rawURL, dest string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &NetworkError{URL: rawURL, Err: fmt.Errorf("parsing URL: %w", err)}
	}
	d, ok := s[u.Scheme]
	if !ok {
		return &NetworkError{URL: rawURL, Err: fmt.Errorf("unsupported URL scheme %q", u.Scheme)}
	}
	return d.Download(ctx, rawURL, dest)
}
