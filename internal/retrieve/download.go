// Package retrieve downloads the band assets of matched catalog items into
// per-event scene directories.
package retrieve

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Fetcher copies the resource at href to dst.
type Fetcher interface {
	Retrieve(ctx context.Context, href, dst string) error
}

// Downloader fetches assets over HTTP. It does not retry.
type Downloader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDownloader creates a downloader whose requests time out after timeout.
func NewDownloader(timeout time.Duration) *Downloader {
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the downloader
func (d *Downloader) WithLogger(logger *slog.Logger) *Downloader {
	d.logger = logger
	return d
}

// Retrieve downloads href to dst. The body is written to dst.part and
// renamed once complete, so dst only ever holds a whole file.
func (d *Downloader) Retrieve(ctx context.Context, href, dst string) (err error) {
	d.logger.DebugContext(ctx, "downloading asset",
		slog.String("href", href),
		slog.String("dst", dst),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "burnmap/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download of %s failed: %w", href, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("download of %s returned status %d: %s", href, resp.StatusCode, string(body))
	}

	part := dst + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}
	defer func() {
		if err != nil {
			os.Remove(part)
		}
	}()

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}

	if err = os.Rename(part, dst); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}

	d.logger.DebugContext(ctx, "asset downloaded",
		slog.String("dst", dst),
		slog.Int64("bytes", n),
	)
	return nil
}
