// Package noaa downloads QCLCD archives and the METAR cache feed over HTTP.
package noaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

const userAgent = "qclcd-etl-service"

// maxErrorBody bounds how much of a failed response body is kept in the error.
const maxErrorBody = 512

// Client implements archive.Downloader over plain HTTP GETs.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client whose requests time out after timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Download streams the body at url into w. Transport failures and non-200
// responses are returned as *domain.NetworkError.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &domain.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &domain.NetworkError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        errors.New(string(body)),
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &domain.NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Debug("downloaded", "url", url, "bytes", n, "duration", time.Since(start))
	return n, nil
}
