// Package archive fetches QCLCD monthly archives and extracts their hourly
// and daily members.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// Downloader streams the body at url into w.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Mirror is a secondary archive store consulted before upstream.
// Get reports false when the mirror does not hold name.
type Mirror interface {
	Get(ctx context.Context, name string, w io.Writer) (bool, error)
	Put(ctx context.Context, name, path string) error
}

// Download outcomes for the archive_downloads_total metric.
const (
	outcomeCached   = "cached"
	outcomeMirror   = "mirror"
	outcomeUpstream = "upstream"
	outcomeError    = "error"
)

// Fetcher resolves a window to a local archive path, downloading it when
// needed. The current month is always downloaded again because NOAA keeps
// appending to it; older months are served from the local cache.
type Fetcher struct {
	baseURL    string
	dataDir    string
	downloader Downloader
	mirror     Mirror
	clock      clockwork.Clock
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// FetcherOption configures optional Fetcher collaborators.
type FetcherOption func(*Fetcher)

// WithMirror consults m on a local cache miss and uploads fresh downloads to it.
func WithMirror(m Mirror) FetcherOption {
	return func(f *Fetcher) { f.mirror = m }
}

// WithClock overrides the clock used for the current-month check.
func WithClock(c clockwork.Clock) FetcherOption {
	return func(f *Fetcher) { f.clock = c }
}

// WithInterval spaces upstream downloads at least d apart. Zero disables the limit.
func WithInterval(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		f.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewFetcher creates a Fetcher that stores archives under dataDir.
func NewFetcher(baseURL, dataDir string, d Downloader, logger *slog.Logger, metrics *observability.Metrics, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dataDir:    dataDir,
		downloader: d,
		clock:      clockwork.NewRealClock(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logger,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the upstream location of the window's archive.
func (f *Fetcher) URL(w domain.SourceWindow) string {
	return f.baseURL + "/" + w.Filename
}

// Fetch returns the local path of the window's archive.
func (f *Fetcher) Fetch(ctx context.Context, w domain.SourceWindow) (string, error) {
	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	dest := filepath.Join(f.dataDir, w.Filename)

	if w.IsCurrent(f.clock.Now()) {
		f.logger.Info("current month archive, downloading fresh copy", "window", w.String())
	} else {
		if _, err := os.Stat(dest); err == nil {
			f.logger.Debug("archive cached", "window", w.String(), "path", dest)
			f.metrics.ArchiveDownloads.WithLabelValues(outcomeCached).Inc()
			return dest, nil
		}
		if f.mirror != nil {
			ok, err := f.fromMirror(ctx, w.Filename, dest)
			switch {
			case err != nil:
				f.logger.Warn("archive mirror read failed, falling back to upstream",
					"window", w.String(), "error", err)
			case ok:
				f.logger.Info("archive restored from mirror", "window", w.String())
				f.metrics.ArchiveDownloads.WithLabelValues(outcomeMirror).Inc()
				return dest, nil
			}
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := f.URL(w)
	start := time.Now()
	n, err := f.writeAtomically(dest, func(out io.Writer) (int64, error) {
		return f.downloader.Download(ctx, url, out)
	})
	if err != nil {
		f.metrics.ArchiveDownloads.WithLabelValues(outcomeError).Inc()
		var netErr *domain.NetworkError
		if !errors.As(err, &netErr) {
			err = &domain.NetworkError{URL: url, Err: err}
		}
		return "", err
	}
	f.metrics.ArchiveDownloads.WithLabelValues(outcomeUpstream).Inc()
	f.logger.Info("archive downloaded",
		"window", w.String(), "bytes", n, "duration", time.Since(start))

	if f.mirror != nil {
		if err := f.mirror.Put(ctx, w.Filename, dest); err != nil {
			f.logger.Warn("archive mirror upload failed", "window", w.String(), "error", err)
		}
	}
	return dest, nil
}

func (f *Fetcher) fromMirror(ctx context.Context, name, dest string) (bool, error) {
	var found bool
	_, err := f.writeAtomically(dest, func(out io.Writer) (int64, error) {
		ok, err := f.mirror.Get(ctx, name, out)
		if err == nil && !ok {
			err = errNotMirrored
		}
		found = ok
		return 0, err
	})
	if errors.Is(err, errNotMirrored) {
		return false, nil
	}
	return found, err
}

var errNotMirrored = errors.New("not mirrored")

// writeAtomically writes to a temp file beside dest and renames it into place
// only when fill succeeds, so a failed download never leaves a partial archive
// in the cache.
func (f *Fetcher) writeAtomically(dest string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	n, err := fill(tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("move archive into place: %w", err)
	}
	return n, nil
}
