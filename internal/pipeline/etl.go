package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/qclcd-etl-service/internal/archive"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// DefaultChunkSize is the number of accepted rows staged and merged at a time.
const DefaultChunkSize = 100_000

// ArchiveFetcher resolves a window to a local archive path.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, w domain.SourceWindow) (string, error)
}

// Locker takes named, non-blocking locks. When ok is true the caller must
// call unlock.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, ok bool, err error)
}

// NoopLocker always grants the lock. It is used when no lock store is
// configured and a single worker runs.
type NoopLocker struct{}

// TryLock implements Locker.
func (NoopLocker) TryLock(context.Context, string) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// ErrWindowLocked is returned when another worker holds the window's lock.
var ErrWindowLocked = errors.New("window is locked by another run")

// WeatherETL loads QCLCD monthly windows into the observation tables.
type WeatherETL struct {
	sink        loader.Sink
	fetcher     ArchiveFetcher
	transformer *Transformer
	stager      *loader.Stager
	merger      *loader.Merger
	locker      Locker
	chunkSize   int
	clock       clockwork.Clock
	progress    func(span string, read int)
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Option configures a WeatherETL.
type Option func(*WeatherETL)

// WithChunkSize sets the rows per stage-and-merge chunk.
func WithChunkSize(n int) Option {
	return func(e *WeatherETL) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLocker serializes runs of the same window across workers.
func WithLocker(l Locker) Option {
	return func(e *WeatherETL) { e.locker = l }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(e *WeatherETL) { e.clock = c }
}

// WithProgress reports rows read every 10% of a chunk.
func WithProgress(fn func(span string, read int)) Option {
	return func(e *WeatherETL) { e.progress = fn }
}

// NewWeatherETL wires the load path over sink.
func NewWeatherETL(sink loader.Sink, fetcher ArchiveFetcher, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *WeatherETL {
	e := &WeatherETL{
		sink:        sink,
		fetcher:     fetcher,
		transformer: NewTransformer(logger, metrics),
		stager:      loader.NewStager(sink, logger),
		merger:      loader.NewMerger(sink, logger),
		locker:      NoopLocker{},
		chunkSize:   DefaultChunkSize,
		clock:       clockwork.NewRealClock(),
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureTables creates the persisted tables and their key indexes.
func (e *WeatherETL) EnsureTables(ctx context.Context) error {
	for _, t := range loader.TargetTables() {
		if err := e.sink.CreateTable(ctx, t); err != nil {
			return err
		}
	}
	e.logger.Info("tables ready", "count", len(loader.TargetTables()))
	return nil
}

// RunWindow fetches, transforms and loads one monthly window: the daily
// span first, then the hourly span in chunks. The returned result is
// populated even when err is non-nil.
func (e *WeatherETL) RunWindow(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	start := e.clock.Now().UTC()
	result := domain.RunResult{
		RunID:     uuid.NewString(),
		Window:    fmt.Sprintf("%04d%02d", req.Year, int(req.Month)),
		StartedAt: start,
	}
	finish := func(err error) (domain.RunResult, error) {
		result.FinishedAt = e.clock.Now().UTC()
		result.Duration = result.FinishedAt.Sub(start)
		switch {
		case errors.Is(err, ErrWindowLocked):
			result.Status = domain.StatusSkipped
			result.Error = err.Error()
			err = nil
		case err != nil:
			result.Status = domain.StatusFailed
			result.ErrorKind = domain.ErrorCategory(err)
			result.Error = err.Error()
		default:
			result.Status = domain.StatusSucceeded
		}
		e.metrics.RunDuration.Observe(result.Duration.Seconds())
		log := e.logger.With("run_id", result.RunID, "window", result.Window, "status", result.Status)
		if err != nil {
			log.Error("window run failed", "error", err, "error_kind", result.ErrorKind)
		} else {
			log.Info("window run finished", "inserted", result.Inserted(), "duration", result.Duration)
		}
		return result, err
	}

	if err := req.Validate(); err != nil {
		return finish(err)
	}
	w, err := domain.ResolveWindow(req.Year, req.Month)
	if err != nil {
		return finish(err)
	}
	result.Archive = w.Filename

	unlock, ok, err := e.locker.TryLock(ctx, "window:"+w.YearMonth())
	if err != nil {
		return finish(err)
	}
	if !ok {
		return finish(ErrWindowLocked)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("release window lock failed", "window", w.YearMonth(), "error", err)
		}
	}()

	e.logger.Info("window run started", "run_id", result.RunID, "window", w.YearMonth(), "era", w.Era, "archive", w.Filename, "source", req.Source)

	path, err := e.fetcher.Fetch(ctx, w)
	if err != nil {
		return finish(err)
	}
	members, err := archive.Extract(path, w)
	if err != nil {
		return finish(err)
	}

	opts := TransformOptions{
		Stations:      req.Stations,
		Banned:        req.BannedStations,
		StartLine:     req.StartLine,
		EndLine:       req.EndLine,
		Progress:      e.progress,
		ProgressEvery: max(e.chunkSize/10, 1),
	}

	if req.SkipDaily {
		e.metrics.RunsTotal.WithLabelValues(SpanDaily, domain.StatusSkipped).Inc()
	} else {
		src, err := e.transformer.OpenDaily(members.Daily, w.Era, opts)
		if err != nil {
			e.metrics.RunsTotal.WithLabelValues(SpanDaily, domain.StatusFailed).Inc()
			return finish(err)
		}
		span, err := e.loadSpan(ctx, src, loader.DailyStaging, loader.DailyTarget)
		result.Spans = append(result.Spans, span)
		if err != nil {
			return finish(err)
		}
	}

	if req.SkipHourly {
		e.metrics.RunsTotal.WithLabelValues(SpanHourly, domain.StatusSkipped).Inc()
	} else {
		src, err := e.transformer.OpenHourly(members.Hourly, w.Era, opts)
		if err != nil {
			e.metrics.RunsTotal.WithLabelValues(SpanHourly, domain.StatusFailed).Inc()
			return finish(err)
		}
		span, err := e.loadSpan(ctx, src, loader.HourlyStaging, loader.HourlyTarget)
		result.Spans = append(result.Spans, span)
		if err != nil {
			return finish(err)
		}
	}

	return finish(nil)
}

// loadSpan stages and merges src chunk by chunk until it is exhausted.
func (e *WeatherETL) loadSpan(ctx context.Context, src *RowSource, staging, target loader.Table) (domain.SpanResult, error) {
	var staged, inserted int64
	chunks := 0
	result := func(err error) (domain.SpanResult, error) {
		r := src.Stats()
		r.Staged, r.Inserted, r.Chunks = staged, inserted, chunks
		outcome := domain.StatusSucceeded
		if err != nil {
			outcome = domain.StatusFailed
		}
		e.metrics.RunsTotal.WithLabelValues(r.Span, outcome).Inc()
		return r, err
	}

	for !src.Done() {
		n, err := e.stager.Stage(ctx, staging, src.Chunk(e.chunkSize))
		if err != nil {
			return result(err)
		}
		if err := src.Err(); err != nil {
			return result(err)
		}
		if n == 0 {
			continue
		}
		added, err := e.merger.Merge(ctx, staging, target)
		if err != nil {
			return result(err)
		}
		chunks++
		staged += n
		inserted += added
		e.metrics.RowsStaged.WithLabelValues(src.span).Add(float64(n))
		e.metrics.RowsInserted.WithLabelValues(src.span).Add(float64(added))
		e.logger.Debug("chunk loaded", "span", src.span, "chunk", chunks, "staged", n, "inserted", added)
	}
	return result(nil)
}

// Backfill runs every window from (fromYear, fromMonth) through (toYear,
// toMonth) in order, stopping at the first failed window.
func (e *WeatherETL) Backfill(ctx context.Context, fromYear int, fromMonth time.Month, toYear int, toMonth time.Month, template domain.RunRequest) ([]domain.RunResult, error) {
	windows, err := domain.WindowsBetween(fromYear, fromMonth, toYear, toMonth)
	if err != nil {
		return nil, err
	}
	results := make([]domain.RunResult, 0, len(windows))
	for _, w := range windows {
		req := template
		req.Year, req.Month = w.Year, w.Month
		res, err := e.RunWindow(ctx, req)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("backfill stopped at %s: %w", w.YearMonth(), err)
		}
	}
	return results, nil
}
