package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/qclcd-etl-service/internal/archive"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/metar"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// MetarIngestor loads the live METAR cache feed into the METAR table.
type MetarIngestor struct {
	sink        loader.Sink
	downloader  archive.Downloader
	feedURL     string
	headerLines int
	stager      *loader.Stager
	merger      *loader.Merger
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewMetarIngestor creates an ingestor for the feed at feedURL, whose CSV
// header follows headerLines preamble lines.
func NewMetarIngestor(sink loader.Sink, d archive.Downloader, feedURL string, headerLines int, logger *slog.Logger, metrics *observability.Metrics) *MetarIngestor {
	return &MetarIngestor{
		sink:        sink,
		downloader:  d,
		feedURL:     feedURL,
		headerLines: headerLines,
		stager:      loader.NewStager(sink, logger),
		merger:      loader.NewMerger(sink, logger),
		logger:      logger,
		metrics:     metrics,
	}
}

// Ingest fetches the feed, decodes each report, maps call signs to WBAN
// codes through the station table, and merges new reports. Reports that
// fail to decode or whose station is unknown are skipped and counted.
func (m *MetarIngestor) Ingest(ctx context.Context) (domain.SpanResult, error) {
	res := domain.SpanResult{Span: SpanMetar, Skipped: map[string]int{}}
	fail := func(err error) (domain.SpanResult, error) {
		m.metrics.RunsTotal.WithLabelValues(SpanMetar, domain.StatusFailed).Inc()
		return res, err
	}

	var buf bytes.Buffer
	if _, err := m.downloader.Download(ctx, m.feedURL, &buf); err != nil {
		return fail(err)
	}
	rows, badTimes, err := metar.ParseFeed(&buf, m.headerLines)
	if err != nil {
		return fail(&domain.SourceError{Source: m.feedURL, Err: err})
	}
	res.Read = len(rows) + badTimes
	if badTimes > 0 {
		m.count(&res, SkipDecodeError, badTimes)
	}

	callsigns, err := m.sink.KeyValues(ctx, loader.Stations, "call_sign", "wban_code")
	if err != nil {
		return fail(fmt.Errorf("load station call signs: %w", err))
	}

	obs := make([]domain.MetarObservation, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		rep, err := metar.Decode(row.RawText, row.ObservationTime)
		if err != nil {
			m.logger.Debug("metar skipped", "station", row.StationID, "raw", row.RawText, "error", err)
			m.count(&res, SkipDecodeError, 1)
			continue
		}
		wban, ok := callsigns[rep.StationID]
		if !ok {
			m.count(&res, SkipUnknownStation, 1)
			continue
		}
		o, err := metar.ToObservation(rep, wban)
		if err != nil {
			m.logger.Debug("metar skipped", "station", row.StationID, "raw", row.RawText, "error", err)
			m.count(&res, SkipDecodeError, 1)
			continue
		}
		if _, dup := seen[o.Key()]; dup {
			m.count(&res, SkipDuplicateKey, 1)
			continue
		}
		seen[o.Key()] = struct{}{}
		obs = append(obs, o)
	}

	staged, err := m.stager.Stage(ctx, loader.MetarStaging, recordsOf(obs))
	if err != nil {
		return fail(err)
	}
	inserted, err := m.merger.Merge(ctx, loader.MetarStaging, loader.MetarTarget)
	if err != nil {
		return fail(err)
	}
	res.Staged, res.Inserted, res.Chunks = staged, inserted, 1

	m.metrics.RowsStaged.WithLabelValues(SpanMetar).Add(float64(staged))
	m.metrics.RowsInserted.WithLabelValues(SpanMetar).Add(float64(inserted))
	m.metrics.RunsTotal.WithLabelValues(SpanMetar, domain.StatusSucceeded).Inc()
	m.logger.Info("metar feed ingested", "read", res.Read, "staged", staged, "inserted", inserted, "skipped", res.Skipped)
	return res, nil
}

func (m *MetarIngestor) count(res *domain.SpanResult, reason string, n int) {
	res.Skipped[reason] += n
	m.metrics.RowsSkipped.WithLabelValues(SpanMetar, reason).Add(float64(n))
}
