package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// StationSource opens the ISD station history list.
type StationSource interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
}

// StationRefresher replaces the station table from the ISD history list.
type StationRefresher struct {
	source  StationSource
	stager  *loader.Stager
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewStationRefresher creates a refresher that loads through sink.
func NewStationRefresher(sink loader.Sink, source StationSource, logger *slog.Logger, metrics *observability.Metrics) *StationRefresher {
	return &StationRefresher{
		source:  source,
		stager:  loader.NewStager(sink, logger),
		logger:  logger,
		metrics: metrics,
	}
}

// Refresh downloads and cleans the station list and replaces the table
// wholesale. It returns the number of stations loaded.
func (r *StationRefresher) Refresh(ctx context.Context) (int64, error) {
	n, err := r.refresh(ctx)
	outcome := domain.StatusSucceeded
	if err != nil {
		outcome = domain.StatusFailed
	}
	r.metrics.RunsTotal.WithLabelValues(SpanStations, outcome).Inc()
	return n, err
}

func (r *StationRefresher) refresh(ctx context.Context) (int64, error) {
	rc, err := r.source.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	stations, stats, err := domain.ParseStationList(rc)
	if closeErr := rc.Close(); closeErr != nil {
		r.logger.Warn("close station list", "error", closeErr)
	}
	if err != nil {
		return 0, err
	}

	skipped := map[string]int{
		"incomplete":  stats.Incomplete,
		"duplicate":   stats.Duplicate,
		"unknown_id":  stats.UnknownID,
		"no_location": stats.NoLocation,
	}
	for reason, n := range skipped {
		if n > 0 {
			r.metrics.RowsSkipped.WithLabelValues(SpanStations, reason).Add(float64(n))
		}
	}

	n, err := r.stager.Stage(ctx, loader.Stations, recordsOf(stations))
	if err != nil {
		return 0, err
	}
	r.metrics.RowsStaged.WithLabelValues(SpanStations).Add(float64(n))
	r.logger.Info("stations refreshed", "read", stats.Read, "loaded", n,
		"incomplete", stats.Incomplete, "duplicate", stats.Duplicate,
		"unknown_id", stats.UnknownID, "no_location", stats.NoLocation)
	return n, nil
}
