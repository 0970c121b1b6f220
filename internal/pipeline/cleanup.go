package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
)

// ClearMetars deletes METAR reports older than the newest hourly archive
// observation; once QCLCD covers a period the live reports are redundant.
// Nothing is deleted while the hourly table is empty.
func ClearMetars(ctx context.Context, sink loader.Sink, logger *slog.Logger) (int64, error) {
	cutoff, ok, err := sink.MaxTime(ctx, loader.HourlyTarget, "datetime")
	if err != nil {
		return 0, err
	}
	if !ok {
		logger.Info("no hourly observations, keeping metars")
		return 0, nil
	}
	n, err := sink.DeleteBefore(ctx, loader.MetarTarget, "datetime", cutoff)
	if err != nil {
		return 0, err
	}
	logger.Info("cleared metars", "before", cutoff, "deleted", n)
	return n, nil
}
