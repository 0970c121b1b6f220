// Package app wires configuration into the loaders, triggers and adapters
// shared by the service and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/ftp"
	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/minio"
	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/noaa"
	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/postgres"
	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/redis"
	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/sqlite"
	"github.com/couchcryptid/qclcd-etl-service/internal/archive"
	"github.com/couchcryptid/qclcd-etl-service/internal/config"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
	"github.com/couchcryptid/qclcd-etl-service/internal/pipeline"
	"github.com/couchcryptid/qclcd-etl-service/internal/scheduler"
)

// Job names, also used as metric labels.
const (
	JobMetar        = "metar"
	JobCurrentMonth = "current_month"
	JobStations     = "stations"
)

// App holds the wired components.
type App struct {
	Sink     loader.Sink
	ETL      *pipeline.WeatherETL
	Metar    *pipeline.MetarIngestor
	Stations *pipeline.StationRefresher

	cfg     *config.Config
	pingers []func(context.Context) error
	closers []func() error
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New opens the configured sink and optional lock store and mirror, and
// builds the loaders on top of them. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{cfg: cfg, logger: logger, metrics: metrics}

	sink, ping, err := openSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Sink = sink
	a.pingers = append(a.pingers, ping)
	a.closers = append(a.closers, sink.Close)

	client := noaa.NewClient(cfg.DownloadTimeout, logger)

	fetchOpts := []archive.FetcherOption{archive.WithInterval(cfg.DownloadInterval)}
	if cfg.MinioEndpoint != "" {
		mirror, err := minio.NewMirror(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, logger)
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		fetchOpts = append(fetchOpts, archive.WithMirror(mirror))
		logger.Info("archive mirror enabled", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	}
	fetcher := archive.NewFetcher(cfg.QCLCDBaseURL, cfg.DataDir, client, logger, metrics, fetchOpts...)

	etlOpts := []pipeline.Option{pipeline.WithChunkSize(cfg.ChunkSize)}
	if cfg.RedisAddr != "" {
		locker, err := redis.NewLocker(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.LockTTL, logger)
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		etlOpts = append(etlOpts, pipeline.WithLocker(locker))
		a.pingers = append(a.pingers, locker.Ping)
		a.closers = append(a.closers, locker.Close)
		logger.Info("window locking enabled", "redis", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	a.ETL = pipeline.NewWeatherETL(sink, fetcher, logger, metrics, etlOpts...)
	a.Metar = pipeline.NewMetarIngestor(sink, client, cfg.MetarFeedURL, cfg.MetarFeedHeaderLines, logger, metrics)
	a.Stations = pipeline.NewStationRefresher(sink,
		ftp.NewSource(cfg.StationsFTPAddr, cfg.StationsFTPPath, cfg.DownloadTimeout, logger), logger, metrics)
	return a, nil
}

func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (loader.Sink, func(context.Context) error, error) {
	switch cfg.SinkDriver {
	case config.SinkSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite sink opened", "path", cfg.SQLitePath)
		return s, s.Ping, nil
	case config.SinkPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("postgres sink opened")
		return s, s.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink driver %q", cfg.SinkDriver)
	}
}

// IngestMetars loads the live feed, then drops reports the hourly archive
// already covers.
func (a *App) IngestMetars(ctx context.Context) error {
	if _, err := a.Metar.Ingest(ctx); err != nil {
		return err
	}
	_, err := pipeline.ClearMetars(ctx, a.Sink, a.logger)
	return err
}

// RefreshCurrentMonth reloads the window containing today.
func (a *App) RefreshCurrentMonth(ctx context.Context) error {
	now := domain.Now().UTC()
	_, err := a.ETL.RunWindow(ctx, domain.RunRequest{Year: now.Year(), Month: now.Month()})
	return err
}

// RefreshStations reloads the station table.
func (a *App) RefreshStations(ctx context.Context) error {
	_, err := a.Stations.Refresh(ctx)
	return err
}

// Jobs returns the periodic jobs on their configured schedules.
func (a *App) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: JobStations, Spec: a.cfg.StationsSchedule, Run: a.RefreshStations},
		{Name: JobMetar, Spec: a.cfg.MetarSchedule, Run: a.IngestMetars},
		{Name: JobCurrentMonth, Spec: a.cfg.CurrentMonthSchedule, Run: a.RefreshCurrentMonth},
	}
}

// CheckReadiness pings the sink and lock store.
func (a *App) CheckReadiness(ctx context.Context) error {
	for _, ping := range a.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
