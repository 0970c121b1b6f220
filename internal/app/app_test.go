package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/qclcd-etl-service/internal/app"
	"github.com/couchcryptid/qclcd-etl-service/internal/config"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		SinkDriver:           config.SinkSQLite,
		SQLitePath:           filepath.Join(dir, "qclcd.db"),
		DataDir:              dir,
		QCLCDBaseURL:         "http://127.0.0.1:1/qclcd",
		DownloadTimeout:      time.Second,
		ChunkSize:            1000,
		MetarFeedURL:         "http://127.0.0.1:1/metars.cache.csv",
		MetarFeedHeaderLines: 5,
		StationsFTPAddr:      "127.0.0.1:1",
		StationsFTPPath:      "/isd-history.csv",
		MetarSchedule:        "0 */15 * * * *",
		CurrentMonthSchedule: "",
		StationsSchedule:     "0 0 5 * * 0",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, sqliteConfig(t), discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.CheckReadiness(ctx))
	require.NoError(t, a.ETL.EnsureTables(ctx))

	cols, err := a.Sink.TableColumns(ctx, loader.HourlyTarget.Name)
	require.NoError(t, err)
	assert.Contains(t, cols, "wban_code")

	var names, specs []string
	for _, j := range a.Jobs() {
		names = append(names, j.Name)
		specs = append(specs, j.Spec)
		assert.NotNil(t, j.Run)
	}
	assert.Equal(t, []string{app.JobStations, app.JobMetar, app.JobCurrentMonth}, names)
	assert.Equal(t, []string{"0 0 5 * * 0", "0 */15 * * * *", ""}, specs)

	require.NoError(t, a.Close())
	assert.Error(t, a.CheckReadiness(ctx), "closed sink is not ready")
}

func TestNew_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown sink driver", func(t *testing.T) {
		cfg := sqliteConfig(t)
		cfg.SinkDriver = "oracle"
		_, err := app.New(ctx, cfg, discardLogger(), observability.NewMetricsForTesting())
		require.ErrorContains(t, err, "oracle")
	})

	t.Run("unreachable lock store", func(t *testing.T) {
		cfg := sqliteConfig(t)
		cfg.RedisAddr = "127.0.0.1:1"
		cfg.LockTTL = time.Minute
		_, err := app.New(ctx, cfg, discardLogger(), observability.NewMetricsForTesting())
		require.Error(t, err)
	})
}

func TestIngestMetars_NetworkFailure(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, sqliteConfig(t), discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	err = a.IngestMetars(ctx)
	require.Error(t, err)
}

func TestRefreshCurrentMonth_FollowsDomainClock(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2014, time.August, 15, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := sqliteConfig(t)
	cfg.QCLCDBaseURL = srv.URL + "/qclcd"

	ctx := context.Background()
	a, err := app.New(ctx, cfg, discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.ETL.EnsureTables(ctx))

	err = a.RefreshCurrentMonth(ctx)
	require.Error(t, err)
	assert.Equal(t, "network", domain.ErrorCategory(err))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/qclcd/QCLCD201408.zip"}, paths)
}
