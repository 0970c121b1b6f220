//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/noaa"
	"github.com/couchcryptid/qclcd-etl-service/internal/archive"
	"github.com/couchcryptid/qclcd-etl-service/internal/archive/archivetest"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("qclcd-test"))
	testcontainers.CleanupContainer(t, kc)
	require.NoError(t, err, "start kafka")

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// startPostgres runs a throwaway database and returns its DSN.
func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("weather"),
		tcpostgres.WithUsername("etl"),
		tcpostgres.WithPassword("etl"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, pg)
	require.NoError(t, err, "start postgres")

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// cachedFetcher returns a real Fetcher whose data dir already holds the
// August 2014 archive, so no download happens for that window.
func cachedFetcher(t *testing.T) (*archive.Fetcher, domain.SourceWindow) {
	t.Helper()
	w, err := domain.ResolveWindow(2014, time.August)
	require.NoError(t, err)

	dir := t.TempDir()
	hourly := archivetest.File(archivetest.ModernHourlyHeader,
		hourlyRow("94846", "20140801", "0051", "71"),
		hourlyRow("94846", "20140801", "0151", "70"),
		hourlyRow("14819", "20140801", "0053", "73"),
	)
	daily := archivetest.File(archivetest.ModernDailyHeader,
		dailyRow("94846", "20140801"),
		dailyRow("14819", "20140801"),
	)
	require.NoError(t, archivetest.WriteZip(filepath.Join(dir, w.Filename), map[string][]byte{
		w.YearMonth() + domain.HourlyMemberSuffix: hourly,
		w.YearMonth() + domain.DailyMemberSuffix:  daily,
	}))

	// The base URL is unroutable; a cache miss fails the run.
	f := archive.NewFetcher("http://127.0.0.1:1", dir, noaa.NewClient(time.Second, discardLogger()),
		discardLogger(), observability.NewMetricsForTesting())
	return f, w
}

func hourlyRow(wban, date, hhmm, temp string) []string {
	return archivetest.Row(archivetest.ModernHourlyHeader, map[string]string{
		"WBAN":             wban,
		"Date":             date,
		"Time":             hhmm,
		"StationType":      "11",
		"SkyCondition":     "FEW020",
		"Visibility":       "10.00",
		"DryBulbFarenheit": temp,
		"WindSpeed":        "7",
		"WindDirection":    "200",
		"RecordType":       "AA",
		"HourlyPrecip":     "T",
	})
}

func dailyRow(wban, date string) []string {
	return archivetest.Row(archivetest.ModernDailyHeader, map[string]string{
		"WBAN":         wban,
		"YearMonthDay": date,
		"Tmax":         "84",
		"Tmin":         "66",
		"Tavg":         "75",
		"CodeSum":      "RA BR",
		"PrecipTotal":  "0.41",
	})
}
