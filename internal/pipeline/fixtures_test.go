package pipeline_test

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/qclcd-etl-service/internal/adapter/sqlite"
	"github.com/couchcryptid/qclcd-etl-service/internal/archive/archivetest"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// openBareSink opens an empty database with no tables.
func openBareSink(t *testing.T) *sqlite.Sink {
	t.Helper()
	sink, err := sqlite.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func openSink(t *testing.T) *sqlite.Sink {
	t.Helper()
	sink := openBareSink(t)
	for _, tbl := range loader.TargetTables() {
		require.NoError(t, sink.CreateTable(context.Background(), tbl))
	}
	return sink
}

func countRows(t *testing.T, sink *sqlite.Sink, table string) int {
	t.Helper()
	var n int
	require.NoError(t, sink.DB().QueryRow("SELECT COUNT(*) FROM "+loader.QuoteIdent(table)).Scan(&n))
	return n
}

func records[T domain.Record](rs ...T) iter.Seq[domain.Record] {
	return func(yield func(domain.Record) bool) {
		for _, r := range rs {
			if !yield(r) {
				return
			}
		}
	}
}

func modernHourly(wban, date, hhmm, temp string) []string {
	return archivetest.Row(archivetest.ModernHourlyHeader, map[string]string{
		"WBAN":             wban,
		"Date":             date,
		"Time":             hhmm,
		"StationType":      "11",
		"SkyCondition":     "FEW020 BKN250",
		"Visibility":       "10.00",
		"WeatherType":      "-RA",
		"DryBulbFarenheit": temp,
		"WindSpeed":        "5",
		"WindDirection":    "090",
		"RecordType":       "AA",
		"HourlyPrecip":     "T",
	})
}

func modernDaily(wban, date string) []string {
	return archivetest.Row(archivetest.ModernDailyHeader, map[string]string{
		"WBAN":         wban,
		"YearMonthDay": date,
		"Tmax":         "80",
		"Tmin":         "61",
		"Tavg":         "71",
		"CodeSum":      "RA BR",
		"PrecipTotal":  "0.25",
		"ResultSpeed":  "5.5",
		"ResultDir":    "33",
	})
}

func legacyHourly(wban, date, hhmm, recordType string) []string {
	return archivetest.Row(archivetest.LegacyHourlyHeader, map[string]string{
		"Wban Number":        wban,
		"YearMonthDay":       date,
		"Time":               hhmm,
		"Station Type":       "AO2",
		"Sky Conditions":     "CLR",
		"Visibility":         "10SM",
		"Dry Bulb Temp":      "62",
		"Wind Speed (kt)":    "5",
		"Wind Direction":     "90",
		"Record Type":        recordType,
		"Sea Level Pressure": "30.01",
	})
}

func legacyDaily(wban, date string) []string {
	return archivetest.Row(archivetest.LegacyDailyHeader, map[string]string{
		"Wban Number":  wban,
		"YearMonthDay": date,
		"Max Temp":     "80",
		"Min Temp":     "61",
		"Avg Temp":     "71",
	})
}

// writeModernArchive writes QCLCDYYYYMM.zip for the window into dir.
func writeModernArchive(t *testing.T, dir string, w domain.SourceWindow, hourly, daily [][]string) string {
	t.Helper()
	path := filepath.Join(dir, w.Filename)
	require.NoError(t, archivetest.WriteZip(path, map[string][]byte{
		w.YearMonth() + "hourly.txt":  archivetest.File(archivetest.ModernHourlyHeader, hourly...),
		w.YearMonth() + "daily.txt":   archivetest.File(archivetest.ModernDailyHeader, daily...),
		w.YearMonth() + "station.txt": []byte("WBAN|WMO|CallSign\r\n"),
	}))
	return path
}

// writeLegacyArchive writes YYYYMM.tar.gz for the window into dir.
func writeLegacyArchive(t *testing.T, dir string, w domain.SourceWindow, hourly, daily [][]string) string {
	t.Helper()
	path := filepath.Join(dir, w.Filename)
	require.NoError(t, archivetest.WriteTarGz(path, map[string][]byte{
		w.YearMonth() + "hourly.txt": archivetest.File(archivetest.LegacyHourlyHeader, hourly...),
		w.YearMonth() + "daily.txt":  archivetest.File(archivetest.LegacyDailyHeader, daily...),
	}))
	return path
}

// fakeFetcher serves archives already written to disk.
type fakeFetcher struct {
	paths map[string]string // keyed by YYYYMM
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, w domain.SourceWindow) (string, error) {
	f.calls = append(f.calls, w.YearMonth())
	if f.err != nil {
		return "", f.err
	}
	path, ok := f.paths[w.YearMonth()]
	if !ok {
		return "", &domain.NetworkError{URL: w.Filename, StatusCode: 404, Err: io.EOF}
	}
	return path, nil
}
