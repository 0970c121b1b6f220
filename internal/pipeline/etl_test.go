package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/qclcd-etl-service/internal/archive/archivetest"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
	"github.com/couchcryptid/qclcd-etl-service/internal/pipeline"
)

func window(t *testing.T, year int, month time.Month) domain.SourceWindow {
	t.Helper()
	w, err := domain.ResolveWindow(year, month)
	require.NoError(t, err)
	return w
}

func spanByName(t *testing.T, res domain.RunResult, span string) domain.SpanResult {
	t.Helper()
	for _, s := range res.Spans {
		if s.Span == span {
			return s
		}
	}
	t.Fatalf("span %q not in result", span)
	return domain.SpanResult{}
}

func TestWeatherETL_ModernWindowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	metrics := newTestMetrics()
	w := window(t, 2014, time.August)
	fetcher := &fakeFetcher{paths: map[string]string{
		"201408": writeModernArchive(t, t.TempDir(), w,
			[][]string{
				modernHourly("14920", "20140801", "0051", "62"),
				modernHourly("14920", "20140801", "0151", "61"),
				modernHourly("94846", "20140801", "0051", "70"),
			},
			[][]string{
				modernDaily("14920", "20140801"),
				modernDaily("94846", "20140801"),
			}),
	}}
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), metrics, pipeline.WithClock(clock))

	req := domain.RunRequest{Year: 2014, Month: time.August}
	res, err := etl.RunWindow(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Equal(t, "201408", res.Window)
	assert.Equal(t, "QCLCD201408.zip", res.Archive)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, clock.Now(), res.StartedAt)
	require.Len(t, res.Spans, 2)
	assert.Equal(t, pipeline.SpanDaily, res.Spans[0].Span, "daily loads first")
	assert.Equal(t, int64(2), spanByName(t, res, pipeline.SpanDaily).Inserted)
	assert.Equal(t, int64(3), spanByName(t, res, pipeline.SpanHourly).Inserted)
	assert.Equal(t, int64(5), res.Inserted())
	assert.Equal(t, 3, countRows(t, sink, loader.HourlyTarget.Name))
	assert.Equal(t, 2, countRows(t, sink, loader.DailyTarget.Name))

	again, err := etl.RunWindow(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, res.RunID, again.RunID)
	assert.Equal(t, int64(3), spanByName(t, again, pipeline.SpanHourly).Staged)
	assert.Zero(t, again.Inserted(), "rerun inserts nothing")
	assert.Equal(t, 3, countRows(t, sink, loader.HourlyTarget.Name))

	assert.InDelta(t, 6, testutil.ToFloat64(metrics.RowsStaged.WithLabelValues(pipeline.SpanHourly)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.RowsInserted.WithLabelValues(pipeline.SpanHourly)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(pipeline.SpanHourly, domain.StatusSucceeded)), 0)
}

func TestWeatherETL_LegacyWindow(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	w := window(t, 2006, time.April)
	fetcher := &fakeFetcher{paths: map[string]string{
		"200604": writeLegacyArchive(t, t.TempDir(), w,
			[][]string{
				legacyHourly("03017", "20060401", "0000", "AA"),
				legacyHourly("03017", "20060401", "0053", "AA"),
				legacyHourly("03017", "20060401", "0112", "SP"),
			},
			[][]string{legacyDaily("03017", "20060401")}),
	}}
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

	res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2006, Month: time.April})
	require.NoError(t, err)
	assert.Equal(t, "200604.tar.gz", res.Archive)

	hourly := spanByName(t, res, pipeline.SpanHourly)
	assert.Equal(t, 3, hourly.Read)
	assert.Equal(t, int64(2), hourly.Inserted)
	assert.Equal(t, 1, hourly.Skipped[domain.DropSpecialReport])

	var wban string
	require.NoError(t, sink.DB().QueryRow(`SELECT DISTINCT wban_code FROM dat_weather_observations_hourly`).Scan(&wban))
	assert.Equal(t, "3017", wban, "zero padding stripped")
	assert.Equal(t, 1, countRows(t, sink, loader.DailyTarget.Name))
}

func TestWeatherETL_LegacyTarWithoutHourlyMember(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	w := window(t, 2004, time.August)

	// The hourly member in this tarball belongs to another month.
	path := filepath.Join(t.TempDir(), w.Filename)
	require.NoError(t, archivetest.WriteTarGz(path, map[string][]byte{
		"200408daily.txt":  archivetest.File(archivetest.LegacyDailyHeader, legacyDaily("03017", "20040801")),
		"200512hourly.txt": archivetest.File(archivetest.LegacyHourlyHeader, legacyHourly("03017", "20051201", "0053", "AA")),
	}))
	fetcher := &fakeFetcher{paths: map[string]string{"200408": path}}
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

	res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2004, Month: time.August})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, res.Status)
	assert.Equal(t, int64(1), spanByName(t, res, pipeline.SpanDaily).Inserted)

	hourly := spanByName(t, res, pipeline.SpanHourly)
	assert.Zero(t, hourly.Read)
	assert.Zero(t, hourly.Inserted)
	assert.Zero(t, countRows(t, sink, loader.HourlyTarget.Name))
}

func TestWeatherETL_Chunking(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	w := window(t, 2014, time.August)

	var rows [][]string
	for _, hhmm := range []string{"0051", "0151", "0251", "0351", "0451"} {
		rows = append(rows, modernHourly("14920", "20140801", hhmm, "62"))
	}
	// A repeated key lands in the same chunk as its first occurrence.
	rows = append(rows, modernHourly("14920", "20140801", "0451", "99"))

	fetcher := &fakeFetcher{paths: map[string]string{
		"201408": writeModernArchive(t, t.TempDir(), w, rows, nil),
	}}
	var progress []int
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics(),
		pipeline.WithChunkSize(2),
		pipeline.WithProgress(func(span string, read int) {
			if span == pipeline.SpanHourly {
				progress = append(progress, read)
			}
		}),
	)

	res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August, SkipDaily: true})
	require.NoError(t, err)

	hourly := spanByName(t, res, pipeline.SpanHourly)
	assert.Equal(t, 6, hourly.Read)
	assert.Equal(t, 3, hourly.Chunks)
	assert.Equal(t, int64(5), hourly.Staged)
	assert.Equal(t, int64(5), hourly.Inserted)
	assert.Equal(t, 1, hourly.Skipped[pipeline.SkipDuplicateKey])
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, progress)
}

func TestWeatherETL_StationFilter(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	w := window(t, 2014, time.August)
	fetcher := &fakeFetcher{paths: map[string]string{
		"201408": writeModernArchive(t, t.TempDir(), w,
			[][]string{
				modernHourly("14920", "20140801", "0051", "62"),
				modernHourly("94846", "20140801", "0051", "70"),
				modernHourly("14819", "20140801", "0051", "71"),
			},
			[][]string{
				modernDaily("14920", "20140801"),
				modernDaily("94846", "20140801"),
				modernDaily("14819", "20140801"),
			}),
	}}
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

	res, err := etl.RunWindow(ctx, domain.RunRequest{
		Year:           2014,
		Month:          time.August,
		Stations:       []string{"14920", "94846"},
		BannedStations: []string{"94846"},
	})
	require.NoError(t, err)

	for _, span := range res.Spans {
		assert.Equal(t, int64(1), span.Inserted, span.Span)
		assert.Equal(t, 2, span.Skipped[pipeline.SkipStationFilter], span.Span)
	}
}

func TestWeatherETL_SkipDaily(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	metrics := newTestMetrics()
	w := window(t, 2014, time.August)
	fetcher := &fakeFetcher{paths: map[string]string{
		"201408": writeModernArchive(t, t.TempDir(), w,
			[][]string{modernHourly("14920", "20140801", "0051", "62")},
			[][]string{modernDaily("14920", "20140801")}),
	}}
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), metrics)

	res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August, SkipDaily: true})
	require.NoError(t, err)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, pipeline.SpanHourly, res.Spans[0].Span)
	assert.Zero(t, countRows(t, sink, loader.DailyTarget.Name))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(pipeline.SpanDaily, domain.StatusSkipped)), 0)
}

func TestWeatherETL_LineRange(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	w := window(t, 2014, time.August)
	var rows [][]string
	for _, hhmm := range []string{"0051", "0151", "0251", "0351", "0451"} {
		rows = append(rows, modernHourly("14920", "20140801", hhmm, "62"))
	}
	fetcher := &fakeFetcher{paths: map[string]string{
		"201408": writeModernArchive(t, t.TempDir(), w, rows, nil),
	}}
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

	res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August, SkipDaily: true, StartLine: 1, EndLine: 3})
	require.NoError(t, err)
	hourly := spanByName(t, res, pipeline.SpanHourly)
	assert.Equal(t, 2, hourly.Read)
	assert.Equal(t, int64(2), hourly.Inserted)

	var first string
	require.NoError(t, sink.DB().QueryRow(`SELECT MIN(datetime) FROM dat_weather_observations_hourly`).Scan(&first))
	assert.Equal(t, "2014-08-01 01:51:00", first)
}

func TestWeatherETL_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("download failure is a network error", func(t *testing.T) {
		sink := openSink(t)
		fetcher := &fakeFetcher{err: &domain.NetworkError{URL: "QCLCD201408.zip", StatusCode: 503, Err: errors.New("unavailable")}}
		etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

		res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		require.Error(t, err)
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Equal(t, "network", res.ErrorKind)
		assert.Contains(t, res.Error, "503")
		assert.Empty(t, res.Spans)
	})

	t.Run("invalid request fails before fetching", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		etl := pipeline.NewWeatherETL(openSink(t), fetcher, discardLogger(), newTestMetrics())

		res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: 13})
		require.Error(t, err)
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Empty(t, fetcher.calls)
	})

	t.Run("member missing a required column is a source error", func(t *testing.T) {
		w := window(t, 2014, time.August)
		path := filepath.Join(t.TempDir(), w.Filename)
		require.NoError(t, archivetest.WriteZip(path, map[string][]byte{
			"201408daily.txt":  archivetest.File([]string{"WBAN", "Tmax"}, []string{"14920", "80"}),
			"201408hourly.txt": archivetest.File(archivetest.ModernHourlyHeader),
		}))
		etl := pipeline.NewWeatherETL(openSink(t), &fakeFetcher{paths: map[string]string{"201408": path}}, discardLogger(), newTestMetrics())

		res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		var srcErr *domain.SourceError
		require.ErrorAs(t, err, &srcErr)
		assert.Equal(t, "source", res.ErrorKind)
		assert.Contains(t, err.Error(), "YearMonthDay")
	})

	t.Run("missing target table is a merge error", func(t *testing.T) {
		sink := openBareSink(t)
		w := window(t, 2014, time.August)
		fetcher := &fakeFetcher{paths: map[string]string{
			"201408": writeModernArchive(t, t.TempDir(), w, nil, [][]string{modernDaily("14920", "20140801")}),
		}}
		etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

		res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		require.Error(t, err)
		assert.Equal(t, "merge", res.ErrorKind)
		require.Len(t, res.Spans, 1, "the failed span is still reported")
		assert.Equal(t, int64(0), res.Spans[0].Inserted)

		// EnsureTables repairs it.
		require.NoError(t, etl.EnsureTables(ctx))
		res, err = etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Inserted())
	})
}

type fakeLocker struct {
	held     map[string]bool
	released []string
	err      error
}

func (l *fakeLocker) TryLock(_ context.Context, name string) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[name] {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released = append(l.released, name)
		return nil
	}, true, nil
}

func TestWeatherETL_Locking(t *testing.T) {
	ctx := context.Background()
	w := window(t, 2014, time.August)

	t.Run("held lock skips the window", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		locker := &fakeLocker{held: map[string]bool{"window:201408": true}}
		etl := pipeline.NewWeatherETL(openSink(t), fetcher, discardLogger(), newTestMetrics(), pipeline.WithLocker(locker))

		res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSkipped, res.Status)
		assert.Contains(t, res.Error, pipeline.ErrWindowLocked.Error())
		assert.Empty(t, fetcher.calls)
	})

	t.Run("lock is released after the run", func(t *testing.T) {
		fetcher := &fakeFetcher{paths: map[string]string{
			"201408": writeModernArchive(t, t.TempDir(), w, [][]string{modernHourly("14920", "20140801", "0051", "62")}, nil),
		}}
		locker := &fakeLocker{}
		etl := pipeline.NewWeatherETL(openSink(t), fetcher, discardLogger(), newTestMetrics(), pipeline.WithLocker(locker))

		_, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		require.NoError(t, err)
		assert.Equal(t, []string{"window:201408"}, locker.released)
	})

	t.Run("lock store failure fails the run", func(t *testing.T) {
		locker := &fakeLocker{err: errors.New("connection refused")}
		etl := pipeline.NewWeatherETL(openSink(t), &fakeFetcher{}, discardLogger(), newTestMetrics(), pipeline.WithLocker(locker))

		res, err := etl.RunWindow(ctx, domain.RunRequest{Year: 2014, Month: time.August})
		require.Error(t, err)
		assert.Equal(t, domain.StatusFailed, res.Status)
	})
}

func TestWeatherETL_Backfill(t *testing.T) {
	ctx := context.Background()
	sink := openSink(t)
	dir := t.TempDir()
	fetcher := &fakeFetcher{paths: map[string]string{
		"201407": writeModernArchive(t, dir, window(t, 2014, time.July),
			[][]string{modernHourly("14920", "20140701", "0051", "62")}, nil),
		"201408": writeModernArchive(t, dir, window(t, 2014, time.August),
			[][]string{modernHourly("14920", "20140801", "0051", "62")}, nil),
	}}
	etl := pipeline.NewWeatherETL(sink, fetcher, discardLogger(), newTestMetrics())

	results, err := etl.Backfill(ctx, 2014, time.July, 2014, time.November, domain.RunRequest{SkipDaily: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill stopped at 201409")
	require.Len(t, results, 3)
	assert.Equal(t, domain.StatusSucceeded, results[0].Status)
	assert.Equal(t, domain.StatusSucceeded, results[1].Status)
	assert.Equal(t, domain.StatusFailed, results[2].Status)
	assert.Equal(t, []string{"201407", "201408", "201409"}, fetcher.calls)
	assert.Equal(t, 2, countRows(t, sink, loader.HourlyTarget.Name))
}
