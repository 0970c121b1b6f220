package pipeline_test

import (
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/qclcd-etl-service/internal/archive/archivetest"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/pipeline"
)

func keys(t *testing.T, src *pipeline.RowSource, n int) []string {
	t.Helper()
	var out []string
	for r := range src.Chunk(n) {
		out = append(out, r.Key())
	}
	return out
}

func TestTransformer_SkipsAndCounts(t *testing.T) {
	metrics := newTestMetrics()
	tr := pipeline.NewTransformer(discardLogger(), metrics)

	bad := modernHourly("14920", "20140801", "0251", "62")
	bad[3] = "\xff\xfe"

	data := archivetest.File(archivetest.ModernHourlyHeader,
		modernHourly("14920", "20140801", "0051", "62"),
		archivetest.ModernHourlyHeader, // concatenated member repeats its header
		modernHourly("14920", "20140801", "0151", "abc"),
		bad,
		[]string{"14920", "20140801"},
		modernHourly("14920", "20140801", "", "62"),
	)

	src, err := tr.OpenHourly(data, domain.ModernEra, pipeline.TransformOptions{})
	require.NoError(t, err)

	got := keys(t, src, 100)
	assert.Equal(t, []string{"14920|2014-08-01 00:51:00", "14920|2014-08-01 01:51:00"}, got)
	assert.True(t, src.Done())
	require.NoError(t, src.Err())

	stats := src.Stats()
	assert.Equal(t, pipeline.SpanHourly, stats.Span)
	assert.Equal(t, 5, stats.Read, "repeated header is not a data row")
	assert.Equal(t, 1, stats.Issues, "unparseable temperature is stored as null")
	assert.Equal(t, map[string]int{
		pipeline.SkipInvalidUTF8: 1,
		domain.DropShortRow:      1,
		domain.DropBadTimestamp:  1,
	}, stats.Skipped)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RowsSkipped.WithLabelValues(pipeline.SpanHourly, pipeline.SkipInvalidUTF8)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FieldIssues.WithLabelValues(pipeline.SpanHourly)), 0)
}

func TestTransformer_ChunksResume(t *testing.T) {
	tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())
	data := archivetest.File(archivetest.ModernDailyHeader,
		modernDaily("14920", "20140801"),
		modernDaily("14920", "20140802"),
		modernDaily("14920", "20140803"),
	)

	src, err := tr.OpenDaily(data, domain.ModernEra, pipeline.TransformOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"14920|2014-08-01", "14920|2014-08-02"}, keys(t, src, 2))
	assert.False(t, src.Done())
	assert.Equal(t, []string{"14920|2014-08-03"}, keys(t, src, 2))
	assert.True(t, src.Done())
	assert.Empty(t, keys(t, src, 2))
}

func TestTransformer_DuplicatesAcrossChunksAreKept(t *testing.T) {
	tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())
	data := archivetest.File(archivetest.ModernDailyHeader,
		modernDaily("14920", "20140801"),
		modernDaily("14920", "20140801"),
	)

	src, err := tr.OpenDaily(data, domain.ModernEra, pipeline.TransformOptions{})
	require.NoError(t, err)

	// The merge drops the second occurrence against the target's key.
	assert.Len(t, keys(t, src, 1), 1)
	assert.Len(t, keys(t, src, 1), 1)
	assert.Zero(t, src.Stats().Skipped[pipeline.SkipDuplicateKey])
}

func TestTransformer_EarlyStopKeepsPosition(t *testing.T) {
	tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())
	data := archivetest.File(archivetest.ModernDailyHeader,
		modernDaily("14920", "20140801"),
		modernDaily("14920", "20140802"),
	)
	src, err := tr.OpenDaily(data, domain.ModernEra, pipeline.TransformOptions{})
	require.NoError(t, err)

	for range src.Chunk(10) {
		break
	}
	assert.Equal(t, []string{"14920|2014-08-02"}, keys(t, src, 10))
}

func TestTransformer_Options(t *testing.T) {
	var rows [][]string
	for _, wban := range []string{"1", "2", "3", "4", "5"} {
		rows = append(rows, modernDaily(wban, "20140801"))
	}
	data := archivetest.File(archivetest.ModernDailyHeader, rows...)

	tests := []struct {
		name string
		opts pipeline.TransformOptions
		want []string
	}{
		{
			name: "no options",
			want: []string{"1", "2", "3", "4", "5"},
		},
		{
			name: "start line",
			opts: pipeline.TransformOptions{StartLine: 3},
			want: []string{"4", "5"},
		},
		{
			name: "end line",
			opts: pipeline.TransformOptions{EndLine: 2},
			want: []string{"1", "2"},
		},
		{
			name: "allow list",
			opts: pipeline.TransformOptions{Stations: []string{"2", "4"}},
			want: []string{"2", "4"},
		},
		{
			name: "banned beats allow list",
			opts: pipeline.TransformOptions{Stations: []string{"2", "4"}, Banned: []string{"4"}},
			want: []string{"2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())
			src, err := tr.OpenDaily(data, domain.ModernEra, tt.opts)
			require.NoError(t, err)

			var got []string
			for r := range src.Chunk(100) {
				got = append(got, r.(domain.DailyObservation).WBAN)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformer_StartLineSkipsBadRowsUncounted(t *testing.T) {
	bad := modernDaily("1", "20140801")
	bad[0] = "\xff"
	data := archivetest.File(archivetest.ModernDailyHeader,
		bad,
		[]string{"2"},
		modernDaily("3", "20140801"),
		[]string{"4"},
	)

	tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())
	src, err := tr.OpenDaily(data, domain.ModernEra, pipeline.TransformOptions{StartLine: 2})
	require.NoError(t, err)

	var got []string
	for r := range src.Chunk(100) {
		got = append(got, r.(domain.DailyObservation).WBAN)
	}
	assert.Equal(t, []string{"3"}, got)

	stats := src.Stats()
	assert.Equal(t, 2, stats.Read, "rows before the start line are not read")
	assert.Equal(t, map[string]int{domain.DropShortRow: 1}, stats.Skipped)
}

func TestTransformer_Progress(t *testing.T) {
	var rows [][]string
	for _, wban := range []string{"1", "2", "3", "4", "5"} {
		rows = append(rows, modernDaily(wban, "20140801"))
	}
	var calls []int
	tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())
	src, err := tr.OpenDaily(archivetest.File(archivetest.ModernDailyHeader, rows...), domain.ModernEra, pipeline.TransformOptions{
		Progress:      func(_ string, read int) { calls = append(calls, read) },
		ProgressEvery: 2,
	})
	require.NoError(t, err)
	for range src.Chunk(100) {
	}
	assert.Equal(t, []int{2, 4}, calls)
}

func TestTransformer_OpenErrors(t *testing.T) {
	tr := pipeline.NewTransformer(discardLogger(), newTestMetrics())

	t.Run("empty member is exhausted", func(t *testing.T) {
		src, err := tr.OpenHourly(nil, domain.LegacyEra, pipeline.TransformOptions{})
		require.NoError(t, err)
		assert.True(t, src.Done())
		assert.Empty(t, slices.Collect(src.Chunk(10)))
	})

	t.Run("empty daily member is exhausted", func(t *testing.T) {
		src, err := tr.OpenDaily([]byte{}, domain.ModernEra, pipeline.TransformOptions{})
		require.NoError(t, err)
		assert.True(t, src.Done())
		assert.Empty(t, slices.Collect(src.Chunk(10)))
		assert.Zero(t, src.Stats().Read)
	})

	t.Run("header missing columns", func(t *testing.T) {
		_, err := tr.OpenHourly(archivetest.File(archivetest.ModernDailyHeader), domain.ModernEra, pipeline.TransformOptions{})
		var srcErr *domain.SourceError
		require.ErrorAs(t, err, &srcErr)
	})

	t.Run("legacy layout does not bind a modern header", func(t *testing.T) {
		_, err := tr.OpenDaily(archivetest.File(archivetest.ModernDailyHeader), domain.LegacyEra, pipeline.TransformOptions{})
		require.Error(t, err)
	})
}
