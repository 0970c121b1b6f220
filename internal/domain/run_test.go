package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRunRequest(t *testing.T) {
	committed := false
	msg := RequestMessage{
		Value:     []byte(`{"year":2016,"month":4,"skip_daily":true,"stations":["14920"],"banned_stations":["94846"]}`),
		Topic:     "qclcd-run-requests",
		Partition: 1,
		Offset:    7,
		Commit: func(context.Context) error {
			committed = true
			return nil
		},
	}

	req, err := DecodeRunRequest(msg)
	require.NoError(t, err)
	assert.Equal(t, 2016, req.Year)
	assert.Equal(t, time.April, req.Month)
	assert.True(t, req.SkipDaily)
	assert.False(t, req.SkipHourly)
	assert.Equal(t, []string{"14920"}, req.Stations)
	assert.Equal(t, []string{"94846"}, req.BannedStations)
	assert.Equal(t, "qclcd-run-requests/1@7", req.Source)

	require.NoError(t, req.Commit(context.Background()))
	assert.True(t, committed)
}

func TestDecodeRunRequest_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `year=2016`},
		{"month out of range", `{"year":2016,"month":13}`},
		{"missing year", `{"month":4}`},
		{"both spans skipped", `{"year":2016,"month":4,"skip_daily":true,"skip_hourly":true}`},
		{"inverted line range", `{"year":2016,"month":4,"start_line":10,"end_line":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRunRequest(RequestMessage{Value: []byte(tt.value)})
			require.Error(t, err)
		})
	}
}

func TestRunResult_Inserted(t *testing.T) {
	r := RunResult{Spans: []SpanResult{{Span: "daily", Inserted: 30}, {Span: "hourly", Inserted: 720}}}
	assert.Equal(t, int64(750), r.Inserted())
}

func TestErrorCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"source", &SourceError{Source: "x.zip", Err: errors.New("bad")}, "source"},
		{"wrapped network", errors.Join(errors.New("ctx"), &NetworkError{URL: "u", Err: errors.New("eof")}), "network"},
		{"merge", &MergeError{Staging: "s", Target: "t", Err: errors.New("x")}, "merge"},
		{"other", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCategory(tt.err))
		})
	}
}
