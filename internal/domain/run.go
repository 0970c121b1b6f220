package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RequestMessage is a run request as received from a message broker,
// before decoding.
type RequestMessage struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string

	// Commit acknowledges the message. Nil when the source has no offsets.
	Commit func(ctx context.Context) error
}

// DecodeRunRequest parses and validates a JSON run request. The returned
// request carries the message's Commit.
func DecodeRunRequest(msg RequestMessage) (RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return RunRequest{}, fmt.Errorf("decode run request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return RunRequest{}, fmt.Errorf("invalid run request: %w", err)
	}
	req.Commit = msg.Commit
	req.Source = fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
	return req, nil
}

// RunRequest asks for one monthly window to be loaded.
type RunRequest struct {
	Year       int        `json:"year"`
	Month      time.Month `json:"month"`
	SkipDaily  bool       `json:"skip_daily,omitempty"`
	SkipHourly bool       `json:"skip_hourly,omitempty"`

	// Stations restricts the load to these WBAN codes; empty means all.
	Stations []string `json:"stations,omitempty"`
	// BannedStations are always excluded.
	BannedStations []string `json:"banned_stations,omitempty"`

	// StartLine and EndLine limit the rows read from each source file,
	// counting data rows from 0. EndLine 0 means no limit.
	StartLine int `json:"start_line,omitempty"`
	EndLine   int `json:"end_line,omitempty"`

	// Commit acknowledges the request at its source, if it has one.
	Commit func(ctx context.Context) error `json:"-"`
	// Source describes where the request came from, for logging.
	Source string `json:"-"`
}

// Validate checks the request's month and line range.
func (r RunRequest) Validate() error {
	if r.Month < time.January || r.Month > time.December {
		return fmt.Errorf("invalid month %d", int(r.Month))
	}
	if r.Year < 1 {
		return fmt.Errorf("invalid year %d", r.Year)
	}
	if r.StartLine < 0 || r.EndLine < 0 {
		return errors.New("line range must not be negative")
	}
	if r.EndLine != 0 && r.EndLine < r.StartLine {
		return errors.New("end line is before start line")
	}
	if r.SkipDaily && r.SkipHourly {
		return errors.New("both spans skipped")
	}
	return nil
}

// SpanResult counts what happened to one span (daily or hourly) of a window.
type SpanResult struct {
	Span     string         `json:"span"`
	Read     int            `json:"read"`
	Staged   int64          `json:"staged"`
	Inserted int64          `json:"inserted"`
	Skipped  map[string]int `json:"skipped,omitempty"`
	Issues   int            `json:"field_issues"`
	Chunks   int            `json:"chunks"`
}

// RunResult summarizes a window run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Window     string        `json:"window"`
	Archive    string        `json:"archive"`
	Status     string        `json:"status"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Spans      []SpanResult  `json:"spans"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Inserted totals rows inserted across spans.
func (r RunResult) Inserted() int64 {
	var n int64
	for _, s := range r.Spans {
		n += s.Inserted
	}
	return n
}
