package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// Spans label the kinds of rows a run loads.
const (
	SpanHourly   = "hourly"
	SpanDaily    = "daily"
	SpanMetar    = "metar"
	SpanStations = "stations"
)

// Skip reasons added by the transformer on top of the domain drop reasons.
const (
	SkipInvalidUTF8    = "invalid_utf8"
	SkipBadCSV         = "bad_csv"
	SkipStationFilter  = "station_filter"
	SkipDuplicateKey   = "duplicate_key"
	SkipDecodeError    = "decode_error"
	SkipUnknownStation = "unknown_station"
)

// TransformOptions narrows which source rows are loaded.
type TransformOptions struct {
	// Stations is an allow-list of WBAN codes; empty admits every station.
	Stations []string
	// Banned WBAN codes are always skipped.
	Banned []string

	// StartLine and EndLine bound the data rows read, counting from 0.
	// EndLine 0 reads to the end of the file.
	StartLine int
	EndLine   int

	// Progress, when set, is called every ProgressEvery rows read.
	Progress      func(span string, read int)
	ProgressEvery int
}

func (o TransformOptions) admits(wban string) bool {
	if slices.Contains(o.Banned, wban) {
		return false
	}
	return len(o.Stations) == 0 || slices.Contains(o.Stations, wban)
}

// Transformer opens extracted member files as chunked row sources.
type Transformer struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTransformer creates a Transformer.
func NewTransformer(logger *slog.Logger, metrics *observability.Metrics) *Transformer {
	return &Transformer{logger: logger, metrics: metrics}
}

// parsedRow is the outcome of converting one raw row.
type parsedRow struct {
	record domain.Record
	wban   string
	result domain.RowResult
}

// OpenHourly binds the era's hourly layout to the header of data.
func (t *Transformer) OpenHourly(data []byte, era domain.Era, opts TransformOptions) (*RowSource, error) {
	src, header, err := t.open(SpanHourly, data, opts)
	if err != nil || src.Done() {
		return src, err
	}
	p, err := era.HourlyParser(header)
	if err != nil {
		return nil, err
	}
	src.parse = func(row domain.RawRow) parsedRow {
		obs, res := p.ParseHourlyRow(row)
		return parsedRow{record: obs, wban: obs.WBAN, result: res}
	}
	return src, nil
}

// OpenDaily binds the era's daily layout to the header of data.
func (t *Transformer) OpenDaily(data []byte, era domain.Era, opts TransformOptions) (*RowSource, error) {
	src, header, err := t.open(SpanDaily, data, opts)
	if err != nil || src.Done() {
		return src, err
	}
	p, err := era.DailyParser(header)
	if err != nil {
		return nil, err
	}
	src.parse = func(row domain.RawRow) parsedRow {
		obs, res := p.ParseDailyRow(row)
		return parsedRow{record: obs, wban: obs.WBAN, result: res}
	}
	return src, nil
}

// open reads the header row. An empty member yields an exhausted source.
func (t *Transformer) open(span string, data []byte, opts TransformOptions) (*RowSource, []string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	src := &RowSource{
		span:    span,
		reader:  r,
		opts:    opts,
		logger:  t.logger,
		metrics: t.metrics,
		stats:   domain.SpanResult{Span: span, Skipped: map[string]int{}},
	}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		src.done = true
		return src, nil, nil
	}
	if err != nil {
		return nil, nil, &domain.SourceError{Source: span + " member", Err: err}
	}
	src.header = slices.Clone(header)
	return src, header, nil
}

// RowSource yields accepted records from one member file in chunks. It is
// not restartable.
type RowSource struct {
	span    string
	reader  *csv.Reader
	header  []string
	parse   func(domain.RawRow) parsedRow
	opts    TransformOptions
	logger  *slog.Logger
	metrics *observability.Metrics

	index int // data rows read so far
	stats domain.SpanResult
	done  bool
	err   error
}

// Done reports whether the source is exhausted or failed.
func (s *RowSource) Done() bool { return s.done }

// Err returns the read error that ended the source early, if any.
func (s *RowSource) Err() error { return s.err }

// Stats returns the running read, skip and issue counts.
func (s *RowSource) Stats() domain.SpanResult { return s.stats }

// Chunk yields at most n accepted records. Keys repeated within the chunk
// are skipped so the chunk can be merged against a unique key.
func (s *RowSource) Chunk(n int) iter.Seq[domain.Record] {
	return func(yield func(domain.Record) bool) {
		seen := make(map[string]struct{}, n)
		emitted := 0
		for emitted < n && !s.done {
			p, ok := s.next()
			if !ok {
				continue
			}
			key := p.record.Key()
			if _, dup := seen[key]; dup {
				s.skip(SkipDuplicateKey, p.result.Line, nil)
				continue
			}
			seen[key] = struct{}{}
			emitted++
			if !yield(p.record) {
				return
			}
		}
	}
}

// next reads and converts one row. ok is false when the row was skipped or
// the source ended.
func (s *RowSource) next() (parsedRow, bool) {
	if s.opts.EndLine > 0 && s.index >= s.opts.EndLine {
		s.done = true
		return parsedRow{}, false
	}

	cells, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		s.done = true
		return parsedRow{}, false
	}
	var parseErr *csv.ParseError
	malformed := errors.As(err, &parseErr)
	if err != nil && !malformed {
		s.err = &domain.SourceError{Source: s.span + " member", Err: err}
		s.done = true
		return parsedRow{}, false
	}

	var line int
	if malformed {
		line = parseErr.Line
	} else {
		line, _ = s.reader.FieldPos(0)
		// Members concatenated from several files repeat the header.
		if s.isHeader(cells) {
			return parsedRow{}, false
		}
	}

	s.index++
	if s.index <= s.opts.StartLine {
		return parsedRow{}, false
	}
	s.stats.Read++
	s.reportProgress()

	if malformed {
		s.skip(SkipBadCSV, line, nil)
		return parsedRow{}, false
	}
	if !validUTF8(cells) {
		s.skip(SkipInvalidUTF8, line, cells)
		return parsedRow{}, false
	}

	p := s.parse(domain.RawRow{Line: line, Cells: cells})
	if !p.result.Accepted() {
		s.skip(p.result.Dropped, line, cells)
		return parsedRow{}, false
	}
	if !s.opts.admits(p.wban) {
		s.stats.Skipped[SkipStationFilter]++
		s.metrics.RowsSkipped.WithLabelValues(s.span, SkipStationFilter).Inc()
		return parsedRow{}, false
	}
	if n := len(p.result.Issues); n > 0 {
		s.stats.Issues += n
		s.metrics.FieldIssues.WithLabelValues(s.span).Add(float64(n))
		for _, issue := range p.result.Issues {
			s.logger.Debug("field stored as null", "span", s.span, "line", line, "field", issue.Field, "error", issue.Err)
		}
	}
	return p, true
}

func (s *RowSource) skip(reason string, line int, raw []string) {
	s.stats.Skipped[reason]++
	s.metrics.RowsSkipped.WithLabelValues(s.span, reason).Inc()
	s.logger.Debug("row skipped", "span", s.span, "line", line, "reason", reason, "raw", strings.Join(raw, ","))
}

func (s *RowSource) isHeader(cells []string) bool {
	if len(cells) == 0 || len(s.header) == 0 {
		return false
	}
	return headerName(cells[0]) == headerName(s.header[0])
}

func (s *RowSource) reportProgress() {
	if s.opts.Progress == nil || s.opts.ProgressEvery <= 0 {
		return
	}
	if s.stats.Read%s.opts.ProgressEvery == 0 {
		s.opts.Progress(s.span, s.stats.Read)
	}
}

func validUTF8(cells []string) bool {
	for _, c := range cells {
		if !utf8.ValidString(c) {
			return false
		}
	}
	return true
}

func headerName(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}

// recordsOf adapts a slice of records to the stager's sequence.
func recordsOf[T domain.Record](rs []T) iter.Seq[domain.Record] {
	return func(yield func(domain.Record) bool) {
		for _, r := range rs {
			if !yield(r) {
				return
			}
		}
	}
}
