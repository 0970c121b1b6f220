// Command validate checks a local QCLCD archive offline. It extracts the
// hourly and daily members, runs every row through the era's parser, and
// verifies each accepted record renders exactly one cell per canonical
// column. Nothing is written to a database.
//
// Usage:
//
//	go run ./cmd/validate -archive data/QCLCD201408.zip
//	go run ./cmd/validate -archive data/200604.tar.gz -stations 3017,94846
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/qclcd-etl-service/internal/archive"
	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
	"github.com/couchcryptid/qclcd-etl-service/internal/pipeline"
)

// chunkSize bounds memory while walking a member; nothing is staged.
const chunkSize = 10_000

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	stats  *domain.SpanResult
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	path := flag.String("archive", "", "path to a YYYYMM.tar.gz or QCLCDYYYYMM.zip archive")
	stations := flag.String("stations", "", "comma-separated WBAN allow-list")
	verbose := flag.Bool("v", false, "log skipped rows")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*path, splitList(*stations), *verbose))
}

func run(path string, stations []string, verbose bool) int {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	w, err := domain.WindowFromFilename(filepath.Base(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	fmt.Printf("=== QCLCD Archive Validation: %s (%s era) ===\n\n", w.Filename, w.Era)

	members, err := archive.Extract(path, w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: extract: %v\n", err)
		return 1
	}

	tr := pipeline.NewTransformer(logger, observability.NewMetricsForTesting())
	opts := pipeline.TransformOptions{Stations: stations}

	phases := []*phase{
		validateMembers(members),
		validateSpan("Daily rows", domain.DailyHeader, members.Daily, func() (*pipeline.RowSource, error) {
			return tr.OpenDaily(members.Daily, w.Era, opts)
		}),
		validateSpan("Hourly rows", domain.HourlyHeader, members.Hourly, func() (*pipeline.RowSource, error) {
			return tr.OpenHourly(members.Hourly, w.Era, opts)
		}),
	}

	return report(os.Stdout, phases)
}

func validateMembers(m archive.Members) *phase {
	p := &phase{name: "Archive members"}
	if len(m.Hourly) == 0 {
		p.errorf("no %s member", domain.HourlyMemberSuffix)
	}
	if len(m.Daily) == 0 {
		p.errorf("no %s member", domain.DailyMemberSuffix)
	}
	return p
}

func validateSpan(name string, header []string, data []byte, open func() (*pipeline.RowSource, error)) *phase {
	p := &phase{name: name}
	if len(data) == 0 {
		return p
	}
	src, err := open()
	if err != nil {
		p.errorf("bind header: %v", err)
		return p
	}

	const maxReported = 20
	violations := 0
	for !src.Done() {
		for rec := range src.Chunk(chunkSize) {
			if err := domain.CheckArity(header, rec.Values()); err != nil {
				violations++
				if violations <= maxReported {
					p.errorf("%s: %v", rec.Key(), err)
				}
			}
		}
	}
	if violations > maxReported {
		p.errorf("... and %d more arity violations", violations-maxReported)
	}
	if err := src.Err(); err != nil {
		p.errorf("read: %v", err)
	}
	stats := src.Stats()
	p.stats = &stats
	if stats.Read > 0 && accepted(stats) == 0 {
		p.errorf("none of %d rows were accepted", stats.Read)
	}
	return p
}

func accepted(s domain.SpanResult) int {
	n := s.Read
	for reason, c := range s.Skipped {
		// Duplicates and filtered rows are well-formed.
		if reason != pipeline.SkipDuplicateKey && reason != pipeline.SkipStationFilter {
			n -= c
		}
	}
	return n
}

func report(out io.Writer, phases []*phase) int {
	code := 0
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			code = 1
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.stats == nil {
			continue
		}
		s := p.stats
		fmt.Fprintf(out, "\n--- %s: %d read, %d accepted, %d field issues ---\n", p.name, s.Read, accepted(*s), s.Issues)
		for _, reason := range slices.Sorted(maps.Keys(s.Skipped)) {
			fmt.Fprintf(out, "  skipped %-20s %d\n", reason, s.Skipped[reason])
		}
	}

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s errors ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  %d. %s\n", i+1, e)
		}
	}
	return code
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
