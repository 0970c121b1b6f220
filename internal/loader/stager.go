package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// Stager bulk loads records into a freshly replaced staging table.
type Stager struct {
	sink   Sink
	logger *slog.Logger
}

// NewStager creates a Stager over sink.
func NewStager(sink Sink, logger *slog.Logger) *Stager {
	return &Stager{sink: sink, logger: logger}
}

// Stage replaces t and streams rows into it as CSV. A record whose arity
// does not match t aborts the stage before that record is written.
// It returns the number of rows the sink reports as loaded.
func (s *Stager) Stage(ctx context.Context, t Table, rows iter.Seq[domain.Record]) (int64, error) {
	if err := s.sink.ReplaceTable(ctx, t); err != nil {
		return 0, fmt.Errorf("replace staging table %s: %w", t.Name, err)
	}

	header := t.ColumnNames()
	pr, pw := io.Pipe()
	produced := make(chan error, 1)
	var written int64

	go func() {
		err := writeCSV(pw, header, rows, &written)
		pw.CloseWithError(err) //nolint:errcheck // always nil
		produced <- err
	}()

	n, copyErr := s.sink.CopyCSV(ctx, t, pr)
	// Unblock the producer if the sink stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe) //nolint:errcheck // always nil
	prodErr := <-produced

	if prodErr != nil && !errors.Is(prodErr, io.ErrClosedPipe) {
		return 0, fmt.Errorf("stage %s: %w", t.Name, prodErr)
	}
	if copyErr != nil {
		return 0, fmt.Errorf("copy into %s: %w", t.Name, copyErr)
	}
	s.logger.Debug("staged rows", "table", t.Name, "rows", n, "written", written)
	return n, nil
}

func writeCSV(w io.Writer, header []string, rows iter.Seq[domain.Record], written *int64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for rec := range rows {
		values := rec.Values()
		if err := domain.CheckArity(header, values); err != nil {
			return fmt.Errorf("record %s: %w", rec.Key(), err)
		}
		if err := cw.Write(values); err != nil {
			return err
		}
		*written++
	}
	cw.Flush()
	return cw.Error()
}
