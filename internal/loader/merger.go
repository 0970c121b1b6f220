package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/qclcd-etl-service/internal/domain"
)

// Merger inserts staged rows that are not yet present in a target table.
type Merger struct {
	sink   Sink
	logger *slog.Logger
}

// NewMerger creates a Merger over sink.
func NewMerger(sink Sink, logger *slog.Logger) *Merger {
	return &Merger{sink: sink, logger: logger}
}

// Merge anti-joins staging against target on target.Key and inserts the
// missing rows. Existing target rows are never updated, so merging the same
// staging table twice inserts nothing the second time.
func (m *Merger) Merge(ctx context.Context, staging, target Table) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &domain.MergeError{Staging: staging.Name, Target: target.Name, Err: err}
	}
	if len(target.Key) == 0 {
		return fail(errors.New("target has no key"))
	}

	have, err := m.sink.TableColumns(ctx, target.Name)
	if err != nil {
		return fail(err)
	}
	present := make(map[string]bool, len(have))
	for _, c := range have {
		present[c] = true
	}
	cols := staging.SortedColumnNames()
	var missing []string
	for _, c := range cols {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fail(fmt.Errorf("target lacks staging columns %q", missing))
	}

	n, err := m.sink.InsertMissing(ctx, staging, target, cols)
	if err != nil {
		return fail(err)
	}
	m.logger.Debug("merged rows", "staging", staging.Name, "target", target.Name, "inserted", n)
	return n, nil
}
