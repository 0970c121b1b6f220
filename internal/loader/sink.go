package loader

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrTableNotFound is returned by Sink.TableColumns for a missing table.
var ErrTableNotFound = errors.New("table not found")

// Sink is a SQL store the loader can stage into and merge within.
type Sink interface {
	// CreateTable creates t if it does not exist.
	CreateTable(ctx context.Context, t Table) error
	// ReplaceTable drops and recreates t.
	ReplaceTable(ctx context.Context, t Table) error
	// TableColumns lists the columns of an existing table, or ErrTableNotFound.
	TableColumns(ctx context.Context, name string) ([]string, error)
	// CopyCSV bulk loads comma-separated rows with a header line into t.
	// Unquoted empty cells load as NULL.
	CopyCSV(ctx context.Context, t Table, r io.Reader) (int64, error)
	// InsertMissing copies staging rows whose key is absent from target.
	InsertMissing(ctx context.Context, staging, target Table, cols []string) (int64, error)
	// MaxTime returns the latest value of a timestamp column; ok is false
	// when the table is empty.
	MaxTime(ctx context.Context, t Table, col string) (max time.Time, ok bool, err error)
	// DeleteBefore deletes rows whose timestamp column is before cutoff.
	DeleteBefore(ctx context.Context, t Table, col string, cutoff time.Time) (int64, error)
	// KeyValues reads a two-column mapping from t. The first row per key wins.
	KeyValues(ctx context.Context, t Table, keyCol, valueCol string) (map[string]string, error)
	Close() error
}

// QuoteIdent quotes a SQL identifier. Double quotes are valid in both
// Postgres and SQLite.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string, prefix string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = prefix + QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// InsertMissingSQL renders the anti-join merge:
//
//	INSERT INTO target (cols) SELECT s.cols FROM staging s
//	LEFT JOIN target t ON s.k = t.k ... WHERE t.k0 IS NULL
func InsertMissingSQL(staging, target string, cols, key []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QuoteIdent(target))
	b.WriteString(" (")
	b.WriteString(quoteAll(cols, ""))
	b.WriteString(") SELECT ")
	b.WriteString(quoteAll(cols, "s."))
	b.WriteString(" FROM ")
	b.WriteString(QuoteIdent(staging))
	b.WriteString(" s LEFT JOIN ")
	b.WriteString(QuoteIdent(target))
	b.WriteString(" t ON ")
	for i, k := range key {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("s." + QuoteIdent(k) + " = t." + QuoteIdent(k))
	}
	b.WriteString(" WHERE t.")
	b.WriteString(QuoteIdent(key[0]))
	b.WriteString(" IS NULL")
	return b.String()
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for t, mapping column
// types through typeName. Target tables get a surrogate id whose definition
// the dialect supplies, plus longitude and latitude.
func CreateTableSQL(t Table, idColumn string, typeName func(ColumnType) string) string {
	var defs []string
	if t.Target {
		defs = append(defs, QuoteIdent("id")+" "+idColumn)
	}
	for _, c := range t.Columns {
		defs = append(defs, QuoteIdent(c.Name)+" "+typeName(c.Type))
	}
	if t.Target {
		defs = append(defs,
			QuoteIdent("longitude")+" "+typeName(Real),
			QuoteIdent("latitude")+" "+typeName(Real))
	}
	return "CREATE TABLE IF NOT EXISTS " + QuoteIdent(t.Name) + " (" + strings.Join(defs, ", ") + ")"
}

// KeyIndexSQL renders the unique key index for a target table, or "" when
// the table has no key.
func KeyIndexSQL(t Table) string {
	if len(t.Key) == 0 {
		return ""
	}
	return "CREATE UNIQUE INDEX IF NOT EXISTS " + QuoteIdent(t.Name+"_key_idx") +
		" ON " + QuoteIdent(t.Name) + " (" + quoteAll(t.Key, "") + ")"
}
