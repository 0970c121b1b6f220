// Package sqlite implements loader.Sink on an embedded SQLite database. It
// backs local runs and the loader tests; production uses Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
)

// Timestamps and dates are stored as text in these layouts so they compare
// lexically.
const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

// Sink is a loader.Sink backed by SQLite.
type Sink struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	return &Sink{db: db}, nil
}

// DB exposes the underlying handle for tests and ad hoc queries.
func (s *Sink) DB() *sql.DB { return s.db }

func typeName(t loader.ColumnType) string {
	switch t {
	case loader.Integer:
		return "INTEGER"
	case loader.Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// CreateTable implements loader.Sink.
func (s *Sink) CreateTable(ctx context.Context, t loader.Table) error {
	if _, err := s.db.ExecContext(ctx, loader.CreateTableSQL(t, "INTEGER PRIMARY KEY AUTOINCREMENT", typeName)); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	if idx := loader.KeyIndexSQL(t); idx != "" {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create key index on %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceTable implements loader.Sink.
func (s *Sink) ReplaceTable(ctx context.Context, t loader.Table) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+loader.QuoteIdent(t.Name)); err != nil {
		return fmt.Errorf("drop table %s: %w", t.Name, err)
	}
	return s.CreateTable(ctx, t)
}

// TableColumns implements loader.Sink.
func (s *Sink) TableColumns(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: %w", name, loader.ErrTableNotFound)
	}
	return cols, nil
}

// CopyCSV implements loader.Sink. Rows are inserted in one transaction, so a
// read error leaves the table untouched.
func (s *Sink) CopyCSV(ctx context.Context, t loader.Table, r io.Reader) (int64, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(header)), ", ")
	quoted := make([]string, len(header))
	for i, h := range header {
		quoted[i] = loader.QuoteIdent(h)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		loader.QuoteIdent(t.Name), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("prepare insert into %s: %w", t.Name, err)
	}
	defer stmt.Close()

	args := make([]any, len(header))
	var n int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		for i, v := range rec {
			if v == "" {
				args[i] = nil
			} else {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert row %d into %s: %w", n+1, t.Name, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertMissing implements loader.Sink.
func (s *Sink) InsertMissing(ctx context.Context, staging, target loader.Table, cols []string) (int64, error) {
	res, err := s.db.ExecContext(ctx, loader.InsertMissingSQL(staging.Name, target.Name, cols, target.Key))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MaxTime implements loader.Sink.
func (s *Sink) MaxTime(ctx context.Context, t loader.Table, col string) (time.Time, bool, error) {
	var v sql.NullString
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", loader.QuoteIdent(col), loader.QuoteIdent(t.Name))
	if err := s.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
		return time.Time{}, false, err
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	for _, layout := range []string{timestampLayout, dateLayout, time.RFC3339} {
		if ts, err := time.Parse(layout, v.String); err == nil {
			return ts, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unparseable %s.%s value %q", t.Name, col, v.String)
}

// DeleteBefore implements loader.Sink.
func (s *Sink) DeleteBefore(ctx context.Context, t loader.Table, col string, cutoff time.Time) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", loader.QuoteIdent(t.Name), loader.QuoteIdent(col))
	res, err := s.db.ExecContext(ctx, q, cutoff.UTC().Format(timestampLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// KeyValues implements loader.Sink.
func (s *Sink) KeyValues(ctx context.Context, t loader.Table, keyCol, valueCol string) (map[string]string, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL ORDER BY rowid",
		loader.QuoteIdent(keyCol), loader.QuoteIdent(valueCol), loader.QuoteIdent(t.Name),
		loader.QuoteIdent(keyCol), loader.QuoteIdent(valueCol))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, rows.Err()
}

// Ping checks the database handle, for readiness probes.
func (s *Sink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements loader.Sink.
func (s *Sink) Close() error {
	return s.db.Close()
}
