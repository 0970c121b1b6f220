// Package postgres implements loader.Sink on PostgreSQL through pgx. Staging
// loads use COPY FROM STDIN.
package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/qclcd-etl-service/internal/loader"
)

// Sink is a loader.Sink backed by a pgx connection pool.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Sink{pool: pool, logger: logger}, nil
}

func typeName(t loader.ColumnType) string {
	switch t {
	case loader.Integer:
		return "INTEGER"
	case loader.Real:
		return "DOUBLE PRECISION"
	case loader.Timestamp:
		return "TIMESTAMP"
	case loader.Date:
		return "DATE"
	case loader.TextArray:
		return "TEXT[]"
	default:
		return "TEXT"
	}
}

// CreateTable implements loader.Sink.
func (s *Sink) CreateTable(ctx context.Context, t loader.Table) error {
	if _, err := s.pool.Exec(ctx, loader.CreateTableSQL(t, "BIGSERIAL PRIMARY KEY", typeName)); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	if idx := loader.KeyIndexSQL(t); idx != "" {
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create key index on %s: %w", t.Name, err)
		}
	}
	return nil
}

// ReplaceTable implements loader.Sink.
func (s *Sink) ReplaceTable(ctx context.Context, t loader.Table) error {
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+loader.QuoteIdent(t.Name)); err != nil {
		return fmt.Errorf("drop table %s: %w", t.Name, err)
	}
	return s.CreateTable(ctx, t)
}

// TableColumns implements loader.Sink.
func (s *Sink) TableColumns(ctx context.Context, name string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, err
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: %w", name, loader.ErrTableNotFound)
	}
	return cols, nil
}

// CopyCSV implements loader.Sink.
func (s *Sink) CopyCSV(ctx context.Context, t loader.Table, r io.Reader) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT CSV, HEADER TRUE, DELIMITER ',')",
		loader.QuoteIdent(t.Name), quoteList(t.ColumnNames()))
	tag, err := conn.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertMissing implements loader.Sink.
func (s *Sink) InsertMissing(ctx context.Context, staging, target loader.Table, cols []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, loader.InsertMissingSQL(staging.Name, target.Name, cols, target.Key))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MaxTime implements loader.Sink.
func (s *Sink) MaxTime(ctx context.Context, t loader.Table, col string) (time.Time, bool, error) {
	var v *time.Time
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", loader.QuoteIdent(col), loader.QuoteIdent(t.Name))
	if err := s.pool.QueryRow(ctx, q).Scan(&v); err != nil {
		return time.Time{}, false, err
	}
	if v == nil {
		return time.Time{}, false, nil
	}
	return v.UTC(), true, nil
}

// DeleteBefore implements loader.Sink.
func (s *Sink) DeleteBefore(ctx context.Context, t loader.Table, col string, cutoff time.Time) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s < $1", loader.QuoteIdent(t.Name), loader.QuoteIdent(col))
	tag, err := s.pool.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// KeyValues implements loader.Sink.
func (s *Sink) KeyValues(ctx context.Context, t loader.Table, keyCol, valueCol string) (map[string]string, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL ORDER BY ctid",
		loader.QuoteIdent(keyCol), loader.QuoteIdent(valueCol), loader.QuoteIdent(t.Name),
		loader.QuoteIdent(keyCol), loader.QuoteIdent(valueCol))
	rows, err := s.pool.Query(ctx, q)
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

// Ping checks connectivity, for readiness probes.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements loader.Sink.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

func quoteList(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += loader.QuoteIdent(n)
	}
	return out
}
