// Package postgres writes converted rows into a Postgres table using COPY.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"json2csv/internal/sink"
)

// Kind is the registry name of this backend.
const Kind = "postgres"

func init() {
	sink.Register(Kind, New)
}

// Sink copies rows into one table, creating it (and its schema) when missing.
type Sink struct {
	pool  *pgxpool.Pool
	table pgx.Identifier
}

// New connects to cfg.DSN. Table may be schema qualified ("staging.people").
func New(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	ident, err := tableIdent(cfg.Table)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: ident}, nil
}

// Write ensures the table exists and copies every record in one transaction.
func (s *Sink) Write(ctx context.Context, headers []string, records [][]string) (int64, error) {
	if len(headers) == 0 {
		return 0, fmt.Errorf("postgres: no columns")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range buildCreateSQL(s.table, headers) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("postgres: %s: %w", stmt, err)
		}
	}

	n, err := tx.CopyFrom(ctx, s.table, headers, pgx.CopyFromRows(sink.Args(records)))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", s.table.Sanitize(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the connection pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// tableIdent splits a table name on a single dot into schema and table.
func tableIdent(name string) (pgx.Identifier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("postgres: table name is empty")
	}
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		return pgx.Identifier{name}, nil
	case 2:
		schema, table := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if schema == "" || table == "" {
			return nil, fmt.Errorf("postgres: invalid table name %q", name)
		}
		return pgx.Identifier{schema, table}, nil
	default:
		return nil, fmt.Errorf("postgres: invalid table name %q", name)
	}
}

// buildCreateSQL returns the DDL that makes the target table exist: an
// optional CREATE SCHEMA followed by CREATE TABLE with one text column per
// header.
func buildCreateSQL(table pgx.Identifier, columns []string) []string {
	var out []string
	if len(table) == 2 {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{table[0]}.Sanitize())
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " text"
	}
	out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Sanitize(), strings.Join(defs, ", ")))
	return out
}
