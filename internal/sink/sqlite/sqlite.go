// Package sqlite writes converted rows into a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"json2csv/internal/sink"
)

// Kind is the registry name of this backend.
const Kind = "sqlite"

// maxVars bounds the bound parameters of one INSERT statement. Older SQLite
// builds cap it at 999.
const maxVars = 999

func init() {
	sink.Register(Kind, New)
}

// Sink inserts rows into one table, creating it on first write when missing.
// Every column is TEXT since cells are already rendered.
type Sink struct {
	db    *sql.DB
	table string
}

// New opens the database at cfg.DSN (a file path or a modernc DSN).
func New(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("sqlite: table name is empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db, table: cfg.Table}, nil
}

// Write creates the table if needed and inserts every record in one
// transaction.
func (s *Sink) Write(ctx context.Context, headers []string, records [][]string) (int64, error) {
	if len(headers) == 0 {
		return 0, fmt.Errorf("sqlite: no columns")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, buildCreateSQL(s.table, headers)); err != nil {
		return 0, fmt.Errorf("create table %s: %w", s.table, err)
	}

	rows := sink.Args(records)
	chunk := maxVars / len(headers)
	if chunk < 1 {
		return 0, fmt.Errorf("sqlite: %d columns exceed the parameter limit", len(headers))
	}

	var n int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildInsertSQL(s.table, headers, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return n, fmt.Errorf("insert into %s: %w", s.table, err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database.
func (s *Sink) Close() error { return s.db.Close() }

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildCreateSQL(table string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = sqlIdent(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(table), strings.Join(defs, ", "))
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, len(columns))
	for i, c := range columns {
		colList[i] = sqlIdent(c)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}
