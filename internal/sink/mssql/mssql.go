// Package mssql writes converted rows into a SQL Server table.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"json2csv/internal/sink"
)

// Kind is the registry name of this backend.
const Kind = "mssql"

// SQL Server accepts at most 2100 parameters per request and 1000 rows per
// VALUES list.
const (
	maxParams = 2000
	maxRows   = 1000
)

func init() {
	sink.Register(Kind, New)
}

// Sink inserts rows into one table, creating it when missing. Columns are
// NVARCHAR(MAX).
type Sink struct {
	db    *sql.DB
	table string
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("mssql: table name is empty")
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
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
// transaction, chunked to stay under the server's parameter limit.
func (s *Sink) Write(ctx context.Context, headers []string, records [][]string) (int64, error) {
	if len(headers) == 0 {
		return 0, fmt.Errorf("mssql: no columns")
	}
	chunk := chunkRows(len(headers))
	if chunk < 1 {
		return 0, fmt.Errorf("mssql: %d columns exceed the parameter limit", len(headers))
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
	var n int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildBulkInsertSQL(s.table, headers, rows[start:end])
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

func chunkRows(columns int) int {
	return min(maxParams/columns, maxRows)
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// "dbo.people" -> [dbo].[people].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard since SQL Server has
// no CREATE TABLE IF NOT EXISTS.
func buildCreateSQL(table string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = mssqlIdent(c) + " NVARCHAR(MAX) NULL"
	}
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(table, "'", "''"),
		mssqlTableIdent(table),
		strings.Join(defs, ", "),
	)
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows
// with @pN placeholders numbered from 1.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}
