package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableIdent(t *testing.T) {
	tests := []struct {
		in      string
		want    pgx.Identifier
		wantErr bool
	}{
		{in: "people", want: pgx.Identifier{"people"}},
		{in: " staging.people ", want: pgx.Identifier{"staging", "people"}},
		{in: "", wantErr: true},
		{in: ".people", wantErr: true},
		{in: "a.b.c", wantErr: true},
	}
	for _, tc := range tests {
		got, err := tableIdent(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

// TestBuildCreateSQL pins the DDL without a database: schema creation only
// for qualified names, every column text, identifiers quoted.
func TestBuildCreateSQL(t *testing.T) {
	got := buildCreateSQL(pgx.Identifier{"people"}, []string{"id", `say "hi"`})
	assert.Equal(t, []string{
		`CREATE TABLE IF NOT EXISTS "people" ("id" text, "say ""hi""" text)`,
	}, got)

	got = buildCreateSQL(pgx.Identifier{"staging", "people"}, []string{"id"})
	assert.Equal(t, []string{
		`CREATE SCHEMA IF NOT EXISTS "staging"`,
		`CREATE TABLE IF NOT EXISTS "staging"."people" ("id" text)`,
	}, got)
}
