package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"json2csv/internal/outline"
)

func runWith(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, deps{
		Stdin:  strings.NewReader(stdin),
		Stdout: &out,
		Stderr: &errOut,
	})
	return code, out.String(), errOut.String()
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no_selector", args: []string{"in.json"}, wantErr: "exactly one of -e, -c KEY, -d"},
		{name: "two_selectors", args: []string{"-e", "-d", "in.json"}, wantErr: "exactly one of"},
		{name: "no_input", args: []string{"-d"}, wantErr: "exactly one input"},
		{name: "two_inputs", args: []string{"-c", "items", "a.json", "b.json"}, wantErr: "exactly one input"},
		{name: "help", args: []string{"-h"}, wantErr: "Usage: genoutline"},
		{name: "each_line", args: []string{"-each-line", "in.jsonl"}},
		{name: "collection_long", args: []string{"-collection", ".data.items", "in.json"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFlags(tc.args)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRun_UsageErrorExits2(t *testing.T) {
	code, _, stderr := runWith(t, "", "in.json")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "exactly one of")
}

// TestRun_CollectionToDerivedPath checks the written file byte for byte: keys
// sorted, two-space indentation and grouped field order.
func TestRun_CollectionToDerivedPath(t *testing.T) {
	in := writeInput(t, "people.json", `{"items": [
		{"id": 1, "name": {"first": "A", "last": "B"}},
		{"id": 2, "tags": ["x"], "name": {"nick": "C"}}
	]}`)

	code, stdout, stderr := runWith(t, "", "-c", "items", in)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, stdout)

	got, err := os.ReadFile(strings.TrimSuffix(in, ".json") + ".outline.json")
	require.NoError(t, err)

	want := `{
  "collection": "items",
  "map": [
    [
      "id",
      "id"
    ],
    [
      "name_first",
      "name.first"
    ],
    [
      "name_last",
      "name.last"
    ],
    [
      "tags_0",
      "tags.0"
    ],
    [
      "name_nick",
      "name.nick"
    ]
  ]
}
`
	assert.Equal(t, want, string(got))

	o, _, err := outline.Compile(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name_first", "name_last", "tags_0", "name_nick"}, o.Headers())
}

func TestRun_EachLineFromStdinWithScripts(t *testing.T) {
	stdin := "{\"a\": 1}\n{\"b\": {\"c d\": 2}}\n"

	code, stdout, stderr := runWith(t, stdin, "-e", "-p", "-no-duplicate-accessors", "-o", "-", "-")
	require.Equal(t, 0, code, stderr)

	assert.Contains(t, stdout, `"pre-processing": "."`)
	assert.Contains(t, stdout, `"script": ".b.\"c d\""`)
	assert.NotContains(t, stdout, "NOTE:")
	assert.Contains(t, stderr, "NOTE: You chose to enable jq-processing.")
	assert.Contains(t, stderr, "WARNING: are you sure you want to remove all default accessors ?")

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &doc), "stdout must hold only the outline")
	assert.Equal(t, ".", doc["post-processing"])

	o, _, err := outline.Compile([]byte(stdout))
	require.NoError(t, err)
	for _, f := range o.Fields {
		assert.Empty(t, f.Path, f.Header)
		assert.NotNil(t, f.Fallback, f.Header)
	}
}

func TestRun_ScriptsWithoutNoDuplicatesPrintsOnlyNote(t *testing.T) {
	in := writeInput(t, "in.json", `{"k1": {"v": 1}, "k2": {"v": 2}}`)
	out := filepath.Join(t.TempDir(), "custom.json")

	code, stdout, stderr := runWith(t, "", "-d", "-p", "-o", out, in)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "NOTE:")
	assert.NotContains(t, stdout, "WARNING:")
	assert.Empty(t, stderr)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"dropRootKeys": true`)
}

func TestRun_SortOrdersIndicesNumerically(t *testing.T) {
	records := `[{"a": [0,1,2,3,4,5,6,7,8,9,10,11]}, {"0": "x"}]`

	code, stdout, stderr := runWith(t, records, "-d", "-sort", "-o", "-", "-")
	require.Equal(t, 0, code, stderr)

	o, _, err := outline.Compile([]byte(stdout))
	require.NoError(t, err)
	headers := o.Headers()
	require.Len(t, headers, 13)
	assert.Equal(t, "0", headers[0])
	assert.Equal(t, []string{"a_0", "a_1", "a_2"}, headers[1:4])
	assert.Equal(t, "a_11", headers[12])
}

func TestRun_NoFieldsExits1(t *testing.T) {
	code, _, stderr := runWith(t, `{"items": []}`, "-c", "items", "-o", "-", "-")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no fields found")
}

func TestRun_InputErrorsExit1(t *testing.T) {
	code, _, stderr := runWith(t, `{"other": []}`, "-c", "items", "-o", "-", "-")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "items")

	code, _, _ = runWith(t, "", "-d", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 1, code)
}

func TestOutlinePath(t *testing.T) {
	assert.Equal(t, "x.json", outlinePath(runConfig{Output: "x.json", Input: "in.json"}))
	assert.Equal(t, "-", outlinePath(runConfig{Input: "-"}))
	assert.Equal(t, filepath.Join("d", "in.outline.json"), outlinePath(runConfig{Input: filepath.Join("d", "in.json")}))
}
