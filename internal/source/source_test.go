package source

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"json2csv/internal/jsonvalue"
)

func texts(vs []jsonvalue.Value) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Text()
	}
	return out
}

func TestRecords_CollectionKeyed(t *testing.T) {
	root := jsonvalue.MustParse(`{
		"meta": {"count": 2},
		"items": [{"x": 1}, {"x": 2}],
		"data": {"nested": {"rows": [{"y": 1}]}},
		"scalar": 3
	}`)

	t.Run("direct_key", func(t *testing.T) {
		recs, err := Records(root, Selector{Collection: "items"})
		require.NoError(t, err)
		assert.Equal(t, []string{`{"x":1}`, `{"x":2}`}, texts(recs))
	})

	t.Run("dotted_path", func(t *testing.T) {
		recs, err := Records(root, Selector{Collection: ".data.nested.rows"})
		require.NoError(t, err)
		assert.Equal(t, []string{`{"y":1}`}, texts(recs))
	})

	tests := []struct {
		name string
		root jsonvalue.Value
		sel  string
		want error
	}{
		{name: "missing_plain_key", root: root, sel: "records", want: ErrCollectionNotFound},
		{name: "missing_path_segment", root: root, sel: ".data.missing.rows", want: ErrCollectionNotFound},
		{name: "path_through_scalar", root: root, sel: ".scalar.x", want: ErrCollectionNotFound},
		{name: "not_an_array", root: root, sel: "meta", want: ErrNotCollection},
		{name: "array_root", root: jsonvalue.MustParse(`[{"items": []}]`), sel: "items", want: ErrNotCollection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Records(tc.root, Selector{Collection: tc.sel})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestRecords_DropRootKeys(t *testing.T) {
	recs, err := Records(jsonvalue.MustParse(`{"b": {"v": 1}, "a": {"v": 2}}`), Selector{DropRootKeys: true})
	require.NoError(t, err)
	// Document order, not key order.
	assert.Equal(t, []string{`{"v":1}`, `{"v":2}`}, texts(recs))

	recs, err = Records(jsonvalue.MustParse(`[1, 2]`), Selector{DropRootKeys: true})
	require.NoError(t, err)
	assert.Equal(t, []string{`1`, `2`}, texts(recs))

	_, err = Records(jsonvalue.MustParse(`"x"`), Selector{DropRootKeys: true})
	assert.True(t, errors.Is(err, ErrNotCollection))
}

func TestRecords_NoSelector(t *testing.T) {
	recs, err := Records(jsonvalue.MustParse(`[{"a": 1}]`), Selector{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = Records(jsonvalue.MustParse(`{"a": 1}`), Selector{})
	assert.True(t, errors.Is(err, ErrNotCollection))
}

func TestEachLine(t *testing.T) {
	input := "\uFEFF{\"a\": 1}\n\n  {\"wrap\": {\"a\": 2}}\n{\"a\": 3}\n"

	var lines []int
	var got []string
	err := EachLine(context.Background(), strings.NewReader(input), "wrap", func(line int, rec jsonvalue.Value) error {
		lines = append(lines, line)
		got = append(got, rec.Text())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, lines)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}, got)
}

func TestEachLine_ParseErrorReportsLine(t *testing.T) {
	err := EachLine(context.Background(), strings.NewReader("{\"a\":1}\n{oops}\n"), "", func(int, jsonvalue.Value) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestEachLine_CallbackErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := EachLine(context.Background(), strings.NewReader("1\n2\n3\n"), "", func(int, jsonvalue.Value) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestEachLine_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := EachLine(ctx, strings.NewReader("1\n"), "", func(int, jsonvalue.Value) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
