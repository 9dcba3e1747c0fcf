package transformer

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/metrics"
	"json2csv/internal/outline"
	"json2csv/internal/script"
	"json2csv/internal/source"
)

func compile(t *testing.T, doc string) *outline.Outline {
	t.Helper()
	o, _, err := outline.Compile([]byte(doc))
	require.NoError(t, err)
	return o
}

// countingEngine wraps the jq engine and records which scripts ran.
type countingEngine struct {
	inner *script.JQ
	calls map[string]int
}

func newCountingEngine() *countingEngine {
	return &countingEngine{inner: script.NewJQ(), calls: map[string]int{}}
}

func (e *countingEngine) Evaluate(ctx context.Context, s string, target jsonvalue.Value, vars map[string]jsonvalue.Value) (jsonvalue.Value, error) {
	e.calls[s]++
	return e.inner.Evaluate(ctx, s, target, vars)
}

func newConverter(t *testing.T, o *outline.Outline, opts ...Option) (*Converter, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	opts = append([]Option{WithLogger(log.New(&logs, "", 0))}, opts...)
	return New(o, opts...), &logs
}

func convertDoc(t *testing.T, c *Converter, doc string) *Result {
	t.Helper()
	res, err := c.ConvertDocument(context.Background(), jsonvalue.MustParse(doc))
	require.NoError(t, err)
	return res
}

func texts(res *Result) []string {
	out := make([]string, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = r.Value().Text()
	}
	return out
}

func TestScenarioA_DirectExtraction(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["id","id"],["name","name"]]}`))
	res := convertDoc(t, c, `[{"id": 1, "name": "Ann"}]`)

	assert.Equal(t, []string{"id", "name"}, res.Headers)
	assert.Equal(t, []string{`{"id":1,"name":"Ann"}`}, texts(res))
}

func TestScenarioB_NullReplacement(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["id","id"],["name","name"]], "special-values-mapping": {"null": "N/A"}}`))
	res := convertDoc(t, c, `[{"id": 2}]`)

	assert.Equal(t, []string{"id", "name"}, res.Headers)
	assert.Equal(t, []string{`{"id":2,"name":"N/A"}`}, texts(res))
}

func TestScenarioC_Collection(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]], "collection": "items"}`))
	res := convertDoc(t, c, `{"items": [{"x":1},{"x":2}]}`)

	assert.Equal(t, []string{`{"x":1}`, `{"x":2}`}, texts(res))
}

func TestScenarioD_MapProcessingAddsColumn(t *testing.T) {
	c, logs := newConverter(t, compile(t, `{"map":[["x","x"]], "map-processing": "{y: ($x * 10)}"}`))
	res := convertDoc(t, c, `[{"x": 1}, {"x": 2}]`)

	assert.Equal(t, []string{"x", "y"}, res.Headers)
	assert.Equal(t, []string{`{"x":1,"y":10}`, `{"x":2,"y":20}`}, texts(res))
	assert.Empty(t, logs.String())
}

func TestScenarioE_EmptyResult(t *testing.T) {
	o := compile(t, `{"map":[["a","a"],["b","b"]], "collection": "items"}`)

	c, _ := newConverter(t, o)
	_, err := c.ConvertDocument(context.Background(), jsonvalue.MustParse(`{"items": []}`))
	assert.True(t, errors.Is(err, ErrEmptyResult))

	c, _ = newConverter(t, o, WithAllowEmpty(true))
	res := convertDoc(t, c, `{"items": []}`)
	assert.Equal(t, []string{"a", "b"}, res.Headers)
	assert.Empty(t, res.Rows)
}

// TestHeaderOrderStable verifies that rows which neither add nor remove
// fields leave the declared header order untouched, whatever the key order
// inside the records.
func TestHeaderOrderStable(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["z","z"],["a","a"],["m","m.n"]]}`))
	res := convertDoc(t, c, `[{"a": 1, "m": {"n": 2}, "z": 3}, {"m": {}, "z": 4}]`)

	assert.Equal(t, []string{"z", "a", "m"}, res.Headers)
	assert.Equal(t, []string{`{"z":3,"a":1,"m":2}`, `{"z":4,"a":"","m":""}`}, texts(res))
}

// TestFallbackPrecedence verifies that a field script only runs when direct
// extraction left the field null.
func TestFallbackPrecedence(t *testing.T) {
	eng := newCountingEngine()
	c, _ := newConverter(t, compile(t, `{"map":[
		["name", "name", {"script": ".alias"}],
		["full", null, {"script": "$first + $sep + $last", "args": {"sep": "-"}}]
	]}`), WithEngine(eng))

	res := convertDoc(t, c, `[
		{"name": "Ann", "alias": "A", "first": "x", "last": "y"},
		{"alias": "Bee"}
	]`)

	assert.Equal(t, 1, eng.calls[".alias"], "only the record without a name falls back")
	assert.Equal(t, `"Ann"`, mustGet(t, res.Rows[0], "name"))
	assert.Equal(t, `"Bee"`, mustGet(t, res.Rows[1], "name"))
}

func TestFallback_SeesRowValuesConstantsAndArgs(t *testing.T) {
	c, logs := newConverter(t, compile(t, `{
		"map":[
			["first", "u.first"],
			["last", "u.last"],
			["full", null, {"script": "$first + $sep + $last + \"@\" + $site + \"#\" + ($__index | tostring)", "args": {"sep": " "}}]
		],
		"context-constants": {"site": "fr", "sep": "ignored"}
	}`))
	res := convertDoc(t, c, `[{"u": {"first": "Ann", "last": "Lee"}}]`)

	assert.Equal(t, `"Ann Lee@fr#0"`, mustGet(t, res.Rows[0], "full"))
	assert.Empty(t, logs.String())
}

func TestFallback_FailureLeavesNull(t *testing.T) {
	c, logs := newConverter(t, compile(t, `{
		"map":[["bad", null, {"script": ".n | keys"}]],
		"special-values-mapping": {"null": "NULL"}
	}`))
	res := convertDoc(t, c, `[{"n": 1}]`)

	assert.Equal(t, `"NULL"`, mustGet(t, res.Rows[0], "bad"))
	assert.Contains(t, logs.String(), `fallback for "bad" failed on record 0`)
}

func TestMapProcessing_TargetIsOriginalRecord(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["a","a"]], "map-processing": "{deep: .nested.value, idx: $__index}"}`))
	res := convertDoc(t, c, `[{"a": 1, "nested": {"value": "v0"}}, {"a": 2, "nested": {"value": "v1"}}]`)

	assert.Equal(t, []string{"a", "deep", "idx"}, res.Headers)
	assert.Equal(t, []string{`{"a":1,"deep":"v0","idx":0}`, `{"a":2,"deep":"v1","idx":1}`}, texts(res))
}

func TestMapProcessing_FailuresKeepRow(t *testing.T) {
	tests := []struct {
		name   string
		script string
		log    string
	}{
		{name: "runtime_error", script: "{y: (.x | keys)}", log: "map-processing failed on record 0"},
		{name: "non_object_result", script: ".x", log: "want object"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := compile(t, `{"map":[["x","x"]]}`)
			o.MapProcessing = tc.script

			rec := &recordingBackend{}
			c, logs := newConverter(t, o, WithMetrics(rec))
			res := convertDoc(t, c, `[{"x": 5}]`)

			assert.Equal(t, []string{"x"}, res.Headers)
			assert.Equal(t, []string{`{"x":5}`}, texts(res))
			assert.Contains(t, logs.String(), tc.log)
			assert.Equal(t, 1.0, rec.counter(metrics.ScriptErrorsTotal))
		})
	}
}

func TestMapProcessing_NullResultIsNoChange(t *testing.T) {
	c, logs := newConverter(t, compile(t, `{"map":[["x","x"]], "map-processing": "null"}`))
	res := convertDoc(t, c, `[{"x": 1}]`)
	assert.Equal(t, []string{`{"x":1}`}, texts(res))
	assert.Empty(t, logs.String())
}

func TestPreProcessing(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{
		"map":[["x","x"]],
		"pre-processing": "map(select(.x > $min))",
		"context-constants": {"min": 1}
	}`))
	res := convertDoc(t, c, `[{"x": 1}, {"x": 2}, {"x": 3}]`)
	assert.Equal(t, []string{`{"x":2}`, `{"x":3}`}, texts(res))
}

func TestPreProcessing_FailuresAreFatal(t *testing.T) {
	for _, s := range []string{"error(\"boom\")", "length"} {
		o := compile(t, `{"map":[["x","x"]]}`)
		o.PreProcessing = s
		c, _ := newConverter(t, o)

		_, err := c.ConvertDocument(context.Background(), jsonvalue.MustParse(`[{"x": 1}]`))
		assert.True(t, errors.Is(err, ErrPreProcessing), "%s: %v", s, err)
	}
}

// TestPostProcessing_RemovesAndAddsColumns verifies that post-processing can
// drop a declared column and add a new one, and that reconciliation follows.
func TestPostProcessing_RemovesAndAddsColumns(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{
		"map":[["a","a"],["b","b"],["c","c"]],
		"post-processing": "map(del(.b) | .total = (.a + .c))"
	}`))
	res := convertDoc(t, c, `[{"a": 1, "b": 2, "c": 3}]`)

	assert.Equal(t, []string{"a", "c", "total"}, res.Headers)
	assert.Equal(t, `4`, mustGet(t, res.Rows[0], "total"))
}

func TestPostProcessing_FailuresAreFatal(t *testing.T) {
	for _, s := range []string{"{}", "[1, 2]", "error(\"x\")"} {
		o := compile(t, `{"map":[["x","x"]]}`)
		o.PostProcessing = s
		c, _ := newConverter(t, o)

		_, err := c.ConvertDocument(context.Background(), jsonvalue.MustParse(`[{"x": 1}]`))
		assert.True(t, errors.Is(err, ErrPostProcessing), "%s: %v", s, err)
	}
}

func TestPostProcessing_EmptyArrayIsEmptyResult(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]], "post-processing": "[]"}`))
	_, err := c.ConvertDocument(context.Background(), jsonvalue.MustParse(`[{"x": 1}]`))
	assert.True(t, errors.Is(err, ErrEmptyResult))
}

func TestConvertDocument_TargetingErrors(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]], "collection": "items"}`))
	_, err := c.ConvertDocument(context.Background(), jsonvalue.MustParse(`{"other": []}`))
	assert.True(t, errors.Is(err, source.ErrCollectionNotFound))

	c, _ = newConverter(t, compile(t, `{"map":[["v","v"]], "dropRootKeys": true}`))
	res := convertDoc(t, c, `{"k1": {"v": 1}, "k2": {"v": 2}}`)
	assert.Equal(t, []string{`{"v":1}`, `{"v":2}`}, texts(res))
}

func TestConvertLines(t *testing.T) {
	eng := newCountingEngine()
	c, _ := newConverter(t, compile(t, `{
		"map":[["x","x"]],
		"collection": "data",
		"pre-processing": "error(\"never\")",
		"post-processing": "error(\"never\")",
		"map-processing": "{line: $__index}"
	}`), WithEngine(eng))

	in := "{\"data\": {\"x\": 1}}\n\n{\"x\": 2}\n"
	res, err := c.Convert(context.Background(), strings.NewReader(in), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "line"}, res.Headers)
	assert.Equal(t, []string{`{"x":1,"line":0}`, `{"x":2,"line":1}`}, texts(res))
	assert.Equal(t, 1, res.Rows[0].Line)
	assert.Equal(t, 3, res.Rows[1].Line)
	assert.Zero(t, eng.calls[`error("never")`], "no dataset-level scripts in line mode")
}

func TestConvertLines_Empty(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]]}`))
	_, err := c.ConvertLines(context.Background(), strings.NewReader("\n\n"))
	assert.True(t, errors.Is(err, ErrEmptyResult))
}

func TestNopEngineDropsScripts(t *testing.T) {
	c, logs := newConverter(t, compile(t, `{
		"map":[["x","x"],["y", null, {"script": ".y"}]],
		"map-processing": "{z: 1}",
		"post-processing": "error(\"x\")"
	}`), WithEngine(script.Nop{}))

	assert.False(t, c.Outline().HasScripts())
	assert.Contains(t, logs.String(), "ignoring all scripts")

	res := convertDoc(t, c, `[{"x": 1, "y": 2}]`)
	assert.Equal(t, []string{"x", "y"}, res.Headers)
	assert.Equal(t, []string{`{"x":1,"y":""}`}, texts(res))
}

func TestVerboseDumpsRecords(t *testing.T) {
	c, logs := newConverter(t, compile(t, `{"map":[["x","x"]]}`), WithVerbose(true))
	convertDoc(t, c, `[{"x": "marker-value"}]`)
	assert.Contains(t, logs.String(), "record 0")
	assert.Contains(t, logs.String(), "marker-value")
}

func TestConvertRecords_Canceled(t *testing.T) {
	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]]}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ConvertRecords(ctx, []jsonvalue.Value{jsonvalue.MustParse(`{"x": 1}`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvert_RecordsMetrics(t *testing.T) {
	rec := &recordingBackend{}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]]}`), WithJob("test-job"))
	convertDoc(t, c, `[{"x": 1}, {"x": 2}]`)

	assert.Equal(t, 4.0, rec.counter(metrics.RecordsTotal), "2 in + 2 out")
	assert.NotZero(t, rec.counter(metrics.StepTotal))
	assert.Equal(t, "test-job", rec.lastJob)
}

func TestConvert_WithMetricsUsesOwnBackend(t *testing.T) {
	global, own := &recordingBackend{}, &recordingBackend{}
	metrics.SetBackend(global)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	c, _ := newConverter(t, compile(t, `{"map":[["x","x"]]}`), WithMetrics(own))
	convertDoc(t, c, `[{"x": 1}]`)

	assert.Equal(t, 2.0, own.counter(metrics.RecordsTotal))
	assert.Zero(t, global.counter(metrics.RecordsTotal))
}

func mustGet(t *testing.T, r *Row, h string) string {
	t.Helper()
	v, ok := r.Get(h)
	require.True(t, ok, h)
	return v.Text()
}

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	lastJob  string
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]float64{}
	}
	r.counters[name] += delta
	r.lastJob = labels["job"]
}

func (r *recordingBackend) ObserveHistogram(string, float64, metrics.Labels) {}

func (r *recordingBackend) counter(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}
