package transformer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/davecgh/go-spew/spew"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/metrics"
	"json2csv/internal/outline"
	"json2csv/internal/script"
	"json2csv/internal/source"
)

var (
	// ErrEmptyResult is returned when a document yields no rows and empty
	// output was not allowed.
	ErrEmptyResult = errors.New("transformer: no rows produced")
	// ErrPreProcessing wraps failures of the dataset-level pre-processing script.
	ErrPreProcessing = errors.New("transformer: pre-processing failed")
	// ErrPostProcessing wraps failures of the dataset-level post-processing script.
	ErrPostProcessing = errors.New("transformer: post-processing failed")
)

// Step names used for metrics and log lines.
const (
	stepTargeting      = "targeting"
	stepPreProcessing  = "pre-processing"
	stepRows           = "rows"
	stepMapProcessing  = "map-processing"
	stepFallback       = "fallback"
	stepPostProcessing = "post-processing"
	stepFinish         = "finish"
)

// Result is the converted form of one document.
type Result struct {
	// Headers is the reconciled column order.
	Headers []string
	// Rows are normalized: every row carries every header.
	Rows []*Row
}

// Converter runs the row transformation pipeline for one outline.
//
// A Converter holds no per-document state and can convert any number of
// documents one after the other.
type Converter struct {
	outline *outline.Outline

	engine     script.Engine
	logger     *log.Logger
	allowEmpty bool
	job        string
	verbose    bool
	metrics    metrics.Recorder

	hasFallbacks bool
}

// Option configures a Converter.
type Option func(*Converter)

// WithEngine sets the scripting engine. Passing script.Nop{} turns scripts off.
func WithEngine(e script.Engine) Option { return func(c *Converter) { c.engine = e } }

// WithLogger sets where warnings about recovered script failures go.
func WithLogger(l *log.Logger) Option { return func(c *Converter) { c.logger = l } }

// WithAllowEmpty makes a document without rows a valid, header-only result.
func WithAllowEmpty(allow bool) Option { return func(c *Converter) { c.allowEmpty = allow } }

// WithJob sets the job label attached to metrics.
func WithJob(job string) Option { return func(c *Converter) { c.job = job } }

// WithMetrics sets the backend metrics are reported to. Without it, or with a
// nil b, the process-wide metrics backend is used.
func WithMetrics(b metrics.Backend) Option {
	return func(c *Converter) { c.metrics = metrics.NewRecorder(b) }
}

// WithVerbose logs a dump of every record before it is processed.
func WithVerbose(v bool) Option { return func(c *Converter) { c.verbose = v } }

// New builds a Converter for o. Without options it uses the jq engine, the
// standard logger, and rejects empty results.
//
// When the engine cannot run scripts, the outline's scripts are dropped once
// here and a notice is logged; conversions then behave as if the outline had
// none.
func New(o *outline.Outline, opts ...Option) *Converter {
	c := &Converter{
		outline: o,
		engine:  script.NewJQ(),
		logger:  log.Default(),
		job:     "json2csv",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}

	if !script.Available(c.engine) && o.HasScripts() {
		c.logger.Printf("transformer: scripting engine unavailable; ignoring all scripts in the outline")
		c.outline = o.WithoutScripts()
	}
	for _, f := range c.outline.Fields {
		if f.Fallback != nil {
			c.hasFallbacks = true
			break
		}
	}
	return c
}

// Outline returns the outline the converter actually applies.
func (c *Converter) Outline() *outline.Outline { return c.outline }

// Convert reads one input and converts it. With lineDelimited set, every
// line is a record; otherwise r holds a single JSON document.
func (c *Converter) Convert(ctx context.Context, r io.Reader, lineDelimited bool) (*Result, error) {
	if lineDelimited {
		return c.ConvertLines(ctx, r)
	}
	root, err := source.ReadDocument(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return c.ConvertDocument(ctx, root)
}

// ConvertDocument selects the records of a parsed document and converts them.
func (c *Converter) ConvertDocument(ctx context.Context, root jsonvalue.Value) (*Result, error) {
	start := time.Now()
	records, err := source.Records(root, source.Selector{
		Collection:   c.outline.Collection,
		DropRootKeys: c.outline.DropRootKeys,
	})
	c.metrics.RecordStep(c.job, stepTargeting, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return c.ConvertRecords(ctx, records)
}

// ConvertRecords runs every stage over an already selected record sequence.
//
// Pre- and post-processing failures abort the conversion. Per-row and
// per-field script failures are logged and leave the affected values as they
// were.
func (c *Converter) ConvertRecords(ctx context.Context, records []jsonvalue.Value) (*Result, error) {
	c.metrics.RecordRecords(c.job, "in", len(records))

	records, err := c.preProcess(ctx, records)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows := make([]*Row, 0, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			c.metrics.RecordStep(c.job, stepRows, err, time.Since(start))
			return nil, err
		}
		rows = append(rows, c.processRecord(ctx, i, rec))
	}
	c.metrics.RecordStep(c.job, stepRows, nil, time.Since(start))

	rows, err = c.postProcess(ctx, rows)
	if err != nil {
		return nil, err
	}
	return c.finish(rows)
}

// ConvertLines converts a line-delimited input. Each line is processed as it
// is read; pre- and post-processing do not apply since there is no
// whole-document view.
func (c *Converter) ConvertLines(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	var rows []*Row
	err := source.EachLine(ctx, r, c.outline.Collection, func(line int, rec jsonvalue.Value) error {
		row := c.processRecord(ctx, len(rows), rec)
		row.Line = line
		rows = append(rows, row)
		return nil
	})
	c.metrics.RecordRecords(c.job, "in", len(rows))
	c.metrics.RecordStep(c.job, stepRows, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return c.finish(rows)
}

func (c *Converter) finish(rows []*Row) (*Result, error) {
	if len(rows) == 0 && !c.allowEmpty {
		c.metrics.RecordStep(c.job, stepFinish, ErrEmptyResult, 0)
		return nil, ErrEmptyResult
	}

	start := time.Now()
	headers := Reconcile(c.outline.Headers(), rows)
	Normalize(rows, headers, c.outline.Special)
	c.metrics.RecordStep(c.job, stepFinish, nil, time.Since(start))
	c.metrics.RecordRecords(c.job, "out", len(rows))

	return &Result{Headers: headers, Rows: rows}, nil
}

func (c *Converter) preProcess(ctx context.Context, records []jsonvalue.Value) ([]jsonvalue.Value, error) {
	if c.outline.PreProcessing == "" {
		return records, nil
	}

	start := time.Now()
	out, err := c.engine.Evaluate(ctx, c.outline.PreProcessing, jsonvalue.ArrayValue(records...), c.outline.Constants)
	if err == nil && !out.IsArray() {
		err = fmt.Errorf("result is %s, want array", out.Kind())
	}
	c.metrics.RecordStep(c.job, stepPreProcessing, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreProcessing, err)
	}
	return out.Items(), nil
}

func (c *Converter) postProcess(ctx context.Context, rows []*Row) ([]*Row, error) {
	if c.outline.PostProcessing == "" {
		return rows, nil
	}

	start := time.Now()
	in := make([]jsonvalue.Value, len(rows))
	for i, r := range rows {
		in[i] = r.Value()
	}

	out, err := c.engine.Evaluate(ctx, c.outline.PostProcessing, jsonvalue.ArrayValue(in...), c.outline.Constants)
	var result []*Row
	if err == nil {
		result, err = rowsFromValue(out)
	}
	c.metrics.RecordStep(c.job, stepPostProcessing, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPostProcessing, err)
	}
	return result, nil
}

func rowsFromValue(v jsonvalue.Value) ([]*Row, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("result is %s, want array of objects", v.Kind())
	}
	rows := make([]*Row, 0, v.Len())
	for i, it := range v.Items() {
		r, ok := RowFromValue(it)
		if !ok {
			return nil, fmt.Errorf("result[%d] is %s, want object", i, it.Kind())
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// processRecord runs extraction, map-processing and fallbacks for one record.
func (c *Converter) processRecord(ctx context.Context, index int, rec jsonvalue.Value) *Row {
	if c.verbose {
		c.logger.Printf("transformer: record %d:\n%s", index, spew.Sdump(rec.Interface()))
	}

	row := c.extract(rec)
	if c.outline.MapProcessing == "" && !c.hasFallbacks {
		return row
	}

	vars := c.rowVars(row, index)
	if c.outline.MapProcessing != "" {
		c.mapProcess(ctx, index, rec, row, vars)
	}
	if c.hasFallbacks {
		c.fallback(ctx, index, rec, row, vars)
	}
	return row
}

// extract reads every mapped path. Lookup failures and empty paths give null.
func (c *Converter) extract(rec jsonvalue.Value) *Row {
	row := NewRow(len(c.outline.Fields))
	for _, f := range c.outline.Fields {
		if len(f.Path) == 0 {
			row.Set(f.Header, jsonvalue.NullValue())
			continue
		}
		v, err := f.Path.Lookup(rec)
		if err != nil {
			v = jsonvalue.NullValue()
		}
		row.Set(f.Header, v)
	}
	return row
}

// rowVars builds the script variables of a row: its extracted values, then
// the outline constants, then the record index. Later entries win.
func (c *Converter) rowVars(row *Row, index int) map[string]jsonvalue.Value {
	vars := make(map[string]jsonvalue.Value, row.Len()+len(c.outline.Constants)+1)
	for _, k := range row.Keys() {
		vars[k], _ = row.Get(k)
	}
	for k, v := range c.outline.Constants {
		vars[k] = v
	}
	vars[script.IndexVar] = jsonvalue.IntValue(int64(index))
	return vars
}

// mapProcess merges the object returned by the map-processing script into the
// row. The script sees the original record, not the row. A null result leaves
// the row unchanged.
func (c *Converter) mapProcess(ctx context.Context, index int, rec jsonvalue.Value, row *Row, vars map[string]jsonvalue.Value) {
	out, err := c.engine.Evaluate(ctx, c.outline.MapProcessing, rec, vars)
	if err == nil && !out.IsNull() && !out.IsObject() {
		err = fmt.Errorf("result is %s, want object", out.Kind())
	}
	if err != nil {
		c.logger.Printf("transformer: warning: %s failed on record %d, row kept: %v", stepMapProcessing, index, err)
		c.metrics.RecordScriptError(c.job, stepMapProcessing)
		return
	}
	if out.IsNull() {
		return
	}

	m := out.Map()
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		row.Set(k, v)
	}
}

// fallback runs field scripts for columns that are still null. A value that
// extraction or map-processing produced is never replaced.
func (c *Converter) fallback(ctx context.Context, index int, rec jsonvalue.Value, row *Row, vars map[string]jsonvalue.Value) {
	for _, f := range c.outline.Fields {
		if f.Fallback == nil {
			continue
		}
		if v, _ := row.Get(f.Header); !v.IsNull() {
			continue
		}

		fv := make(map[string]jsonvalue.Value, len(vars)+len(f.Fallback.Args))
		for k, v := range vars {
			fv[k] = v
		}
		for k, v := range f.Fallback.Args {
			fv[k] = v
		}

		out, err := c.engine.Evaluate(ctx, f.Fallback.Text, rec, fv)
		if err != nil {
			c.logger.Printf("transformer: warning: %s for %q failed on record %d: %v", stepFallback, f.Header, index, err)
			c.metrics.RecordScriptError(c.job, stepFallback)
			continue
		}
		row.Set(f.Header, out)
	}
}
