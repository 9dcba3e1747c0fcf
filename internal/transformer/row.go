// Package transformer turns records into flat rows by following an outline.
//
// This file holds the two containers the pipeline mutates: Row, one output
// row in column-insertion order, and HeaderSet, the ordered column list.
package transformer

import (
	"json2csv/internal/jsonvalue"
)

// Row is one output row: header -> value, in insertion order.
//
// Rows are created by extraction and mutated by the script stages, header
// reconciliation and normalization. A Row is owned by one conversion.
type Row struct {
	fields *jsonvalue.Map

	// Line is the 1-based input line in line-delimited mode, 0 otherwise.
	Line int
}

// NewRow returns an empty row sized for n columns.
func NewRow(n int) *Row {
	return &Row{fields: jsonvalue.NewMapSize(n)}
}

// RowFromValue builds a row from an object value. ok is false for anything
// else.
func RowFromValue(v jsonvalue.Value) (*Row, bool) {
	if !v.IsObject() {
		return nil, false
	}
	return &Row{fields: v.Map().Clone()}, true
}

// Get returns the value of a column; missing columns read as null.
func (r *Row) Get(header string) (jsonvalue.Value, bool) {
	return r.fields.Get(header)
}

func (r *Row) Set(header string, v jsonvalue.Value) { r.fields.Set(header, v) }

func (r *Row) Delete(header string) { r.fields.Delete(header) }

// Keys returns the columns present in this row, in insertion order.
func (r *Row) Keys() []string { return r.fields.Keys() }

func (r *Row) Len() int { return r.fields.Len() }

// Value returns the row as an object value. The row's storage is shared.
func (r *Row) Value() jsonvalue.Value { return jsonvalue.ObjectValue(r.fields) }

// Values returns the cells in headers order; missing columns are null.
func (r *Row) Values(headers []string) []jsonvalue.Value {
	out := make([]jsonvalue.Value, len(headers))
	for i, h := range headers {
		out[i], _ = r.fields.Get(h)
	}
	return out
}

// HeaderSet is an insertion-ordered set of column names.
type HeaderSet struct {
	names []string
	pos   map[string]int
}

// NewHeaderSet returns a set seeded with names, duplicates dropped.
func NewHeaderSet(names ...string) *HeaderSet {
	hs := &HeaderSet{pos: make(map[string]int, len(names))}
	for _, n := range names {
		hs.Add(n)
	}
	return hs
}

// Add appends name if absent. It reports whether the set changed.
func (hs *HeaderSet) Add(name string) bool {
	if _, ok := hs.pos[name]; ok {
		return false
	}
	hs.pos[name] = len(hs.names)
	hs.names = append(hs.names, name)
	return true
}

// Remove deletes name if present, keeping the order of the rest. It reports
// whether the set changed.
func (hs *HeaderSet) Remove(name string) bool {
	i, ok := hs.pos[name]
	if !ok {
		return false
	}
	hs.names = append(hs.names[:i], hs.names[i+1:]...)
	delete(hs.pos, name)
	for j := i; j < len(hs.names); j++ {
		hs.pos[hs.names[j]] = j
	}
	return true
}

func (hs *HeaderSet) Contains(name string) bool {
	_, ok := hs.pos[name]
	return ok
}

func (hs *HeaderSet) Len() int { return len(hs.names) }

// Names returns a copy of the names in order.
func (hs *HeaderSet) Names() []string {
	out := make([]string, len(hs.names))
	copy(out, hs.names)
	return out
}
