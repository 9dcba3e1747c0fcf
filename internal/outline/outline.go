// Package outline holds the compiled mapping that drives a conversion: which
// columns to produce, where each one comes from in a record, and the optional
// scripts that reshape records and rows along the way.
package outline

import (
	"errors"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/keypath"
)

// ErrInvalidOutline is returned when an outline document cannot be compiled.
var ErrInvalidOutline = errors.New("outline: invalid outline")

// Script is a script text plus the named arguments bound to it.
type Script struct {
	Text string
	Args map[string]jsonvalue.Value
}

// FieldMapping binds one output column to a record path and an optional
// fallback script, which only runs when the column is still null.
type FieldMapping struct {
	Header   string
	Path     keypath.KeyPath
	Fallback *Script
}

// SpecialValues are the replacement strings for null, empty-string and
// boolean cells.
type SpecialValues struct {
	Null  string
	Empty string
	True  string
	False string
}

// DefaultSpecialValues returns the replacements used when an outline does not
// override them.
func DefaultSpecialValues() SpecialValues {
	return SpecialValues{True: "true", False: "false"}
}

// Replace applies the substitutions to one cell.
//
// Null and the empty string are replaced by value. Booleans are matched by
// kind, so the number 1 and the string "true" are left alone.
func (sv SpecialValues) Replace(v jsonvalue.Value) jsonvalue.Value {
	if v.IsNull() {
		return jsonvalue.StringValue(sv.Null)
	}
	if s, ok := v.Str(); ok && s == "" {
		return jsonvalue.StringValue(sv.Empty)
	}
	if b, ok := v.Bool(); ok {
		if b {
			return jsonvalue.StringValue(sv.True)
		}
		return jsonvalue.StringValue(sv.False)
	}
	return v
}

// Outline is the compiled, validated mapping. It is read-only once compiled
// and may be shared across conversions.
type Outline struct {
	Fields []FieldMapping

	// Collection and DropRootKeys select the records; at most one is set.
	Collection   string
	DropRootKeys bool

	// Empty scripts are no-ops.
	PreProcessing  string
	MapProcessing  string
	PostProcessing string

	Constants map[string]jsonvalue.Value
	Special   SpecialValues
}

// Headers returns the declared column names in order.
func (o *Outline) Headers() []string {
	out := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		out[i] = f.Header
	}
	return out
}

// HasScripts reports whether any stage or field carries a script.
func (o *Outline) HasScripts() bool {
	if o.PreProcessing != "" || o.MapProcessing != "" || o.PostProcessing != "" {
		return true
	}
	for _, f := range o.Fields {
		if f.Fallback != nil {
			return true
		}
	}
	return false
}

// WithoutScripts returns a copy with every script removed. Fields that relied
// only on a fallback script stay declared and extract as null.
func (o *Outline) WithoutScripts() *Outline {
	cp := *o
	cp.PreProcessing, cp.MapProcessing, cp.PostProcessing = "", "", ""
	cp.Fields = make([]FieldMapping, len(o.Fields))
	for i, f := range o.Fields {
		cp.Fields[i] = FieldMapping{Header: f.Header, Path: f.Path}
	}
	return &cp
}
