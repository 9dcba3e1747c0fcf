package outline

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Document is an outline in its file shape, as produced by schema discovery.
// It is meant to be written out, edited by hand, and compiled later.
type Document struct {
	Map          []Entry
	Collection   string
	DropRootKeys bool

	// Placeholders for the operator to edit; "." is the identity script.
	PreProcessing  string
	PostProcessing string
}

// Entry is one [header, keypath, fallback] mapping.
type Entry struct {
	Header  string
	KeyPath string
	Script  *ScriptSpec
}

// ScriptSpec is a fallback script in file shape. Fields are declared in key
// order so the encoding stays sorted.
type ScriptSpec struct {
	Args   map[string]any `json:"args"`
	Script string         `json:"script"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Script == nil {
		return json.Marshal([]any{e.Header, e.KeyPath})
	}
	args := e.Script.Args
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal([]any{e.Header, e.KeyPath, ScriptSpec{Script: e.Script.Script, Args: args}})
}

// MarshalJSON writes the document with its keys sorted, so regenerating an
// outline from the same data gives the same bytes.
func (d Document) MarshalJSON() ([]byte, error) {
	entries := d.Map
	if entries == nil {
		entries = []Entry{}
	}
	out := map[string]any{keyMap: entries}
	if d.Collection != "" {
		out[keyCollection] = d.Collection
	}
	if d.DropRootKeys {
		out[keyDropRootKeys] = true
	}
	if d.PreProcessing != "" {
		out[keyPreProcessing] = d.PreProcessing
	}
	if d.PostProcessing != "" {
		out[keyPostProcessing] = d.PostProcessing
	}
	return json.Marshal(out)
}

// Encode writes d as indented JSON followed by a newline.
func Encode(w io.Writer, d Document) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode outline: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("indent outline: %w", err)
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
