// Package source resolves which part of an input is the record collection.
//
// Three modes exist, and exactly one applies to a conversion:
//   - line-delimited: every line is one JSON value (EachLine);
//   - collection-keyed: the records live under a key or dotted path of the
//     root object (Selector.Collection);
//   - drop-root-keys: the values of the root object, or the elements of a root
//     array, are the records (Selector.DropRootKeys).
//
// With no selector at all, a root array is used as-is.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/keypath"
)

var (
	// ErrCollectionNotFound is returned when the configured collection cannot
	// be resolved from the document root.
	ErrCollectionNotFound = errors.New("source: collection not found")
	// ErrNotCollection is returned when the targeted value is not iterable.
	ErrNotCollection = errors.New("source: not a collection")
)

// Selector names the record collection inside a document.
type Selector struct {
	// Collection is a direct key of the root object, or a dotted path starting
	// with "." (".data.items").
	Collection string
	// DropRootKeys iterates the values of the root object.
	DropRootKeys bool
}

// ReadDocument parses one whole JSON document.
func ReadDocument(r io.Reader) (jsonvalue.Value, error) {
	return jsonvalue.Decode(r)
}

// Records returns the record collection of a parsed document.
func Records(root jsonvalue.Value, sel Selector) ([]jsonvalue.Value, error) {
	switch {
	case sel.Collection != "":
		if !root.IsObject() {
			return nil, fmt.Errorf("%w: collection %q needs an object root, got %s", ErrNotCollection, sel.Collection, root.Kind())
		}
		target, err := resolveCollection(root, sel.Collection)
		if err != nil {
			return nil, err
		}
		if !target.IsArray() {
			return nil, fmt.Errorf("%w: collection %q is %s, want array", ErrNotCollection, sel.Collection, target.Kind())
		}
		return target.Items(), nil

	case sel.DropRootKeys:
		switch root.Kind() {
		case jsonvalue.Object:
			return root.Map().Values(), nil
		case jsonvalue.Array:
			return root.Items(), nil
		default:
			return nil, fmt.Errorf("%w: cannot drop root keys of %s", ErrNotCollection, root.Kind())
		}

	default:
		if !root.IsArray() {
			return nil, fmt.Errorf("%w: root is %s; set a collection or dropRootKeys", ErrNotCollection, root.Kind())
		}
		return root.Items(), nil
	}
}

// resolveCollection looks up a direct key first, then a dotted path.
func resolveCollection(root jsonvalue.Value, collection string) (jsonvalue.Value, error) {
	if v, ok := root.Field(collection); ok {
		return v, nil
	}
	if !strings.HasPrefix(collection, ".") {
		return jsonvalue.Value{}, fmt.Errorf("%w: no key %q at document root", ErrCollectionNotFound, collection)
	}
	v, err := keypath.Parse(strings.TrimPrefix(collection, ".")).Lookup(root)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, collection, err)
	}
	return v, nil
}

// Unwrap applies a collection selector inside one line-delimited record. When
// the record holds the collection, its value becomes the record; otherwise the
// record is returned unchanged.
func Unwrap(rec jsonvalue.Value, collection string) jsonvalue.Value {
	if collection == "" || !rec.IsObject() {
		return rec
	}
	v, err := resolveCollection(rec, collection)
	if err != nil {
		return rec
	}
	return v
}

// maxLineBytes bounds a single line-delimited record.
const maxLineBytes = 64 << 20

// EachLine streams a line-delimited input, calling fn once per non-blank line
// with the 1-based line number and the parsed record. Only one record is held
// in memory at a time.
//
// Parse errors and errors returned by fn stop the iteration.
func EachLine(ctx context.Context, r io.Reader, collection string, fn func(line int, rec jsonvalue.Value) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if line == 1 {
			raw = bytes.TrimPrefix(raw, []byte("\uFEFF"))
		}

		rec, err := jsonvalue.Parse(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, Unwrap(rec, collection)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("line %d: %w", line+1, err)
	}
	return nil
}
