// Package keypath addresses values inside JSON documents.
//
// A KeyPath is the same thing whether it comes out of schema discovery or goes
// into row extraction: an ordered list of object keys and array indices.
package keypath

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"json2csv/internal/jsonvalue"
)

var (
	// ErrNotFound is returned when a key or index does not exist.
	ErrNotFound = errors.New("keypath: not found")
	// ErrTypeMismatch is returned when a segment is applied to a value that
	// cannot hold it (an index into an object, a key into a scalar, ...).
	ErrTypeMismatch = errors.New("keypath: type mismatch")
)

// Segment is either an object key or an array index.
type Segment struct {
	key     string
	index   int
	isIndex bool
}

// Key returns an object-key segment.
func Key(k string) Segment { return Segment{key: k} }

// Index returns an array-index segment. Negative indices are clamped to 0.
func Index(i int) Segment {
	if i < 0 {
		i = 0
	}
	return Segment{index: i, isIndex: true}
}

func (s Segment) IsIndex() bool { return s.isIndex }

// Name returns the key of a key segment (empty for index segments).
func (s Segment) Name() string { return s.key }

// Pos returns the index of an index segment (0 for key segments).
func (s Segment) Pos() int { return s.index }

func (s Segment) String() string {
	if s.isIndex {
		return strconv.Itoa(s.index)
	}
	return s.key
}

// KeyPath is an ordered list of segments. The empty path addresses the root.
type KeyPath []Segment

// Of builds a path from strings and ints; any other type panics. Handy for
// tables and tests.
func Of(parts ...any) KeyPath {
	p := make(KeyPath, 0, len(parts))
	for _, x := range parts {
		switch t := x.(type) {
		case string:
			p = append(p, Key(t))
		case int:
			p = append(p, Index(t))
		default:
			panic(fmt.Sprintf("keypath.Of: unsupported part %T", x))
		}
	}
	return p
}

var intLiteral = regexp.MustCompile(`^[0-9]+$`)

// Parse splits a dotted path ("a.b.2.c"). Segments of integer-literal form
// become array indices. The empty string is the empty path.
func Parse(dotted string) KeyPath {
	if dotted == "" {
		return nil
	}
	parts := strings.Split(dotted, ".")
	p := make(KeyPath, 0, len(parts))
	for _, part := range parts {
		if intLiteral.MatchString(part) {
			if i, err := strconv.Atoi(part); err == nil {
				p = append(p, Index(i))
				continue
			}
		}
		p = append(p, Key(part))
	}
	return p
}

// Join renders the segments joined by sep.
func (p KeyPath) Join(sep string) string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, sep)
}

// Dotted renders the path the way outlines spell it ("a.b.2.c").
func (p KeyPath) Dotted() string { return p.Join(".") }

// Header renders the default column name for the path ("a_b_2_c").
func (p KeyPath) Header() string { return p.Join("_") }

var jqIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Selector renders an equivalent jq expression: indices use bracket notation
// and keys that are not plain identifiers are quoted (.a."b c"[2].d).
func (p KeyPath) Selector() string {
	if len(p) == 0 {
		return "."
	}
	var b strings.Builder
	for _, s := range p {
		switch {
		case s.isIndex:
			b.WriteString("[")
			b.WriteString(strconv.Itoa(s.index))
			b.WriteString("]")
		case jqIdent.MatchString(s.key):
			b.WriteString(".")
			b.WriteString(s.key)
		default:
			b.WriteString(".")
			b.WriteString(strconv.Quote(s.key))
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "[") {
		out = "." + out
	}
	return out
}

// ID returns a string that uniquely identifies the path, distinguishing the
// key "2" from the index 2. Use it as a map key.
func (p KeyPath) ID() string {
	var b strings.Builder
	for _, s := range p {
		if s.isIndex {
			b.WriteString("\x00#")
			b.WriteString(strconv.Itoa(s.index))
		} else {
			b.WriteString("\x00.")
			b.WriteString(s.key)
		}
	}
	return b.String()
}

// Equal reports whether both paths have the same segments in order.
func (p KeyPath) Equal(q KeyPath) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Append returns a new path with s appended; p is never aliased.
func (p KeyPath) Append(s Segment) KeyPath {
	out := make(KeyPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

// Compare orders paths segment by segment. Indices compare numerically and
// keys lexicographically; at the same position an index sorts before a key.
// A path sorts before any longer path it is a prefix of.
func Compare(a, b KeyPath) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareSegment(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareSegment(a, b Segment) int {
	switch {
	case a.isIndex && b.isIndex:
		switch {
		case a.index < b.index:
			return -1
		case a.index > b.index:
			return 1
		}
		return 0
	case a.isIndex:
		return -1
	case b.isIndex:
		return 1
	default:
		return strings.Compare(a.key, b.key)
	}
}

// Lookup walks the path from root.
//
// Errors wrap ErrNotFound (missing key, index out of range) or ErrTypeMismatch
// (the value at some step cannot hold the next segment). An index segment
// applied to an object falls back to the decimal key, so objects keyed by
// numbers ("2020": ...) stay reachable from dotted paths.
func (p KeyPath) Lookup(root jsonvalue.Value) (jsonvalue.Value, error) {
	cur := root
	for i, s := range p {
		switch cur.Kind() {
		case jsonvalue.Object:
			v, ok := cur.Field(s.String())
			if !ok {
				return jsonvalue.Value{}, fmt.Errorf("%w: %q at %s", ErrNotFound, s.String(), p[:i+1].Dotted())
			}
			cur = v
		case jsonvalue.Array:
			if !s.isIndex {
				return jsonvalue.Value{}, fmt.Errorf("%w: key %q on array at %s", ErrTypeMismatch, s.key, p[:i].Dotted())
			}
			v, ok := cur.Index(s.index)
			if !ok {
				return jsonvalue.Value{}, fmt.Errorf("%w: index %d out of range (len %d) at %s", ErrNotFound, s.index, cur.Len(), p[:i+1].Dotted())
			}
			cur = v
		default:
			return jsonvalue.Value{}, fmt.Errorf("%w: %q on %s at %s", ErrTypeMismatch, s.String(), cur.Kind(), p[:i].Dotted())
		}
	}
	return cur, nil
}
