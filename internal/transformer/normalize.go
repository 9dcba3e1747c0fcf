package transformer

import (
	"strings"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/outline"
)

// Normalize applies the special-value replacements to every header of every
// row. A header missing from a row is treated as null, so after Normalize
// every row carries every header.
func Normalize(rows []*Row, headers []string, sv outline.SpecialValues) {
	for _, r := range rows {
		for _, h := range headers {
			v, _ := r.Get(h)
			r.Set(h, sv.Replace(v))
		}
	}
}

// Stringifier renders cell values as display text.
type Stringifier struct {
	// Sep joins array elements.
	Sep string
	// KeyValue joins a key and its value inside an object.
	KeyValue string
	// DictSep joins the key/value pairs of an object.
	DictSep string
	// Open and Close wrap an object.
	Open  string
	Close string
}

// DefaultStringifier suits objects nested one level deep: pairs go on
// separate lines of the same cell.
func DefaultStringifier() Stringifier {
	return Stringifier{Sep: ", ", KeyValue: ": ", DictSep: "\r"}
}

// String renders v. Strings are written as-is, numbers as their literal,
// booleans as true/false and null as "null".
func (s Stringifier) String(v jsonvalue.Value) string {
	var b strings.Builder
	s.write(&b, v)
	return b.String()
}

func (s Stringifier) write(b *strings.Builder, v jsonvalue.Value) {
	switch v.Kind() {
	case jsonvalue.Array:
		for i, it := range v.Items() {
			if i > 0 {
				b.WriteString(s.Sep)
			}
			s.write(b, it)
		}
	case jsonvalue.Object:
		m := v.Map()
		b.WriteString(s.Open)
		for i, k := range m.Keys() {
			if i > 0 {
				b.WriteString(s.DictSep)
			}
			val, _ := m.Get(k)
			b.WriteString(k)
			b.WriteString(s.KeyValue)
			s.write(b, val)
		}
		b.WriteString(s.Close)
	default:
		b.WriteString(scalarText(v))
	}
}

func scalarText(v jsonvalue.Value) string {
	switch v.Kind() {
	case jsonvalue.String:
		s, _ := v.Str()
		return s
	case jsonvalue.Number:
		n, _ := v.Number()
		return string(n)
	case jsonvalue.Bool:
		if b, _ := v.Bool(); b {
			return "true"
		}
		return "false"
	case jsonvalue.Null:
		return "null"
	default:
		return v.Text()
	}
}

// Cell renders v for a text sink. With composite set, arrays and objects go
// through the Stringifier; otherwise they are written as compact JSON.
// Scalars render the same either way.
func (s Stringifier) Cell(v jsonvalue.Value, composite bool) string {
	switch v.Kind() {
	case jsonvalue.Array, jsonvalue.Object:
		if composite {
			return s.String(v)
		}
		return v.Text()
	default:
		return scalarText(v)
	}
}

// Records renders rows as string records in headers order, ready for a
// delimited writer.
func (s Stringifier) Records(rows []*Row, headers []string, composite bool) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		rec := make([]string, len(headers))
		for j, v := range r.Values(headers) {
			rec[j] = s.Cell(v, composite)
		}
		out[i] = rec
	}
	return out
}
