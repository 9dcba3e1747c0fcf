// Package discovery infers a candidate outline from sample records.
//
// Every record is walked recursively: objects branch per key, arrays per
// element, and anything else is a leaf. The distinct leaf paths across all
// records become the outline's field mappings.
//
// Discovery is best-effort by nature: the generated outline is meant to be
// reviewed and edited before it drives a conversion.
package discovery

import (
	"errors"
	"sort"

	"json2csv/internal/jsonvalue"
	"json2csv/internal/keypath"
	"json2csv/internal/outline"
)

// ErrNoFields is returned when the records contain no leaf values at all. An
// outline without mappings would not compile, so callers should report this
// instead of writing it out.
var ErrNoFields = errors.New("discovery: no fields found")

// Order selects how discovered paths are laid out.
type Order int

const (
	// OrderGrouped keeps first-seen order but pulls paths sharing their first
	// two segments together, so siblings of one sub-object stay adjacent.
	OrderGrouped Order = iota
	// OrderSorted sorts paths segment by segment (array indices numerically).
	OrderSorted
)

// Options control what the generated outline contains.
type Options struct {
	Order Order

	// Scripts adds a fallback script equivalent to each keypath, plus identity
	// pre- and post-processing placeholders.
	Scripts bool
	// NoDuplicateAccessors, together with Scripts, leaves keypaths empty so
	// the scripts are the only accessors.
	NoDuplicateAccessors bool

	// Copied into the document as-is.
	Collection   string
	DropRootKeys bool
}

// Collector accumulates leaf paths one record at a time, which lets
// line-delimited inputs be discovered without holding every record.
type Collector struct {
	seen  map[string]struct{}
	paths []keypath.KeyPath
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{seen: map[string]struct{}{}}
}

// Add records every leaf path of rec. Scalar records have no path of their
// own and contribute nothing; so do empty objects and arrays.
func (c *Collector) Add(rec jsonvalue.Value) {
	c.walk(nil, rec)
}

func (c *Collector) walk(path keypath.KeyPath, v jsonvalue.Value) {
	switch v.Kind() {
	case jsonvalue.Object:
		m := v.Map()
		for _, k := range m.Keys() {
			child, _ := m.Get(k)
			c.walk(path.Append(keypath.Key(k)), child)
		}
	case jsonvalue.Array:
		for i, child := range v.Items() {
			c.walk(path.Append(keypath.Index(i)), child)
		}
	default:
		if len(path) == 0 {
			return
		}
		id := path.ID()
		if _, ok := c.seen[id]; ok {
			return
		}
		c.seen[id] = struct{}{}
		c.paths = append(c.paths, path)
	}
}

// Len reports the number of distinct leaf paths seen so far.
func (c *Collector) Len() int { return len(c.paths) }

// Paths returns the distinct leaf paths laid out by order.
func (c *Collector) Paths(order Order) []keypath.KeyPath {
	out := make([]keypath.KeyPath, len(c.paths))
	copy(out, c.paths)

	switch order {
	case OrderSorted:
		sort.SliceStable(out, func(i, j int) bool { return keypath.Compare(out[i], out[j]) < 0 })
	default:
		out = grouped(out)
	}
	return out
}

// grouped is a stable grouping by the first two segments. Groups appear in the
// order their first member was seen.
func grouped(paths []keypath.KeyPath) []keypath.KeyPath {
	var (
		keys   []string
		groups = map[string][]keypath.KeyPath{}
	)
	for _, p := range paths {
		k := groupKey(p)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], p)
	}

	out := make([]keypath.KeyPath, 0, len(paths))
	for _, k := range keys {
		out = append(out, groups[k]...)
	}
	return out
}

func groupKey(p keypath.KeyPath) string {
	if len(p) > 2 {
		p = p[:2]
	}
	return p.ID()
}

// Document renders the collected paths as an outline document.
func (c *Collector) Document(opt Options) (outline.Document, error) {
	if len(c.paths) == 0 {
		return outline.Document{}, ErrNoFields
	}

	paths := c.Paths(opt.Order)
	doc := outline.Document{
		Map:          make([]outline.Entry, 0, len(paths)),
		Collection:   opt.Collection,
		DropRootKeys: opt.DropRootKeys,
	}
	for _, p := range paths {
		e := outline.Entry{Header: p.Header(), KeyPath: p.Dotted()}
		if opt.Scripts {
			e.Script = &outline.ScriptSpec{Script: p.Selector(), Args: map[string]any{}}
			if opt.NoDuplicateAccessors {
				e.KeyPath = ""
			}
		}
		doc.Map = append(doc.Map, e)
	}
	if opt.Scripts {
		doc.PreProcessing = "."
		doc.PostProcessing = "."
	}
	return doc, nil
}

// Discover walks all records and returns the candidate outline document.
func Discover(records []jsonvalue.Value, opt Options) (outline.Document, error) {
	c := NewCollector()
	for _, rec := range records {
		c.Add(rec)
	}
	return c.Document(opt)
}
