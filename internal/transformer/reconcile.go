package transformer

// Reconcile computes the final column order for one document.
//
// Declared headers keep their order. Columns that appear in rows but were not
// declared (added by map- or post-processing) are appended in the order they
// are first seen, rows in order and keys in row order. Declared headers that
// no row carries (removed by post-processing) are dropped.
//
// With no rows at all the declared headers are returned unchanged, so an
// allowed empty result still writes a header line.
func Reconcile(declared []string, rows []*Row) []string {
	hs := NewHeaderSet(declared...)
	if len(rows) == 0 {
		return hs.Names()
	}

	seen := make(map[string]struct{}, hs.Len())
	for _, r := range rows {
		for _, k := range r.Keys() {
			seen[k] = struct{}{}
			hs.Add(k)
		}
	}
	for _, name := range hs.Names() {
		if _, ok := seen[name]; !ok {
			hs.Remove(name)
		}
	}
	return hs.Names()
}
