package jsonvalue

// Map is an insertion-ordered string-keyed map.
//
// Setting an existing key replaces its value in place; the key keeps its
// original position. This is the semantics of both decoded JSON objects
// (duplicate keys: last one wins) and output rows.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// NewMapSize returns an empty map with room for n keys.
func NewMapSize(n int) *Map {
	return &Map{keys: make([]string, 0, n), vals: make(map[string]Value, n)}
}

// Len returns the number of keys. A nil map is empty.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order. Callers must not mutate it.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.vals[key]
	return ok
}

// Set stores v under key, appending key if it is new.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Delete removes key, preserving the order of the remaining keys.
func (m *Map) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Values returns the values in key order.
func (m *Map) Values() []Value {
	out := make([]Value, 0, m.Len())
	for _, k := range m.Keys() {
		out = append(out, m.vals[k])
	}
	return out
}

// Clone returns a shallow copy: values are shared, key order is not.
func (m *Map) Clone() *Map {
	out := NewMapSize(m.Len())
	for _, k := range m.Keys() {
		out.Set(k, m.vals[k])
	}
	return out
}
