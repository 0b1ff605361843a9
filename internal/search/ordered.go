package search

// OrderedMap is a map that remembers the order in which keys were first set.
type OrderedMap[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{values: make(map[K]V)}
}

// Get returns the value stored under key.
func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Set stores value under key. Re-setting a key keeps its original position.
func (m *OrderedMap[K, V]) Set(key K, value V) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Len returns the number of keys.
func (m *OrderedMap[K, V]) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *OrderedMap[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Values returns at most limit values in insertion order. A limit <= 0
// returns every value.
func (m *OrderedMap[K, V]) Values(limit int) []V {
	n := len(m.keys)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]V, 0, n)
	for _, k := range m.keys[:n] {
		out = append(out, m.values[k])
	}
	return out
}
