package model

import (
	"bytes"
	"container/list"
	"encoding/json"
	"sync"
)

// entry is the payload stored in each list.Element.
type entry struct {
	key   string
	value string
}

// OrderedMap is a string-to-string map that preserves insertion order,
// pairing a map[string]*list.Element with a container/list.List for
// O(1) lookup and O(1) order-preserving iteration.
//
// Safe for concurrent use; callers needing an immutable snapshot should
// call Clone or Pairs, not iterate shared internal state.
type OrderedMap struct {
	mu    sync.RWMutex
	order *list.List
	index map[string]*list.Element
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// NewOrderedMapFromPairs builds an OrderedMap preserving the given slice's
// order, the shape release bodies arrive in off the wire.
func NewOrderedMapFromPairs(pairs []Pair) *OrderedMap {
	m := NewOrderedMap()
	for _, p := range pairs {
		m.Set(p.Key, p.Value)
	}
	return m
}

// Pair is a single ordered key/value entry, used for wire (de)serialization
// and snapshot iteration.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Set inserts or updates key. Updating an existing key keeps its original
// position (Apollo-compatible "insertion order", not "last-write order").
func (m *OrderedMap) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[key]; ok {
		el.Value.(*entry).value = value
		return
	}
	el := m.order.PushBack(&entry{key: key, value: value})
	m.index[key] = el
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	el, ok := m.index[key]
	if !ok {
		return "", false
	}
	return el.Value.(*entry).value, true
}

// Delete removes key, reporting whether it was present.
func (m *OrderedMap) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.index[key]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.index, key)
	return true
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

// Keys returns a snapshot of keys in insertion order.
func (m *OrderedMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Pairs returns a snapshot of all entries in insertion order.
func (m *OrderedMap) Pairs() []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]Pair, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		pairs = append(pairs, Pair{Key: e.key, Value: e.value})
	}
	return pairs
}

// Clone returns an independent deep copy preserving order.
func (m *OrderedMap) Clone() *OrderedMap {
	return NewOrderedMapFromPairs(m.Pairs())
}

// Equal reports whether two OrderedMaps hold the same key/value content,
// ignoring order.
func (m *OrderedMap) Equal(other *OrderedMap) bool {
	if m == nil || other == nil {
		return m == other
	}
	a, b := m.Pairs(), other.Pairs()
	if len(a) != len(b) {
		return false
	}
	bv, ok := make(map[string]string, len(b)), true
	for _, p := range b {
		bv[p.Key] = p.Value
	}
	for _, p := range a {
		v, present := bv[p.Key]
		if !present || v != p.Value {
			ok = false
			break
		}
	}
	return ok
}

// MarshalJSON renders the map as a JSON object, preserving insertion
// order — encoding/json does not do this for a Go map, so OrderedMap
// writes the object body itself.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	pairs := m.Pairs()
	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, p := range pairs {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON decodes a JSON object into an OrderedMap, preserving the
// order keys appear in the source document via json.Decoder's token
// stream (encoding/json's map decoding loses order, so we can't decode
// into map[string]string first).
func (m *OrderedMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &json.UnmarshalTypeError{Value: "non-object", Type: nil}
	}
	*m = *NewOrderedMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return err
		}
		m.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
