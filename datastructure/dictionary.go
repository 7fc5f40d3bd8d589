// Package datastructure provides the generic containers shared by the kernel,
// the mvc layer and the views.
package datastructure

import "sort"

// Dictionary is a string keyed bag of values. It is not safe for concurrent
// writes; callers that share one across goroutines must guard it.
type Dictionary struct {
	data map[string]interface{}
}

// NewDictionary creates a dictionary loaded with a copy of data
func NewDictionary(data map[string]interface{}) *Dictionary {
	d := &Dictionary{data: make(map[string]interface{}, len(data))}
	d.Load(data)
	return d
}

// Get returns the value stored under key or def when the key does not exist.
// A stored nil is returned as nil, not as def.
func (d *Dictionary) Get(key string, def interface{}) interface{} {
	value, ok := d.data[key]
	if !ok {
		return def
	}
	return value
}

// Lookup returns the value and whether the key exists
func (d *Dictionary) Lookup(key string) (interface{}, bool) {
	value, ok := d.data[key]
	return value, ok
}

// GetString returns the value as a string or def when missing or not a string
func (d *Dictionary) GetString(key, def string) string {
	if s, ok := d.data[key].(string); ok {
		return s
	}
	return def
}

// Add stores value under key, replacing any existing value
func (d *Dictionary) Add(key string, value interface{}) *Dictionary {
	d.data[key] = value
	return d
}

// Exists reports whether key is present
func (d *Dictionary) Exists(key string) bool {
	_, ok := d.data[key]
	return ok
}

// Remove deletes key
func (d *Dictionary) Remove(key string) *Dictionary {
	delete(d.data, key)
	return d
}

// Count returns the number of items
func (d *Dictionary) Count() int {
	return len(d.data)
}

// Load adds every key value pair in data
func (d *Dictionary) Load(data map[string]interface{}) *Dictionary {
	for k, v := range data {
		d.data[k] = v
	}
	return d
}

// GetAll returns a copy of the underlying data
func (d *Dictionary) GetAll() map[string]interface{} {
	out := make(map[string]interface{}, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order
func (d *Dictionary) Keys() []string {
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CollectMap gathers the values of the given keys. Keys that do not exist are
// skipped; keys holding nil or false are kept.
func (d *Dictionary) CollectMap(keys []string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if value, ok := d.data[key]; ok {
			out[key] = value
		}
	}
	return out
}

// Collect is CollectMap wrapped in a new dictionary
func (d *Dictionary) Collect(keys []string) *Dictionary {
	return &Dictionary{data: d.CollectMap(keys)}
}

// Clear removes all items
func (d *Dictionary) Clear() *Dictionary {
	d.data = make(map[string]interface{})
	return d
}
