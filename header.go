package httppool

import (
	"maps"
	"slices"
	"strings"

	"github.com/indigo-web/utils/strcomp"
)

// HeaderField is one header name/value pair.
type HeaderField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Header is an ordered multimap of HTTP header fields.
//
// Lookups are case-insensitive; iteration follows insertion order and keeps
// the key spelling of the first insertion. The zero value is ready to use.
type Header struct {
	fields []HeaderField
}

// NewHeader builds a Header from alternating key/value strings.
// A trailing key without a value is ignored.
func NewHeader(kv ...string) *Header {
	h := &Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// HeaderFromMap builds a Header from m with keys in sorted order.
func HeaderFromMap(m map[string]string) *Header {
	h := &Header{}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		h.Add(k, m[k])
	}
	return h
}

// Add appends a value for key, keeping existing values.
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, HeaderField{Key: key, Value: value})
}

// Set replaces all values of key with value. The field keeps the position
// of the first existing occurrence.
func (h *Header) Set(key, value string) {
	for i, f := range h.fields {
		if strcomp.EqualFold(f.Key, key) {
			h.fields[i].Value = value
			h.deleteFrom(key, i+1)
			return
		}
	}
	h.Add(key, value)
}

// Get returns the first value of key.
func (h *Header) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

// Lookup returns the first value of key and whether it was present.
func (h *Header) Lookup(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, f := range h.fields {
		if strcomp.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value of key in insertion order.
func (h *Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	var values []string
	for _, f := range h.fields {
		if strcomp.EqualFold(f.Key, key) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Del removes all values of key.
func (h *Header) Del(key string) {
	h.deleteFrom(key, 0)
}

func (h *Header) deleteFrom(key string, from int) {
	kept := h.fields[:from]
	for _, f := range h.fields[from:] {
		if !strcomp.EqualFold(f.Key, key) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len returns the number of fields, counting repeated keys.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.fields)
}

// Fields returns a copy of all fields in insertion order.
func (h *Header) Fields() []HeaderField {
	if h == nil {
		return nil
	}
	return append([]HeaderField(nil), h.fields...)
}

// Keys returns each distinct key once, in order of first insertion.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	var keys []string
	seen := make(map[string]struct{}, len(h.fields))
	for _, f := range h.fields {
		lower := strings.ToLower(f.Key)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		keys = append(keys, f.Key)
	}
	return keys
}

// Clone returns a deep copy. Cloning a nil Header returns an empty one.
func (h *Header) Clone() *Header {
	return &Header{fields: h.Fields()}
}

// Map flattens the header into a map, joining repeated values with ", ".
func (h *Header) Map() map[string]string {
	m := make(map[string]string, h.Len())
	for _, k := range h.Keys() {
		m[k] = strings.Join(h.Values(k), ", ")
	}
	return m
}
