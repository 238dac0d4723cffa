package domain

// Headers is the ordered key/value block at the top of a status document.
// Insertion order is preserved on save; setting an existing key overwrites
// its value in place (last write wins).
type Headers struct {
	keys   []string
	values map[string]string
}

// NewHeaders returns an empty header block.
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]string)}
}

// Set stores a value, appending the key on first write.
func (h *Headers) Set(key, value string) {
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value for key and whether it was present.
func (h *Headers) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Delete removes a key if present.
func (h *Headers) Delete(key string) {
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.keys)
}

// Keys returns the keys in insertion order. The slice is a copy.
func (h *Headers) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Equal reports whether both blocks hold the same keys, values and order.
func (h *Headers) Equal(o *Headers) bool {
	if len(h.keys) != len(o.keys) {
		return false
	}
	for i, k := range h.keys {
		if o.keys[i] != k || o.values[k] != h.values[k] {
			return false
		}
	}
	return true
}
