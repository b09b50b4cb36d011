// Package weburl implements the URL model and header dictionary shared
// by the HTTP/WebSocket protocol engine and the HTTP client.
package weburl

import "strings"

// Headers is a case-insensitive, order-preserving, multi-value header
// dictionary: keys compare case-insensitively but the first-seen casing
// is kept for iteration and re-serialization (spec §3 RawMessage,
// §4.13 CaseInsensitiveMultiValueMap).
type Headers struct {
	order []string          // normalized keys in first-seen order
	orig  map[string]string // normalized -> original casing
	vals  map[string][]string
}

// NewHeaders returns an empty header dictionary.
func NewHeaders() *Headers {
	return &Headers{
		orig: make(map[string]string),
		vals: make(map[string][]string),
	}
}

func normalize(key string) string { return strings.ToLower(key) }

// Add appends value under key, preserving the first-seen casing of key.
func (h *Headers) Add(key, value string) {
	nk := normalize(key)
	if _, ok := h.vals[nk]; !ok {
		h.order = append(h.order, nk)
		h.orig[nk] = key
	}
	h.vals[nk] = append(h.vals[nk], value)
}

// Set replaces all values under key with a single value.
func (h *Headers) Set(key, value string) {
	nk := normalize(key)
	if _, ok := h.vals[nk]; !ok {
		h.order = append(h.order, nk)
		h.orig[nk] = key
	}
	h.vals[nk] = []string{value}
}

// Get returns the first value for key, or "" if absent.
func (h *Headers) Get(key string) string {
	vs := h.vals[normalize(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// GetAll returns every value for key, in insertion order.
func (h *Headers) GetAll(key string) []string {
	return h.vals[normalize(key)]
}

// PopAll removes and returns every value for key.
func (h *Headers) PopAll(key string) []string {
	nk := normalize(key)
	vs := h.vals[nk]
	delete(h.vals, nk)
	delete(h.orig, nk)
	for i, k := range h.order {
		if k == nk {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return vs
}

// Has reports whether key has at least one value.
func (h *Headers) Has(key string) bool {
	_, ok := h.vals[normalize(key)]
	return ok
}

// SetDefault sets key to value only if key has no existing value, and
// returns the (possibly pre-existing) first value.
func (h *Headers) SetDefault(key, value string) string {
	if h.Has(key) {
		return h.Get(key)
	}
	h.Set(key, value)
	return value
}

// Extend appends every (key, value) pair from other, preserving order.
func (h *Headers) Extend(other *Headers) {
	for _, nk := range other.order {
		for _, v := range other.vals[nk] {
			h.Add(other.orig[nk], v)
		}
	}
}

// Keys returns the original-cased keys in first-seen order, one per
// distinct header name.
func (h *Headers) Keys() []string {
	out := make([]string, len(h.order))
	for i, nk := range h.order {
		out[i] = h.orig[nk]
	}
	return out
}

// Each calls fn once per (original key, value) pair, preserving both
// header-name insertion order and value order within a name.
func (h *Headers) Each(fn func(key, value string)) {
	for _, nk := range h.order {
		for _, v := range h.vals[nk] {
			fn(h.orig[nk], v)
		}
	}
}
