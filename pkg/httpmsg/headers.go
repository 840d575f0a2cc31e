// Package httpmsg defines the protocol-agnostic Request/Response data model
// shared by pkg/http1, pkg/http2 and pkg/pipeline (spec.md §3).
package httpmsg

import "strings"

// Header is a single lowercased-name/value pair. Order and duplicates are
// preserved, per spec.md §3 ("ordered list of lowercased-name/value pairs,
// duplicates preserved").
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list.
type Headers []Header

// Add appends a header, lowercasing its name.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: strings.ToLower(name), Value: value})
}

// Get returns the first value for name (case-insensitive), and whether it
// was found.
func (h Headers) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, hd := range h {
		if hd.Name == name {
			return hd.Value, true
		}
	}
	return "", false
}

// Values returns every value for name, in order.
func (h Headers) Values(name string) []string {
	name = strings.ToLower(name)
	var out []string
	for _, hd := range h {
		if hd.Name == name {
			out = append(out, hd.Value)
		}
	}
	return out
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// HasToken reports whether name's value(s), split on commas, contains token
// case-insensitively (used for Connection/Upgrade/Accept-Encoding style
// multi-value headers per RFC 9110 §5.6.1).
func (h Headers) HasToken(name, token string) bool {
	token = strings.ToLower(strings.TrimSpace(token))
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(part)) == token {
				return true
			}
		}
	}
	return false
}

// Set replaces every existing value for name with a single value, adding it
// if absent.
func (h *Headers) Set(name, value string) {
	name = strings.ToLower(name)
	out := make(Headers, 0, len(*h)+1)
	set := false
	for _, hd := range *h {
		if hd.Name == name {
			if !set {
				out = append(out, Header{Name: name, Value: value})
				set = true
			}
			continue
		}
		out = append(out, hd)
	}
	if !set {
		out = append(out, Header{Name: name, Value: value})
	}
	*h = out
}

// Del removes every header matching name.
func (h *Headers) Del(name string) {
	name = strings.ToLower(name)
	out := make(Headers, 0, len(*h))
	for _, hd := range *h {
		if hd.Name != name {
			out = append(out, hd)
		}
	}
	*h = out
}

// Clone returns a deep copy of h.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	copy(out, h)
	return out
}
