// Package message defines the protocol-neutral request/response value
// that both the HTTP/1.1 parser and the HTTP/2 adapter produce and
// consume.
package message

import "strings"

// Header is one ordered (name, value) pair. Names are compared
// case-insensitively on lookup but preserved verbatim for replay.
type Header struct {
	Name  string
	Value string
}

// Message is the uniform request/response value: a handful of
// pseudo-header fields (method, scheme, authority, path, status),
// an ordered header list, and an opaque body.
type Message struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	Status    int

	Headers []Header
	Body    []byte
}

// New returns an empty Message ready to have fields set on it.
func New() *Message {
	return &Message{}
}

// AddHeader appends a header pair, preserving insertion order.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// HeaderValue returns the first value for name (case-insensitive),
// and whether it was found.
func (m *Message) HeaderValue(name string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// HeaderValues returns all values for name (case-insensitive), in order.
func (m *Message) HeaderValues(name string) []string {
	var vals []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			vals = append(vals, h.Value)
		}
	}
	return vals
}
