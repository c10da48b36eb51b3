// Copyright 2026 The Livechat Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Stanza is one discrete unit of the chat protocol stream, held as a
// labeled tree: an element name, attributes, child elements, and
// character data. Consumers query it by child name, attribute, and
// text content. No caller ever touches raw bytes.
//
// Element and attribute names are stored by local name. The element's
// namespace, whether written as a default xmlns declaration or
// inherited through a prefix, is exposed as the "xmlns" attribute.
type Stanza struct {
	Name     string
	Attrs    map[string]string
	Children []*Stanza
	Text     string
}

// New builds a stanza. attrs may be nil.
func New(name string, attrs map[string]string, children ...*Stanza) *Stanza {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	return &Stanza{Name: name, Attrs: attrs, Children: children}
}

// Attr returns the named attribute, or "" when absent.
func (s *Stanza) Attr(name string) string {
	if s == nil {
		return ""
	}
	return s.Attrs[name]
}

// SetAttr sets an attribute and returns the stanza for chaining.
func (s *Stanza) SetAttr(name, value string) *Stanza {
	if s.Attrs == nil {
		s.Attrs = make(map[string]string)
	}
	s.Attrs[name] = value
	return s
}

// WithText sets the element's character data and returns the stanza
// for chaining.
func (s *Stanza) WithText(text string) *Stanza {
	s.Text = text
	return s
}

// Child returns the first child element with the given local name, or
// nil. Safe to call on a nil stanza, so lookups chain without
// intermediate nil checks:
//
//	id := stanza.Child("origin-id").Attr("id")
func (s *Stanza) Child(name string) *Stanza {
	if s == nil {
		return nil
	}
	for _, child := range s.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// ChildrenNamed returns all direct children with the given local name.
func (s *Stanza) ChildrenNamed(name string) []*Stanza {
	if s == nil {
		return nil
	}
	var matched []*Stanza
	for _, child := range s.Children {
		if child.Name == name {
			matched = append(matched, child)
		}
	}
	return matched
}

// ChildText returns the character data of the first child with the
// given name, or "" when the child is absent.
func (s *Stanza) ChildText(name string) string {
	child := s.Child(name)
	if child == nil {
		return ""
	}
	return child.Text
}

// Append adds child elements and returns the stanza for chaining.
func (s *Stanza) Append(children ...*Stanza) *Stanza {
	s.Children = append(s.Children, children...)
	return s
}

// XML serializes the stanza tree to its wire form. Attributes are
// written in sorted order so the same tree always produces identical
// bytes (stable for tests and logs).
func (s *Stanza) XML() string {
	var builder strings.Builder
	s.write(&builder)
	return builder.String()
}

// String implements fmt.Stringer for log output.
func (s *Stanza) String() string { return s.XML() }

func (s *Stanza) write(w *strings.Builder) {
	w.WriteByte('<')
	w.WriteString(s.Name)

	names := make([]string, 0, len(s.Attrs))
	for name := range s.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w.WriteByte(' ')
		w.WriteString(name)
		w.WriteString(`="`)
		w.WriteString(escapeXML(s.Attrs[name]))
		w.WriteByte('"')
	}

	if len(s.Children) == 0 && s.Text == "" {
		w.WriteString("/>")
		return
	}

	w.WriteByte('>')
	w.WriteString(escapeXML(s.Text))
	for _, child := range s.Children {
		child.write(w)
	}
	w.WriteString("</")
	w.WriteString(s.Name)
	w.WriteByte('>')
}

func escapeXML(value string) string {
	var buffer bytes.Buffer
	// EscapeText only fails on a writer error; bytes.Buffer never errors.
	_ = xml.EscapeText(&buffer, []byte(value))
	return buffer.String()
}

// Parse decodes one complete XML element into a Stanza tree. This is
// the framing contract of the WebSocket subprotocol: every inbound
// text frame carries exactly one element.
func Parse(data []byte) (*Stanza, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("xmpp: no element in frame")
		}
		if err != nil {
			return nil, fmt.Errorf("xmpp: parsing frame: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		stanza, err := parseElement(decoder, start)
		if err != nil {
			return nil, fmt.Errorf("xmpp: parsing frame: %w", err)
		}
		return stanza, nil
	}
}

// parseElement consumes tokens up to and including start's matching
// end element, building the subtree rooted at start.
func parseElement(decoder *xml.Decoder, start xml.StartElement) (*Stanza, error) {
	stanza := New(start.Name.Local, nil)
	if start.Name.Space != "" {
		stanza.Attrs["xmlns"] = start.Name.Space
	}
	for _, attr := range start.Attr {
		// Skip prefix declarations (xmlns:foo); the resolved
		// namespace already landed on the elements that use it.
		if attr.Name.Space == "xmlns" {
			continue
		}
		if attr.Name.Local == "xmlns" {
			stanza.Attrs["xmlns"] = attr.Value
			continue
		}
		stanza.Attrs[attr.Name.Local] = attr.Value
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			child, err := parseElement(decoder, t)
			if err != nil {
				return nil, err
			}
			stanza.Children = append(stanza.Children, child)
		case xml.CharData:
			stanza.Text += string(t)
		case xml.EndElement:
			return stanza, nil
		}
	}
}
