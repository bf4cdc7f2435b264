/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ortuman/xmppchat/xmpp/jid"
)

// Element represents a generic and mutable XML node element.
type Element struct {
	name     string
	text     string
	attrs    attributeSet
	elements elementSet
}

// NewElementName creates a mutable XML XElement instance with a given name.
func NewElementName(name string) *Element {
	return &Element{name: name}
}

// NewElementNamespace creates a mutable XML XElement instance with a given name and namespace.
func NewElementNamespace(name, namespace string) *Element {
	e := &Element{name: name}
	e.attrs.set("xmlns", namespace)
	return e
}

// NewElementFromElement returns a deep copy of elem.
func NewElementFromElement(elem XElement) *Element {
	e := &Element{}
	e.copyFrom(elem)
	return e
}

// NewErrorStanzaFromStanza returns a copy of stanza turned into an error reply:
// addresses are swapped and the error condition is appended.
func NewErrorStanzaFromStanza(stanza Stanza, stanzaErr *StanzaError, errorElements []XElement) Stanza {
	e := &stanzaElement{}
	e.copyFrom(stanza)
	e.SetType(ErrorType)
	e.SetFromJID(stanza.ToJID())
	e.SetToJID(stanza.FromJID())
	errEl := stanzaErr.Element()
	errEl.AppendElements(errorElements)
	e.AppendElement(errEl)
	return e
}

// Name returns XML node name.
func (e *Element) Name() string { return e.name }

// Text returns XML node text value.
func (e *Element) Text() string { return e.text }

// Attributes returns XML node attributes.
func (e *Element) Attributes() AttributeSet { return &e.attrs }

// Elements returns XML node child elements.
func (e *Element) Elements() ElementSet { return &e.elements }

// ID returns 'id' node attribute.
func (e *Element) ID() string { return e.attrs.Get("id") }

// Namespace returns 'xmlns' node attribute.
func (e *Element) Namespace() string { return e.attrs.Get("xmlns") }

// Language returns 'xml:lang' node attribute.
func (e *Element) Language() string { return e.attrs.Get("xml:lang") }

// Version returns 'version' node attribute.
func (e *Element) Version() string { return e.attrs.Get("version") }

// From returns 'from' node attribute.
func (e *Element) From() string { return e.attrs.Get("from") }

// To returns 'to' node attribute.
func (e *Element) To() string { return e.attrs.Get("to") }

// Type returns 'type' node attribute.
func (e *Element) Type() string { return e.attrs.Get("type") }

// IsStanza satisfies XElement interface.
func (e *Element) IsStanza() bool { return isStanzaName(e.name) }

// IsError satisfies XElement interface.
func (e *Element) IsError() bool { return e.Type() == ErrorType }

// String returns the raw XML representation of the element.
func (e *Element) String() string {
	return bufPool.Render(func(buf *bytes.Buffer) { e.ToXML(buf, true) })
}

// ToXML serializes element to a raw XML representation.
// Attributes with empty values are omitted. Text and attribute values are always escaped.
func (e *Element) ToXML(w io.Writer, includeClosing bool) {
	xw := xmlWriter{w: w}
	xw.str("<" + e.name)
	for _, attr := range e.attrs.list {
		if len(attr.Value) == 0 {
			continue
		}
		xw.str(" " + attr.Label + `="`)
		xw.escaped(attr.Value, true)
		xw.str(`"`)
	}
	empty := len(e.text) == 0 && e.elements.Count() == 0
	switch {
	case empty && includeClosing:
		xw.str("/>")
		return
	case empty:
		xw.str(">")
		return
	}
	xw.str(">")
	xw.escaped(e.text, false)
	for _, child := range e.elements.list {
		child.ToXML(w, true)
	}
	if includeClosing {
		xw.str("</" + e.name + ">")
	}
}

func (e *Element) copyFrom(el XElement) {
	e.name = el.Name()
	e.text = el.Text()

	src := newAttributeSet(el.Attributes().All())
	e.attrs = src.clone()

	children := elementSet{list: el.Elements().All()}
	e.elements = children.deepCopy()
}

type xmlWriter struct {
	w io.Writer
}

func (xw xmlWriter) str(s string) {
	_, _ = io.WriteString(xw.w, s)
}

func (xw xmlWriter) escaped(s string, attr bool) {
	if len(s) > 0 {
		escapeText(xw.w, []byte(s), attr)
	}
}

type stanzaElement struct {
	Element
	fromJID *jid.JID
	toJID   *jid.JID
}

// NewStanzaFromElement returns the typed stanza (IQ, Presence or Message) matching elem.
func NewStanzaFromElement(elem XElement) (Stanza, error) {
	fromJID, err := jid.NewWithString(elem.From(), false)
	if err != nil {
		return nil, err
	}
	toJID, err := jid.NewWithString(elem.To(), false)
	if err != nil {
		return nil, err
	}
	switch elem.Name() {
	case IQName:
		return NewIQFromElement(elem, fromJID, toJID)
	case PresenceName:
		return NewPresenceFromElement(elem, fromJID, toJID)
	case MessageName:
		return NewMessageFromElement(elem, fromJID, toJID)
	}
	return nil, fmt.Errorf("xmpp: unrecognized stanza name: %s", elem.Name())
}

// fromElement initializes a stanza from a received element. The stream
// default namespace is dropped since it is implied on output.
func (s *stanzaElement) fromElement(elem XElement, from, to *jid.JID) {
	s.copyFrom(elem)
	s.SetFromJID(from)
	s.SetToJID(to)
	s.attrs.unset("xmlns")
}

// ToJID returns stanza 'to' JID value.
func (s *stanzaElement) ToJID() *jid.JID { return s.toJID }

// FromJID returns stanza 'from' JID value.
func (s *stanzaElement) FromJID() *jid.JID { return s.fromJID }

// SetToJID sets the stanza 'to' JID value.
// A nil JID removes the attribute.
func (s *stanzaElement) SetToJID(j *jid.JID) {
	s.toJID = j
	s.setJIDAttribute("to", j)
}

// SetFromJID sets the stanza 'from' JID value.
// A nil JID removes the attribute.
func (s *stanzaElement) SetFromJID(j *jid.JID) {
	s.fromJID = j
	s.setJIDAttribute("from", j)
}

func (s *stanzaElement) setJIDAttribute(label string, j *jid.JID) {
	if j == nil {
		s.attrs.unset(label)
		return
	}
	s.attrs.set(label, j.String())
}
