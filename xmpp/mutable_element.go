/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

// Every setter returns the receiver so that elements can be built inline.

// SetName sets XML node name.
func (e *Element) SetName(name string) *Element {
	e.name = name
	return e
}

// SetText sets XML node text value.
func (e *Element) SetText(text string) *Element {
	e.text = text
	return e
}

// SetAttribute sets an XML node attribute (label=value).
func (e *Element) SetAttribute(label, value string) *Element {
	e.attrs.set(label, value)
	return e
}

// RemoveAttribute removes an XML node attribute.
func (e *Element) RemoveAttribute(label string) *Element {
	e.attrs.unset(label)
	return e
}

// SetNamespace sets 'xmlns' node attribute.
func (e *Element) SetNamespace(namespace string) *Element { return e.SetAttribute("xmlns", namespace) }

// SetID sets 'id' node attribute.
func (e *Element) SetID(identifier string) *Element { return e.SetAttribute("id", identifier) }

// SetLanguage sets 'xml:lang' node attribute.
func (e *Element) SetLanguage(language string) *Element { return e.SetAttribute("xml:lang", language) }

// SetFrom sets 'from' node attribute.
func (e *Element) SetFrom(from string) *Element { return e.SetAttribute("from", from) }

// SetTo sets 'to' node attribute.
func (e *Element) SetTo(to string) *Element { return e.SetAttribute("to", to) }

// SetType sets 'type' node attribute.
func (e *Element) SetType(tp string) *Element { return e.SetAttribute("type", tp) }

// SetVersion sets 'version' node attribute.
func (e *Element) SetVersion(version string) *Element { return e.SetAttribute("version", version) }

// AppendElement appends a child element.
func (e *Element) AppendElement(element XElement) *Element {
	e.elements.add(element)
	return e
}

// AppendElements appends a list of child elements.
func (e *Element) AppendElements(elements []XElement) *Element {
	e.elements.add(elements...)
	return e
}

// RemoveElements removes every child element named name.
func (e *Element) RemoveElements(name string) *Element {
	e.elements.drop(named(name))
	return e
}

// RemoveElementsNamespace removes every child element matching name and namespace.
func (e *Element) RemoveElementsNamespace(name, namespace string) *Element {
	e.elements.drop(namedNS(name, namespace))
	return e
}
