/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

// Attribute represents an XML node attribute (label=value).
type Attribute struct {
	Label string
	Value string
}

// AttributeSet represents a read-only and ordered set of XML attributes.
type AttributeSet interface {
	// Get returns the value of the attribute identified by label,
	// or an empty string if not present.
	Get(label string) string

	// Count returns attribute count.
	Count() int

	// All returns every attribute in document order.
	All() []Attribute
}

type attributeSet struct {
	list []Attribute
}

func newAttributeSet(attrs []Attribute) attributeSet {
	return attributeSet{list: attrs}
}

func (as *attributeSet) Get(label string) string {
	if i := as.indexOf(label); i != -1 {
		return as.list[i].Value
	}
	return ""
}

func (as *attributeSet) Count() int { return len(as.list) }

func (as *attributeSet) All() []Attribute { return as.list }

func (as *attributeSet) indexOf(label string) int {
	for i := range as.list {
		if as.list[i].Label == label {
			return i
		}
	}
	return -1
}

func (as *attributeSet) set(label, value string) {
	if i := as.indexOf(label); i != -1 {
		as.list[i].Value = value
		return
	}
	as.list = append(as.list, Attribute{Label: label, Value: value})
}

func (as *attributeSet) unset(label string) {
	if i := as.indexOf(label); i != -1 {
		as.list = append(as.list[:i], as.list[i+1:]...)
	}
}

func (as *attributeSet) clone() attributeSet {
	if len(as.list) == 0 {
		return attributeSet{}
	}
	list := make([]Attribute, len(as.list))
	copy(list, as.list)
	return attributeSet{list: list}
}
