/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

// ElementSet represents a read-only and ordered set of child elements.
type ElementSet interface {
	// Children returns every element identified by name.
	Children(name string) []XElement

	// Child returns first element identified by name, or nil.
	Child(name string) XElement

	// ChildrenNamespace returns every element identified by name and namespace.
	ChildrenNamespace(name, namespace string) []XElement

	// ChildNamespace returns first element identified by name and namespace, or nil.
	ChildNamespace(name, namespace string) XElement

	// All returns every child element.
	All() []XElement

	// Count returns child elements count.
	Count() int
}

type elementMatcher func(XElement) bool

func named(name string) elementMatcher {
	return func(el XElement) bool { return el.Name() == name }
}

func namedNS(name, namespace string) elementMatcher {
	return func(el XElement) bool { return el.Name() == name && el.Namespace() == namespace }
}

type elementSet struct {
	list []XElement
}

func (es *elementSet) Children(name string) []XElement {
	return es.filter(named(name))
}

func (es *elementSet) Child(name string) XElement {
	return es.first(named(name))
}

func (es *elementSet) ChildrenNamespace(name, namespace string) []XElement {
	return es.filter(namedNS(name, namespace))
}

func (es *elementSet) ChildNamespace(name, namespace string) XElement {
	return es.first(namedNS(name, namespace))
}

func (es *elementSet) All() []XElement { return es.list }

func (es *elementSet) Count() int { return len(es.list) }

func (es *elementSet) first(match elementMatcher) XElement {
	for _, el := range es.list {
		if match(el) {
			return el
		}
	}
	return nil
}

func (es *elementSet) filter(match elementMatcher) []XElement {
	var ret []XElement
	for _, el := range es.list {
		if match(el) {
			ret = append(ret, el)
		}
	}
	return ret
}

func (es *elementSet) add(elems ...XElement) {
	es.list = append(es.list, elems...)
}

// drop removes every element matched, preserving the order of the rest.
func (es *elementSet) drop(match elementMatcher) {
	kept := es.list[:0]
	for _, el := range es.list {
		if !match(el) {
			kept = append(kept, el)
		}
	}
	for i := len(kept); i < len(es.list); i++ {
		es.list[i] = nil
	}
	es.list = kept
}

// deepCopy returns a copy whose elements share no state with the original ones.
func (es *elementSet) deepCopy() elementSet {
	if len(es.list) == 0 {
		return elementSet{}
	}
	list := make([]XElement, len(es.list))
	for i, el := range es.list {
		list[i] = NewElementFromElement(el)
	}
	return elementSet{list: list}
}
