/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"errors"
	"fmt"

	"github.com/ortuman/xmppchat/xmpp/jid"
)

const (
	// GetType represents a 'get' IQ type.
	GetType = "get"

	// SetType represents a 'set' IQ type.
	SetType = "set"

	// ResultType represents a 'result' IQ type.
	ResultType = "result"
)

var (
	errIQMissingID   = errors.New(`xmpp: iq "id" attribute is required`)
	errIQMissingType = errors.New(`xmpp: iq "type" attribute is required`)
)

// IQ represents an <iq> stanza.
type IQ struct {
	stanzaElement
}

// NewIQFromElement validates a received element and returns its IQ representation.
func NewIQFromElement(e XElement, from *jid.JID, to *jid.JID) (*IQ, error) {
	if e.Name() != IQName {
		return nil, fmt.Errorf("xmpp: wrong iq element name: %s", e.Name())
	}
	if len(e.ID()) == 0 {
		return nil, errIQMissingID
	}
	if err := validateIQPayload(e.Type(), e.Elements().Count()); err != nil {
		return nil, err
	}
	iq := &IQ{}
	iq.fromElement(e, from, to)
	return iq, nil
}

// NewIQType creates and returns a new IQ element.
func NewIQType(identifier string, iqType string) *IQ {
	iq := &IQ{}
	iq.SetName(IQName)
	iq.SetID(identifier)
	iq.SetType(iqType)
	return iq
}

// IsGet returns true if this is a 'get' type IQ.
func (iq *IQ) IsGet() bool { return iq.Type() == GetType }

// IsSet returns true if this is a 'set' type IQ.
func (iq *IQ) IsSet() bool { return iq.Type() == SetType }

// IsResult returns true if this is a 'result' type IQ.
func (iq *IQ) IsResult() bool { return iq.Type() == ResultType }

// ResultIQ returns an empty 'result' reply addressed to the request sender.
func (iq *IQ) ResultIQ() *IQ {
	rs := NewIQType(iq.ID(), ResultType)
	if ns := iq.Namespace(); len(ns) > 0 {
		rs.SetNamespace(ns)
	}
	rs.SetFromJID(iq.ToJID())
	rs.SetToJID(iq.FromJID())
	return rs
}

// Payload returns the single child element of a 'get' or 'set' IQ,
// or the optional child of a 'result'.
func (iq *IQ) Payload() XElement {
	return iq.elements.first(func(el XElement) bool { return el.Name() != "error" })
}

// validateIQPayload enforces RFC 6120 child cardinality rules.
func validateIQPayload(iqType string, children int) error {
	switch iqType {
	case "":
		return errIQMissingType
	case GetType, SetType:
		if children != 1 {
			return fmt.Errorf(`xmpp: iq of type "%s" must contain one and only one child element`, iqType)
		}
	case ResultType:
		if children > 1 {
			return errors.New(`xmpp: iq of type "result" must include zero or one child elements`)
		}
	case ErrorType:
	default:
		return fmt.Errorf(`xmpp: invalid iq "type" attribute: %s`, iqType)
	}
	return nil
}
