/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package errors

import (
	"github.com/ortuman/xmppchat/xmpp"
)

const streamErrorNamespace = "urn:ietf:params:xml:ns:xmpp-streams"

// StreamError represents a "stream:error" element.
type StreamError struct {
	reason string
	text   string
}

var (
	// ErrInvalidXML represents 'invalid-xml' stream error.
	ErrInvalidXML = newStreamError("invalid-xml")

	// ErrInvalidNamespace represents 'invalid-namespace' stream error.
	ErrInvalidNamespace = newStreamError("invalid-namespace")

	// ErrConnectionTimeout represents 'connection-timeout' stream error.
	ErrConnectionTimeout = newStreamError("connection-timeout")

	// ErrUnsupportedStanzaType represents 'unsupported-stanza-type' stream error.
	ErrUnsupportedStanzaType = newStreamError("unsupported-stanza-type")

	// ErrUnsupportedVersion represents 'unsupported-version' stream error.
	ErrUnsupportedVersion = newStreamError("unsupported-version")

	// ErrPolicyViolation represents 'policy-violation' stream error.
	ErrPolicyViolation = newStreamError("policy-violation")

	// ErrUndefinedCondition represents 'undefined-condition' stream error.
	ErrUndefinedCondition = newStreamError("undefined-condition")
)

func newStreamError(reason string) *StreamError {
	return &StreamError{reason: reason}
}

// NewStreamErrorFromElement parses an incoming "stream:error" element.
func NewStreamErrorFromElement(elem xmpp.XElement) *StreamError {
	se := &StreamError{reason: ErrUndefinedCondition.reason}
	for _, child := range elem.Elements().All() {
		if child.Namespace() != streamErrorNamespace {
			continue
		}
		if child.Name() == "text" {
			se.text = child.Text()
			continue
		}
		se.reason = child.Name()
	}
	return se
}

// Reason returns the stream error defined condition.
func (se *StreamError) Reason() string {
	return se.reason
}

// Text returns the optional descriptive text.
func (se *StreamError) Text() string {
	return se.text
}

// Element returns the XML representation of the stream error.
func (se *StreamError) Element() xmpp.XElement {
	ret := xmpp.NewElementName("stream:error")
	ret.AppendElement(xmpp.NewElementNamespace(se.reason, streamErrorNamespace))
	if len(se.text) > 0 {
		ret.AppendElement(xmpp.NewElementNamespace("text", streamErrorNamespace).SetText(se.text))
	}
	return ret
}

// Error satisfies error interface.
func (se *StreamError) Error() string {
	return se.reason
}

// ProtocolError returns the classified error for a stream error received
// while in a given phase.
func (se *StreamError) ProtocolError(phase string) *Error {
	return &Error{Kind: ProtocolError, Phase: phase, Condition: se.reason, Text: se.text}
}
