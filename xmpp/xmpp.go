/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"
	"io"

	"github.com/ortuman/xmppchat/pool"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

var bufPool = pool.NewBufferPool()

const (
	// MessageName represents "message" stanza name
	MessageName = "message"

	// PresenceName represents "presence" stanza name
	PresenceName = "presence"

	// IQName represents "iq" stanza name
	IQName = "iq"

	// ErrorType represents an 'error' stanza type.
	ErrorType = "error"
)

// XElement represents a read-only XML node.
type XElement interface {
	fmt.Stringer

	Name() string
	Text() string

	Attributes() AttributeSet
	Elements() ElementSet

	// well-known attribute accessors
	ID() string
	Namespace() string
	Language() string
	Version() string
	From() string
	To() string
	Type() string

	// IsStanza reports whether the node is an iq, presence or message element.
	IsStanza() bool

	// IsError reports whether the node 'type' attribute equals 'error'.
	IsError() bool

	// ToXML writes the node raw representation to w. Stream headers are
	// written with includeClosing set to false.
	ToXML(w io.Writer, includeClosing bool)
}

// Stanza represents an addressed XMPP stanza.
type Stanza interface {
	XElement
	FromJID() *jid.JID
	ToJID() *jid.JID
}

func isStanzaName(name string) bool {
	return name == IQName || name == PresenceName || name == MessageName
}
