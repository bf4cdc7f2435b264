/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"

	"github.com/ortuman/xmppchat/xmpp/jid"
)

const (
	// NormalType represents a 'normal' message type.
	NormalType = "normal"

	// HeadlineType represents a 'headline' message type.
	HeadlineType = "headline"

	// ChatType represents a 'chat' message type.
	ChatType = "chat"

	// GroupChatType represents a 'groupchat' message type.
	GroupChatType = "groupchat"
)

// Message represents a <message> stanza.
type Message struct {
	stanzaElement
}

// NewMessageFromElement validates a received element and returns its Message representation.
func NewMessageFromElement(e XElement, from *jid.JID, to *jid.JID) (*Message, error) {
	if e.Name() != MessageName {
		return nil, fmt.Errorf("xmpp: wrong message element name: %s", e.Name())
	}
	switch e.Type() {
	case "", ErrorType, NormalType, HeadlineType, ChatType, GroupChatType:
	default:
		return nil, fmt.Errorf(`xmpp: invalid message "type" attribute: %s`, e.Type())
	}
	m := &Message{}
	m.fromElement(e, from, to)
	return m, nil
}

// NewMessageType creates and returns a new Message element.
func NewMessageType(identifier string, messageType string) *Message {
	msg := &Message{}
	msg.SetName(MessageName)
	msg.SetID(identifier)
	msg.SetType(messageType)
	return msg
}

// IsNormal returns true if this is a 'normal' type Message. A missing type defaults to 'normal'.
func (m *Message) IsNormal() bool {
	tp := m.Type()
	return tp == NormalType || len(tp) == 0
}

// IsHeadline returns true if this is a 'headline' type Message.
func (m *Message) IsHeadline() bool { return m.Type() == HeadlineType }

// IsChat returns true if this is a 'chat' type Message.
func (m *Message) IsChat() bool { return m.Type() == ChatType }

// IsGroupChat returns true if this is a 'groupchat' type Message.
func (m *Message) IsGroupChat() bool { return m.Type() == GroupChatType }

// IsMessageWithBody returns true if the message has a <body/> child.
func (m *Message) IsMessageWithBody() bool { return m.elements.Child("body") != nil }

// HasSubject returns true if the message has a <subject/> child.
// An empty subject clears a room topic.
func (m *Message) HasSubject() bool { return m.elements.Child("subject") != nil }

// Body returns message body text.
func (m *Message) Body() string { return childText(m, "body") }

// Subject returns message subject text.
func (m *Message) Subject() string { return childText(m, "subject") }

// Thread returns message thread identifier.
func (m *Message) Thread() string { return childText(m, "thread") }
