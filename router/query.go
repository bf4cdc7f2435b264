/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import (
	"sync"

	"github.com/ortuman/xmppchat/xmpp/jid"
)

// ChatStatesNamespace is the chat state notifications (XEP-0085) namespace.
const ChatStatesNamespace = "http://jabber.org/protocol/chatstates"

// ChatState represents a chat state notification.
type ChatState string

// chat states
const (
	ChatStateNone      ChatState = ""
	ChatStateActive    ChatState = "active"
	ChatStateComposing ChatState = "composing"
	ChatStatePaused    ChatState = "paused"
	ChatStateInactive  ChatState = "inactive"
	ChatStateGone      ChatState = "gone"
)

func isChatState(name string) bool {
	switch ChatState(name) {
	case ChatStateActive, ChatStateComposing, ChatStatePaused, ChatStateInactive, ChatStateGone:
		return true
	}
	return false
}

// Query represents a private conversation with a peer.
type Query struct {
	connID    string
	key       string
	private   bool
	automatic bool

	mu      sync.RWMutex
	tracked *jid.JID
	state   ChatState
}

func newQuery(connID string, peer *jid.JID, private, automatic bool) *Query {
	key := peer.ToBareJID().String()
	if private {
		key = peer.String()
	}
	return &Query{
		connID:    connID,
		key:       key,
		private:   private,
		automatic: automatic,
		tracked:   peer,
	}
}

// ConnID returns the identifier of the owning connection.
func (q *Query) ConnID() string {
	return q.connID
}

// Name returns the query key: peer bare JID, or occupant full JID for room private messages.
func (q *Query) Name() string {
	return q.key
}

// IsRoomPrivate returns true if the query is a private conversation with a room occupant.
func (q *Query) IsRoomPrivate() bool {
	return q.private
}

// Automatic returns true if the query has been created by an incoming message.
func (q *Query) Automatic() bool {
	return q.automatic
}

// JID returns the last full JID seen from the peer.
func (q *Query) JID() *jid.JID {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.tracked
}

// ChatState returns the last peer chat state.
func (q *Query) ChatState() ChatState {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

func (q *Query) track(j *jid.JID) {
	q.mu.Lock()
	q.tracked = j
	q.mu.Unlock()
}

func (q *Query) setChatState(st ChatState) {
	q.mu.Lock()
	q.state = st
	q.mu.Unlock()
}
