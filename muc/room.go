/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package muc

import (
	"errors"
	"sync"

	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

// ErrNicknameTaken is returned when renaming a participant onto an existing nickname.
var ErrNicknameTaken = errors.New("muc: nickname already taken")

// ErrParticipantNotFound is returned when a nickname is not present in the room.
var ErrParticipantNotFound = errors.New("muc: participant not found")

// State represents the membership state of a room.
type State int

const (
	// Joining awaits the own occupant presence.
	Joining State = iota

	// Joined means the own occupant presence has been received.
	Joined

	// Parted means the room has been left.
	Parted
)

// String returns State string representation.
func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Parted:
		return "parted"
	}
	return ""
}

// Participant represents a room occupant.
type Participant struct {
	Nick        string
	RealJID     *jid.JID
	Role        string
	Affiliation string
	Available   bool
	Show        xmpp.ShowState
	Status      string
}

// Room represents a joined (or being joined) multi-user chat room.
type Room struct {
	connID   string
	jid      *jid.JID
	password string

	mu           sync.RWMutex
	state        State
	nick         string
	topic        string
	nickRetries  int
	participants []*Participant
}

// NewRoom returns a new room instance in Joining state.
func NewRoom(connID string, roomJID *jid.JID, nick, password string) *Room {
	return &Room{
		connID:   connID,
		jid:      roomJID.ToBareJID(),
		nick:     nick,
		password: password,
	}
}

// ConnID returns the identifier of the owning connection.
func (r *Room) ConnID() string {
	return r.connID
}

// JID returns room bare JID.
func (r *Room) JID() *jid.JID {
	return r.jid
}

// Name returns room name as used by the chat host.
func (r *Room) Name() string {
	return r.jid.String()
}

// Password returns the password used to join the room.
func (r *Room) Password() string {
	return r.password
}

// State returns current membership state.
func (r *Room) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SetState sets room membership state.
func (r *Room) SetState(st State) {
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
}

// Nick returns the own nickname.
func (r *Room) Nick() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nick
}

// SetNick sets the own nickname.
func (r *Room) SetNick(nick string) {
	r.mu.Lock()
	r.nick = nick
	r.mu.Unlock()
}

// NickRetries returns how many alternative nicknames have been tried.
func (r *Room) NickRetries() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nickRetries
}

// IncNickRetries increments the alternative nickname counter and returns its new value.
func (r *Room) IncNickRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nickRetries++
	return r.nickRetries
}

// OccupantJID returns the occupant JID associated to a nickname.
func (r *Room) OccupantJID(nick string) *jid.JID {
	return r.jid.WithResource(nick)
}

// Topic returns room subject.
func (r *Room) Topic() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topic
}

// SetTopic sets room subject.
func (r *Room) SetTopic(topic string) {
	r.mu.Lock()
	r.topic = topic
	r.mu.Unlock()
}

// Participant returns a copy of the participant associated to nick.
func (r *Room) Participant(nick string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexOf(nick); idx >= 0 {
		return *r.participants[idx], true
	}
	return Participant{}, false
}

// Participants returns a copy of every participant in join order.
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		ret = append(ret, *p)
	}
	return ret
}

// Upsert adds a participant or updates an existing one.
// Returns true if the participant was added.
func (r *Room) Upsert(p Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexOf(p.Nick); idx >= 0 {
		r.participants[idx] = &p
		return false
	}
	r.participants = append(r.participants, &p)
	return true
}

// Remove removes a participant.
func (r *Room) Remove(nick string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(nick)
	if idx < 0 {
		return Participant{}, false
	}
	p := r.participants[idx]
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	return *p, true
}

// Rename atomically replaces a participant nickname.
// The participant is moved to the end of the join order.
func (r *Room) Rename(oldNick, newNick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(oldNick)
	if idx < 0 {
		return ErrParticipantNotFound
	}
	if r.indexOf(newNick) >= 0 {
		return ErrNicknameTaken
	}
	p := r.participants[idx]
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)
	p.Nick = newNick
	r.participants = append(r.participants, p)
	if r.nick == oldNick {
		r.nick = newNick
	}
	return nil
}

// Clear removes every participant.
func (r *Room) Clear() {
	r.mu.Lock()
	r.participants = nil
	r.mu.Unlock()
}

func (r *Room) indexOf(nick string) int {
	for i, p := range r.participants {
		if p.Nick == nick {
			return i
		}
	}
	return -1
}

