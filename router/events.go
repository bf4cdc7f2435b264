/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import (
	"time"

	"github.com/ortuman/xmppchat/muc"
)

// RoomMessage is the payload of a RoomMessage event.
type RoomMessage struct {
	Room    string
	Nick    string
	Body    string
	Own     bool
	Stamp   time.Time
	Delayed bool
}

// RoomTopic is the payload of a RoomTopic event.
type RoomTopic struct {
	Room  string
	Nick  string
	Topic string
}

// ParticipantEvent is the payload of every room participant event.
type ParticipantEvent struct {
	Room        string
	Participant muc.Participant

	// OldNick is set on RoomParticipantRenamed events.
	OldNick string
}

// RoomFailure is the payload of RoomJoinFailed, RoomNicknameInUse and RoomParted events.
type RoomFailure struct {
	Room      string
	Nick      string
	Condition string
	Reason    string
}

// QueryMessage is the payload of a QueryMessage event.
type QueryMessage struct {
	Query   string
	From    string
	Body    string
	Stamp   time.Time
	Delayed bool
}

// QueryChatState is the payload of a QueryChatState event.
type QueryChatState struct {
	Query string
	State ChatState
}

// MessageError is the payload of a MessageError event.
type MessageError struct {
	From      string
	Condition string
	Text      string
}
