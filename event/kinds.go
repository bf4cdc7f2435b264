/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package event

const (
	// ProtocolCreated is posted once the XMPP chat protocol has been registered.
	ProtocolCreated = "protocol.created"

	// ProtocolDeinit is posted after every connection has been torn down and
	// right before the XMPP chat protocol is unregistered.
	ProtocolDeinit = "protocol.deinit"
)

const (
	// ConnectionConnecting is posted when a connection attempt starts.
	ConnectionConnecting = "conn.connecting"

	// ConnectionEstablished is posted when a session has been established.
	ConnectionEstablished = "conn.established"

	// ConnectionFailed is posted on every fatal negotiation or session failure.
	ConnectionFailed = "conn.failed"

	// ConnectionReconnectScheduled is posted when a reconnection attempt gets scheduled.
	ConnectionReconnectScheduled = "conn.reconnect_scheduled"

	// ConnectionAbandoned is posted when no further reconnection will be attempted.
	ConnectionAbandoned = "conn.abandoned"

	// ConnectionDisconnected is posted after an explicit disconnect.
	ConnectionDisconnected = "conn.disconnected"
)

const (
	// RosterLoaded is posted once the initial roster has been received.
	RosterLoaded = "roster.loaded"

	// RosterItemUpdated is posted when a roster push adds or updates an item.
	RosterItemUpdated = "roster.item_updated"

	// RosterItemRemoved is posted when a roster push removes an item.
	RosterItemRemoved = "roster.item_removed"

	// RosterPresenceChanged is posted when a contact resource presence changes.
	RosterPresenceChanged = "roster.presence_changed"

	// RosterSubscriptionRequest is posted on incoming 'subscribe' requests.
	RosterSubscriptionRequest = "roster.subscription_request"

	// RosterSubscriptionChanged is posted on incoming 'subscribed',
	// 'unsubscribe' and 'unsubscribed' presences.
	RosterSubscriptionChanged = "roster.subscription_changed"
)

const (
	// RoomJoined is posted when the own occupant presence has been received.
	RoomJoined = "room.joined"

	// RoomParted is posted when the room has been left.
	RoomParted = "room.parted"

	// RoomJoinFailed is posted when a join attempt was rejected.
	RoomJoinFailed = "room.join_failed"

	// RoomNicknameInUse is posted when the requested nickname is taken.
	RoomNicknameInUse = "room.nick_in_use"

	// RoomMessage is posted on every groupchat message.
	RoomMessage = "room.message"

	// RoomTopic is posted when the room subject changes.
	RoomTopic = "room.topic"

	// RoomParticipantJoined is posted when an occupant enters the room.
	RoomParticipantJoined = "room.participant_joined"

	// RoomParticipantLeft is posted when an occupant leaves the room.
	RoomParticipantLeft = "room.participant_left"

	// RoomParticipantChanged is posted when an occupant presence changes.
	RoomParticipantChanged = "room.participant_changed"

	// RoomParticipantRenamed is posted when an occupant changes its nickname.
	RoomParticipantRenamed = "room.participant_renamed"
)

const (
	// QueryCreated is posted when a private conversation is opened.
	QueryCreated = "query.created"

	// QueryClosed is posted when a private conversation is closed.
	QueryClosed = "query.closed"

	// QueryMessage is posted on every private message.
	QueryMessage = "query.message"

	// QueryChatState is posted when the peer chat state changes.
	QueryChatState = "query.chat_state"

	// MessageError is posted when a message bounced with an error.
	MessageError = "message.error"
)
