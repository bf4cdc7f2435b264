/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ortuman/xmppchat/event"
	"github.com/ortuman/xmppchat/muc"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
	"github.com/stretchr/testify/require"
)

var ownJID, _ = jid.NewWithString("alice@example.org/laptop", false)

type fakeSender struct {
	sent []xmpp.XElement
}

func (s *fakeSender) SendElement(elem xmpp.XElement) error {
	s.sent = append(s.sent, elem)
	return nil
}

func (s *fakeSender) last() xmpp.XElement {
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func parseStanza(t *testing.T, doc string) xmpp.Stanza {
	t.Helper()
	p := xmpp.NewParser(bytes.NewBufferString(doc), xmpp.DefaultMode, 0)
	elem, err := p.ParseElement()
	require.Nil(t, err)

	from, err := jid.NewWithString(elem.From(), false)
	require.Nil(t, err)
	switch elem.Name() {
	case "presence":
		pr, err := xmpp.NewPresenceFromElement(elem, from, ownJID)
		require.Nil(t, err)
		return pr
	case "message":
		msg, err := xmpp.NewMessageFromElement(elem, from, ownJID)
		require.Nil(t, err)
		return msg
	}
	t.Fatalf("unexpected element: %s", elem.Name())
	return nil
}

func presence(t *testing.T, doc string) *xmpp.Presence {
	return parseStanza(t, doc).(*xmpp.Presence)
}

func message(t *testing.T, doc string) *xmpp.Message {
	return parseStanza(t, doc).(*xmpp.Message)
}

func occupant(room, nick, role string, codes ...string) string {
	x := `<x xmlns='http://jabber.org/protocol/muc#user'><item affiliation='none' role='` + role + `'/>`
	for _, c := range codes {
		x += `<status code='` + c + `'/>`
	}
	return `<presence from='` + room + `/` + nick + `'>` + x + `</x></presence>`
}

func newTestRouter(cfg *Config) (*Router, *fakeSender, *event.Bus) {
	bus := event.NewBus()
	s := &fakeSender{}
	return New("c1", cfg, bus, s), s, bus
}

func joinedRoom(t *testing.T, r *Router) *muc.Room {
	rm, err := r.Join("lounge@conference.example.org", "alice", "")
	require.Nil(t, err)
	require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "alice", "participant", "110"))))
	require.Equal(t, muc.Joined, rm.State())
	return rm
}

func TestRouter_Join(t *testing.T) {
	r, s, bus := newTestRouter(DefaultConfig())
	ch, unsub := bus.Subscribe("room.", 16)
	defer unsub()

	_, err := r.Join("conference.example.org", "alice", "")
	require.NotNil(t, err)
	_, err = r.Join("lounge@conference.example.org", "", "")
	require.Equal(t, ErrInvalidNick, err)

	rm, err := r.Join("lounge@conference.example.org/ignored", "alice", "secret")
	require.Nil(t, err)
	require.Equal(t, muc.Joining, rm.State())

	join := s.last()
	require.Equal(t, "presence", join.Name())
	require.Equal(t, "lounge@conference.example.org/alice", join.To())
	require.NotNil(t, join.Elements().ChildNamespace("x", muc.Namespace))

	// joining twice returns the same room without sending again
	rm2, err := r.Join("lounge@conference.example.org", "alice", "")
	require.Nil(t, err)
	require.True(t, rm == rm2)
	require.Len(t, s.sent, 1)

	// sending before the join completes fails
	require.Equal(t, ErrRoomNotJoined, r.RoomMessage("lounge@conference.example.org", "hi"))

	require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "bob", "moderator"))))
	require.Equal(t, muc.Joining, rm.State())
	require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "alice", "participant", "110"))))
	require.Equal(t, muc.Joined, rm.State())
	require.Len(t, rm.Participants(), 2)

	require.Equal(t, event.RoomParticipantJoined, (<-ch).Kind)
	require.Equal(t, event.RoomParticipantJoined, (<-ch).Kind)
	require.Equal(t, event.RoomJoined, (<-ch).Kind)

	require.Nil(t, r.RoomMessage("lounge@conference.example.org", "hi"))
	msg := s.last()
	require.Equal(t, xmpp.GroupChatType, msg.Type())
	require.Equal(t, "hi", msg.Elements().Child("body").Text())

	require.Equal(t, ErrRoomNotFound, r.RoomMessage("other@conference.example.org", "hi"))
}

func TestRouter_NicknameInUse(t *testing.T) {
	conflict := `<presence from='lounge@conference.example.org/%s' type='error'>` +
		`<error type='cancel'><conflict xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></presence>`
	errPresence := func(t *testing.T, nick string) *xmpp.Presence {
		return presence(t, fmt.Sprintf(conflict, nick))
	}

	t.Run("AutoSuffix", func(t *testing.T) {
		r, s, bus := newTestRouter(&Config{AutoSuffix: true, MaxNickRetries: 2})
		ch, unsub := bus.Subscribe("room.", 16)
		defer unsub()

		rm, _ := r.Join("lounge@conference.example.org", "alice", "")
		require.True(t, r.HandlePresence(errPresence(t, "alice")))
		require.Equal(t, "lounge@conference.example.org/alice2", s.last().To())
		require.True(t, r.HandlePresence(errPresence(t, "alice2")))
		require.Equal(t, "lounge@conference.example.org/alice3", s.last().To())
		require.True(t, r.HandlePresence(errPresence(t, "alice3")))
		require.Len(t, s.sent, 3)

		require.Equal(t, muc.Parted, rm.State())
		require.Nil(t, r.Room("lounge@conference.example.org"))

		require.Equal(t, event.RoomNicknameInUse, (<-ch).Kind)
		require.Equal(t, event.RoomNicknameInUse, (<-ch).Kind)
		require.Equal(t, event.RoomNicknameInUse, (<-ch).Kind)
		evt := <-ch
		require.Equal(t, event.RoomJoinFailed, evt.Kind)
		require.Equal(t, "conflict", evt.Payload.(RoomFailure).Condition)
	})

	t.Run("NoSuffix", func(t *testing.T) {
		r, s, _ := newTestRouter(&Config{})
		r.Join("lounge@conference.example.org", "alice", "")
		require.True(t, r.HandlePresence(errPresence(t, "alice")))
		require.Len(t, s.sent, 1)
		require.Nil(t, r.Room("lounge@conference.example.org"))
	})

	t.Run("SuffixedJoin", func(t *testing.T) {
		r, _, _ := newTestRouter(&Config{AutoSuffix: true, MaxNickRetries: 3})
		rm, _ := r.Join("lounge@conference.example.org", "alice", "")
		r.HandlePresence(errPresence(t, "alice"))
		require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "alice2", "participant", "110"))))
		require.Equal(t, muc.Joined, rm.State())
		require.Equal(t, "alice2", rm.Nick())
	})
}

func TestRouter_JoinFailure(t *testing.T) {
	r, _, bus := newTestRouter(DefaultConfig())
	ch, unsub := bus.Subscribe("room.join_failed", 1)
	defer unsub()

	r.Join("lounge@conference.example.org", "alice", "")
	require.True(t, r.HandlePresence(presence(t, `<presence from='lounge@conference.example.org/alice' type='error'>`+
		`<error type='auth'><registration-required xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></presence>`)))

	evt := <-ch
	require.Equal(t, "registration-required", evt.Payload.(RoomFailure).Condition)
	require.Nil(t, r.Room("lounge@conference.example.org"))
}

func TestRouter_Participants(t *testing.T) {
	r, _, bus := newTestRouter(DefaultConfig())
	rm := joinedRoom(t, r)
	ch, unsub := bus.Subscribe("room.", 16)
	defer unsub()

	r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "bob", "participant")))
	require.Equal(t, event.RoomParticipantJoined, (<-ch).Kind)

	// nickname change
	r.HandlePresence(presence(t, `<presence from='lounge@conference.example.org/bob' type='unavailable'>`+
		`<x xmlns='http://jabber.org/protocol/muc#user'><item nick='robert' role='participant'/><status code='303'/></x></presence>`))
	evt := <-ch
	require.Equal(t, event.RoomParticipantRenamed, evt.Kind)
	require.Equal(t, "bob", evt.Payload.(ParticipantEvent).OldNick)
	require.Equal(t, "robert", evt.Payload.(ParticipantEvent).Participant.Nick)

	_, ok := rm.Participant("bob")
	require.False(t, ok)
	_, ok = rm.Participant("robert")
	require.True(t, ok)

	r.HandlePresence(presence(t, `<presence from='lounge@conference.example.org/robert' type='unavailable'/>`))
	require.Equal(t, event.RoomParticipantLeft, (<-ch).Kind)
	require.Len(t, rm.Participants(), 1)

	// own nickname change
	r.HandlePresence(presence(t, `<presence from='lounge@conference.example.org/alice' type='unavailable'>`+
		`<x xmlns='http://jabber.org/protocol/muc#user'><item nick='alicia' role='participant'/><status code='303'/><status code='110'/></x></presence>`))
	require.Equal(t, event.RoomParticipantRenamed, (<-ch).Kind)
	require.Equal(t, "alicia", rm.Nick())
	require.Equal(t, muc.Joined, rm.State())

	// kicked
	r.HandlePresence(presence(t, `<presence from='lounge@conference.example.org/alicia' type='unavailable'>`+
		`<x xmlns='http://jabber.org/protocol/muc#user'><item role='none'><reason>spam</reason></item><status code='307'/><status code='110'/></x></presence>`))
	evt = <-ch
	require.Equal(t, event.RoomParted, evt.Kind)
	require.Equal(t, "kicked: spam", evt.Payload.(RoomFailure).Reason)
	require.Equal(t, muc.Parted, rm.State())
	require.Nil(t, r.Room("lounge@conference.example.org"))

	// late presences from the left room are swallowed
	require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "carol", "participant"))))
	require.False(t, r.HandlePresence(presence(t, `<presence from='bob@example.org/phone'/>`)))
}

func TestRouter_RoomMessages(t *testing.T) {
	r, _, bus := newTestRouter(DefaultConfig())
	rm := joinedRoom(t, r)
	ch, unsub := bus.Subscribe("room.", 16)
	defer unsub()

	require.True(t, r.HandleMessage(message(t, `<message from='lounge@conference.example.org/bob' type='groupchat'><subject>Welcome</subject></message>`)))
	evt := <-ch
	require.Equal(t, event.RoomTopic, evt.Kind)
	require.Equal(t, "Welcome", rm.Topic())

	require.True(t, r.HandleMessage(message(t, `<message from='lounge@conference.example.org/bob' type='groupchat'><body>hello</body>`+
		`<delay xmlns='urn:xmpp:delay' stamp='2002-09-10T23:08:25Z'/></message>`)))
	evt = <-ch
	require.Equal(t, event.RoomMessage, evt.Kind)
	rmsg := evt.Payload.(RoomMessage)
	require.Equal(t, "bob", rmsg.Nick)
	require.Equal(t, "hello", rmsg.Body)
	require.True(t, rmsg.Delayed)
	require.Equal(t, 2002, rmsg.Stamp.Year())
	require.False(t, rmsg.Own)

	r.HandleMessage(message(t, `<message from='lounge@conference.example.org/alice' type='groupchat'><body>mine</body></message>`))
	require.True(t, (<-ch).Payload.(RoomMessage).Own)
}

func TestRouter_Queries(t *testing.T) {
	r, s, bus := newTestRouter(DefaultConfig())
	joinedRoom(t, r)
	ch, unsub := bus.Subscribe("query.", 16)
	defer unsub()

	require.True(t, r.HandleMessage(message(t, `<message from='bob@example.org/phone' type='chat'><body>hi</body>`+
		`<active xmlns='http://jabber.org/protocol/chatstates'/></message>`)))
	require.Equal(t, event.QueryCreated, (<-ch).Kind)
	require.Equal(t, event.QueryChatState, (<-ch).Kind)
	evt := <-ch
	require.Equal(t, event.QueryMessage, evt.Kind)
	require.Equal(t, "bob@example.org", evt.Payload.(QueryMessage).Query)

	q, err := r.Query("bob@example.org", false)
	require.Nil(t, err)
	require.True(t, q.Automatic())
	require.Equal(t, ChatStateActive, q.ChatState())
	require.Equal(t, "bob@example.org/phone", q.JID().String())

	// replies go to the last seen resource
	require.Nil(t, r.QueryMessage("bob@example.org", "hey"))
	out := s.last()
	require.Equal(t, "bob@example.org/phone", out.To())
	require.Equal(t, xmpp.ChatType, out.Type())
	require.NotNil(t, out.Elements().ChildNamespace("active", ChatStatesNamespace))

	// standalone chat state
	r.HandleMessage(message(t, `<message from='bob@example.org/tablet' type='chat'><composing xmlns='http://jabber.org/protocol/chatstates'/></message>`))
	require.Equal(t, event.QueryChatState, (<-ch).Kind)
	require.Equal(t, ChatStateComposing, q.ChatState())
	require.Equal(t, "bob@example.org/tablet", q.JID().String())

	require.Equal(t, ErrInvalidChatState, r.ChatState("bob@example.org", "dancing"))
	require.Nil(t, r.ChatState("bob@example.org", ChatStatePaused))
	require.NotNil(t, s.last().Elements().ChildNamespace("paused", ChatStatesNamespace))

	// room private messages are keyed by occupant full JID
	r.HandleMessage(message(t, `<message from='lounge@conference.example.org/carol' type='chat'><body>psst</body></message>`))
	require.Equal(t, event.QueryCreated, (<-ch).Kind)
	evt = <-ch
	require.Equal(t, "lounge@conference.example.org/carol", evt.Payload.(QueryMessage).Query)
	require.Len(t, r.Queries(), 2)
	require.True(t, r.Queries()[1].IsRoomPrivate())

	r.CloseQuery("lounge@conference.example.org/carol")
	require.Equal(t, event.QueryClosed, (<-ch).Kind)
	r.CloseQuery("bob@example.org/phone")
	require.Equal(t, event.QueryClosed, (<-ch).Kind)
	require.Len(t, r.Queries(), 0)
}

func TestRouter_MessageError(t *testing.T) {
	r, _, bus := newTestRouter(&Config{})
	ch, unsub := bus.Subscribe("message.", 1)
	defer unsub()

	require.True(t, r.HandleMessage(message(t, `<message from='bob@example.org' type='error'>`+
		`<error type='cancel'><item-not-found xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></message>`)))
	evt := <-ch
	require.Equal(t, "item-not-found", evt.Payload.(MessageError).Condition)
	require.Len(t, r.Queries(), 0)

	// messages with no body or chat state are not routed
	require.False(t, r.HandleMessage(message(t, `<message from='bob@example.org' type='chat'/>`)))
}

func TestRouter_SuspendRejoin(t *testing.T) {
	r, s, _ := newTestRouter(DefaultConfig())
	rm := joinedRoom(t, r)
	require.Nil(t, r.Remember("dev@conference.example.org", "al", "pw"))

	r.Suspend()
	require.Equal(t, muc.Parted, rm.State())
	require.Len(t, r.Rooms(), 0)

	s.sent = nil
	r.Rejoin()
	require.Len(t, r.Rooms(), 2)
	require.Len(t, s.sent, 2)
	require.Equal(t, "dev@conference.example.org/al", s.sent[0].To())
	require.Equal(t, "lounge@conference.example.org/alice", s.sent[1].To())

	// parted rooms are not rejoined
	require.Nil(t, r.Part("dev@conference.example.org", "bye"))
	require.Equal(t, xmpp.UnavailableType, s.last().Type())
	r.Suspend()
	s.sent = nil
	r.Rejoin()
	require.Len(t, s.sent, 1)

	r.Reset()
	require.Len(t, r.Rooms(), 0)
	s.sent = nil
	r.Rejoin()
	require.Len(t, s.sent, 0)
}

func TestRouter_RejoinKeepsChosenNick(t *testing.T) {
	conflict := `<presence from='lounge@conference.example.org/%s' type='error'>` +
		`<error type='cancel'><conflict xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></presence>`

	r, s, _ := newTestRouter(&Config{AutoSuffix: true, MaxNickRetries: 3})
	rm, _ := r.Join("lounge@conference.example.org", "alice", "")
	require.True(t, r.HandlePresence(presence(t, fmt.Sprintf(conflict, "alice"))))
	require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "alice2", "participant", "110"))))
	require.Equal(t, "alice2", rm.Nick())

	r.Suspend()
	s.sent = nil
	r.Rejoin()
	require.Len(t, s.sent, 1)
	require.Equal(t, "lounge@conference.example.org/alice", s.last().To())

	require.True(t, r.HandlePresence(presence(t, fmt.Sprintf(conflict, "alice"))))
	require.Equal(t, "lounge@conference.example.org/alice2", s.last().To())
	require.True(t, r.HandlePresence(presence(t, fmt.Sprintf(conflict, "alice2"))))
	require.Equal(t, "lounge@conference.example.org/alice3", s.last().To())

	// an explicit rename becomes the nick used on the next rejoin
	rm = r.Room("lounge@conference.example.org")
	require.True(t, r.HandlePresence(presence(t, occupant("lounge@conference.example.org", "alice3", "participant", "110"))))
	require.True(t, r.HandlePresence(presence(t, `<presence from='lounge@conference.example.org/alice3' type='unavailable'>`+
		`<x xmlns='http://jabber.org/protocol/muc#user'><item affiliation='none' role='participant' nick='ally'/>`+
		`<status code='303'/><status code='110'/></x></presence>`)))
	require.Equal(t, "ally", rm.Nick())

	r.Suspend()
	s.sent = nil
	r.Rejoin()
	require.Equal(t, "lounge@conference.example.org/ally", s.last().To())
}
