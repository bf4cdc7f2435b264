/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package muc

import (
	"bytes"
	"sync"
	"testing"

	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom() *Room {
	j, _ := jid.NewWithString("lounge@conference.example.org", false)
	return NewRoom("c1", j, "alice", "")
}

func TestRoom_Participants(t *testing.T) {
	r := newTestRoom()
	require.Equal(t, Joining, r.State())
	require.Equal(t, "lounge@conference.example.org/alice", r.OccupantJID("alice").String())

	require.True(t, r.Upsert(Participant{Nick: "alice", Role: "participant"}))
	require.True(t, r.Upsert(Participant{Nick: "bob", Role: "visitor"}))
	require.False(t, r.Upsert(Participant{Nick: "bob", Role: "moderator"}))

	p, ok := r.Participant("bob")
	require.True(t, ok)
	require.Equal(t, "moderator", p.Role)

	ps := r.Participants()
	require.Len(t, ps, 2)
	require.Equal(t, "alice", ps[0].Nick)

	_, ok = r.Remove("bob")
	require.True(t, ok)
	_, ok = r.Remove("bob")
	require.False(t, ok)
}

func TestRoom_Rename(t *testing.T) {
	r := newTestRoom()
	r.Upsert(Participant{Nick: "alice"})
	r.Upsert(Participant{Nick: "bob"})
	r.Upsert(Participant{Nick: "carol"})

	require.Equal(t, ErrNicknameTaken, r.Rename("bob", "carol"))
	require.Equal(t, ErrParticipantNotFound, r.Rename("dave", "eve"))

	require.Nil(t, r.Rename("alice", "alicia"))
	require.Equal(t, "alicia", r.Nick())

	var nicks []string
	for _, p := range r.Participants() {
		nicks = append(nicks, p.Nick)
	}
	require.Equal(t, []string{"bob", "carol", "alicia"}, nicks)
}

func TestRoom_ConcurrentRename(t *testing.T) {
	r := newTestRoom()
	r.Upsert(Participant{Nick: "bob"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r.Rename("bob", "robert") != nil {
				r.Rename("robert", "bob")
			}
		}()
		go func() {
			defer wg.Done()
			// a reader never observes both nicknames or none
			assert.Len(t, r.Participants(), 1)
		}()
	}
	wg.Wait()
}

func TestParseUserInfo(t *testing.T) {
	doc := `<presence from='lounge@conference.example.org/bob' type='unavailable'>` +
		`<x xmlns='http://jabber.org/protocol/muc#user'>` +
		`<item affiliation='member' role='participant' nick='robert' jid='bob@example.org/phone'/>` +
		`<status code='303'/><status code='110'/><status code='x'/></x></presence>`
	p := xmpp.NewParser(bytes.NewBufferString(doc), xmpp.DefaultMode, 0)
	elem, err := p.ParseElement()
	require.Nil(t, err)

	ui := ParseUserInfo(elem)
	require.NotNil(t, ui)
	require.Equal(t, "member", ui.Affiliation)
	require.Equal(t, "participant", ui.Role)
	require.Equal(t, "robert", ui.Nick)
	require.Equal(t, "bob@example.org/phone", ui.RealJID.String())
	require.True(t, ui.HasStatus(StatusNickChanged))
	require.True(t, ui.HasStatus(StatusSelf))
	require.False(t, ui.HasStatus(StatusKicked))

	require.Nil(t, ParseUserInfo(xmpp.NewElementName("presence")))
}

func TestJoinPresence(t *testing.T) {
	occ, _ := jid.NewWithString("lounge@conference.example.org/alice", false)
	p := JoinPresence("j1", occ, "secret")
	require.Equal(t, "lounge@conference.example.org/alice", p.To())
	x := p.Elements().ChildNamespace("x", Namespace)
	require.NotNil(t, x)
	require.Equal(t, "secret", x.Elements().Child("password").Text())

	leave := LeavePresence(occ, "bye")
	require.Equal(t, xmpp.UnavailableType, leave.Type())
	require.Equal(t, "bye", leave.Status())
}
