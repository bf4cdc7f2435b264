/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package muc

import (
	"strconv"

	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

const (
	// Namespace is the multi-user chat (XEP-0045) namespace.
	Namespace = "http://jabber.org/protocol/muc"

	// NamespaceUser is the multi-user chat occupant namespace.
	NamespaceUser = "http://jabber.org/protocol/muc#user"
)

// occupant presence status codes
const (
	StatusNonAnonymous = 100
	StatusSelf         = 110
	StatusRoomCreated  = 201
	StatusNickModified = 210
	StatusBanned       = 301
	StatusNickChanged  = 303
	StatusKicked       = 307
	StatusRemoved      = 321
	StatusShutdown     = 332
)

// UserInfo holds the muc#user information attached to an occupant presence.
type UserInfo struct {
	RealJID     *jid.JID
	Role        string
	Affiliation string

	// Nick is the new nickname announced along with status code 303.
	Nick     string
	Reason   string
	Statuses map[int]bool
}

// HasStatus tells whether a status code is present.
func (ui *UserInfo) HasStatus(code int) bool {
	return ui.Statuses[code]
}

// ParseUserInfo extracts the muc#user payload of a stanza.
// Returns nil if the stanza does not carry it.
func ParseUserInfo(stanza xmpp.XElement) *UserInfo {
	x := stanza.Elements().ChildNamespace("x", NamespaceUser)
	if x == nil {
		return nil
	}
	ui := &UserInfo{Statuses: make(map[int]bool)}
	if item := x.Elements().Child("item"); item != nil {
		ui.Role = item.Attributes().Get("role")
		ui.Affiliation = item.Attributes().Get("affiliation")
		ui.Nick = item.Attributes().Get("nick")
		if j := item.Attributes().Get("jid"); len(j) > 0 {
			ui.RealJID, _ = jid.NewWithString(j, false)
		}
		if reason := item.Elements().Child("reason"); reason != nil {
			ui.Reason = reason.Text()
		}
	}
	for _, st := range x.Elements().Children("status") {
		code, err := strconv.Atoi(st.Attributes().Get("code"))
		if err != nil {
			continue
		}
		ui.Statuses[code] = true
	}
	return ui
}

// JoinPresence returns the presence used to enter a room.
func JoinPresence(id string, occupant *jid.JID, password string) *xmpp.Presence {
	p := xmpp.NewPresence(nil, occupant, xmpp.AvailableType)
	p.SetID(id)
	x := xmpp.NewElementNamespace("x", Namespace)
	if len(password) > 0 {
		x.AppendElement(xmpp.NewElementName("password").SetText(password))
	}
	p.AppendElement(x)
	return p
}

// LeavePresence returns the presence used to exit a room.
func LeavePresence(occupant *jid.JID, reason string) *xmpp.Presence {
	p := xmpp.NewPresence(nil, occupant, xmpp.UnavailableType)
	if len(reason) > 0 {
		p.SetStatus(reason)
	}
	return p
}
