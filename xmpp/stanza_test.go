/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp_test

import (
	"testing"
	"time"

	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
	"github.com/stretchr/testify/require"
)

func TestIQ_Build(t *testing.T) {
	j, _ := jid.NewWithString("alice@example.org", false)

	elem := xmpp.NewElementName("iq")
	_, err := xmpp.NewIQFromElement(elem, j, j) // no id
	require.NotNil(t, err)

	elem.SetID("i1")
	_, err = xmpp.NewIQFromElement(elem, j, j) // no type
	require.NotNil(t, err)

	elem.SetType("bogus")
	_, err = xmpp.NewIQFromElement(elem, j, j)
	require.NotNil(t, err)

	elem.SetType(xmpp.GetType)
	_, err = xmpp.NewIQFromElement(elem, j, j) // get without payload
	require.NotNil(t, err)

	elem.AppendElement(xmpp.NewElementNamespace("ping", "urn:xmpp:ping"))
	iq, err := xmpp.NewIQFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, iq.IsGet())
	require.Equal(t, "ping", iq.Payload().Name())
}

func TestIQ_ResultIQ(t *testing.T) {
	from, _ := jid.NewWithString("example.org", false)
	to, _ := jid.NewWithString("alice@example.org/res", false)
	iq := xmpp.NewIQType("p1", xmpp.GetType)
	iq.SetFromJID(from)
	iq.SetToJID(to)
	iq.AppendElement(xmpp.NewElementNamespace("ping", "urn:xmpp:ping"))

	res := iq.ResultIQ()
	require.True(t, res.IsResult())
	require.Equal(t, "p1", res.ID())
	require.Equal(t, "example.org", res.To())
	require.Equal(t, "alice@example.org/res", res.From())
	require.Nil(t, res.Payload())
}

func TestMessage_Build(t *testing.T) {
	j, _ := jid.NewWithString("bob@example.org/phone", false)

	elem := xmpp.NewElementName("message")
	elem.SetType("invalid")
	_, err := xmpp.NewMessageFromElement(elem, j, j)
	require.NotNil(t, err)

	elem.SetType(xmpp.GroupChatType)
	elem.AppendElement(xmpp.NewElementName("subject").SetText("Topic"))
	elem.AppendElement(xmpp.NewElementName("body").SetText("Hello"))
	elem.AppendElement(xmpp.NewElementName("thread").SetText("t1"))
	msg, err := xmpp.NewMessageFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, msg.IsGroupChat())
	require.True(t, msg.IsMessageWithBody())
	require.True(t, msg.HasSubject())
	require.Equal(t, "Hello", msg.Body())
	require.Equal(t, "Topic", msg.Subject())
	require.Equal(t, "t1", msg.Thread())

	msg2 := xmpp.NewMessageType("m2", "")
	require.True(t, msg2.IsNormal())
	require.Equal(t, "", msg2.Body())
	require.False(t, msg2.HasSubject())
}

func TestPresence_Build(t *testing.T) {
	j, _ := jid.NewWithString("bob@example.org/phone", false)

	elem := xmpp.NewElementName("presence")
	elem.SetType("bogus")
	_, err := xmpp.NewPresenceFromElement(elem, j, j)
	require.NotNil(t, err)

	elem.SetType(xmpp.AvailableType)
	elem.AppendElement(xmpp.NewElementName("show").SetText("dnd"))
	elem.AppendElement(xmpp.NewElementName("status").SetText("busy"))
	elem.AppendElement(xmpp.NewElementName("priority").SetText("-3"))
	p, err := xmpp.NewPresenceFromElement(elem, j, j)
	require.Nil(t, err)
	require.True(t, p.IsAvailable())
	require.Equal(t, xmpp.DoNotDisturbShowState, p.ShowState())
	require.Equal(t, "busy", p.Status())
	require.Equal(t, int8(-3), p.Priority())

	elem2 := xmpp.NewElementName("presence")
	elem2.AppendElement(xmpp.NewElementName("priority").SetText("200"))
	_, err = xmpp.NewPresenceFromElement(elem2, j, j)
	require.NotNil(t, err)

	// unknown show values fall back to plain availability
	elem3 := xmpp.NewElementName("presence")
	elem3.AppendElement(xmpp.NewElementName("show").SetText("sleeping"))
	p3, err := xmpp.NewPresenceFromElement(elem3, j, j)
	require.Nil(t, err)
	require.Equal(t, xmpp.AvailableShowState, p3.ShowState())
}

func TestPresence_Setters(t *testing.T) {
	p := xmpp.NewPresence(nil, nil, xmpp.AvailableType)
	p.SetShowState(xmpp.AwayShowState)
	p.SetStatus("lunch")
	p.SetPriority(5)
	require.Equal(t, `<presence><show>away</show><status>lunch</status><priority>5</priority></presence>`, p.String())

	p.SetShowState(xmpp.AvailableShowState)
	p.SetPriority(0)
	require.Equal(t, `<presence><status>lunch</status></presence>`, p.String())
}

func TestStanzaError_Parse(t *testing.T) {
	elem := xmpp.NewElementName("presence").SetType(xmpp.ErrorType)
	errEl := xmpp.NewElementName("error").SetType("cancel")
	errEl.AppendElement(xmpp.NewElementNamespace("conflict", "urn:ietf:params:xml:ns:xmpp-stanzas"))
	errEl.AppendElement(xmpp.NewElementNamespace("text", "urn:ietf:params:xml:ns:xmpp-stanzas").SetText("Nickname taken"))
	elem.AppendElement(errEl)

	se := xmpp.NewStanzaErrorFromElement(elem)
	require.NotNil(t, se)
	require.Equal(t, "conflict", se.Reason())
	require.Equal(t, "Nickname taken", se.Text())

	// legacy code only
	elem2 := xmpp.NewElementName("presence").SetType(xmpp.ErrorType)
	elem2.AppendElement(xmpp.NewElementName("error").SetAttribute("code", "409"))
	se2 := xmpp.NewStanzaErrorFromElement(elem2)
	require.Equal(t, "conflict", se2.Reason())
	require.Equal(t, 409, se2.Code())

	require.Nil(t, xmpp.NewStanzaErrorFromElement(xmpp.NewElementName("presence")))
}

func TestDelay(t *testing.T) {
	msg := xmpp.NewElementName("message")
	_, ok := xmpp.Delayed(msg)
	require.False(t, ok)

	stamp := time.Date(2018, 3, 4, 10, 11, 12, 0, time.UTC)
	msg.Delay("room@muc.example.org", stamp)
	d := msg.Elements().ChildNamespace("delay", "urn:xmpp:delay")
	require.NotNil(t, d)
	require.Equal(t, "2018-03-04T10:11:12Z", d.Attributes().Get("stamp"))

	ts, ok := xmpp.Delayed(msg)
	require.True(t, ok)
	require.True(t, stamp.Equal(ts))
}
