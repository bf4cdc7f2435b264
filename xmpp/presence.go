/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ortuman/xmppchat/xmpp/jid"
)

const (
	// AvailableType represents an 'available' Presence type.
	AvailableType = ""

	// UnavailableType represents a 'unavailable' Presence type.
	UnavailableType = "unavailable"

	// SubscribeType represents a 'subscribe' Presence type.
	SubscribeType = "subscribe"

	// UnsubscribeType represents a 'unsubscribe' Presence type.
	UnsubscribeType = "unsubscribe"

	// SubscribedType represents a 'subscribed' Presence type.
	SubscribedType = "subscribed"

	// UnsubscribedType represents a 'unsubscribed' Presence type.
	UnsubscribedType = "unsubscribed"

	// ProbeType represents a 'probe' Presence type.
	ProbeType = "probe"
)

// ShowState represents Presence show state.
type ShowState int

const (
	// AvailableShowState represents 'available' Presence show state.
	AvailableShowState ShowState = iota

	// AwayShowState represents 'away' Presence show state.
	AwayShowState

	// ChatShowState represents 'chat' Presence show state.
	ChatShowState

	// DoNotDisturbShowState represents 'dnd' Presence show state.
	DoNotDisturbShowState

	// ExtendedAwaysShowState represents 'xa' Presence show state.
	ExtendedAwaysShowState
)

var showStateText = map[ShowState]string{
	AwayShowState:          "away",
	ChatShowState:          "chat",
	DoNotDisturbShowState:  "dnd",
	ExtendedAwaysShowState: "xa",
}

// String returns the <show/> element text of a show state.
func (s ShowState) String() string {
	return showStateText[s]
}

// parseShowState maps a <show/> value. Unknown values are treated as plain availability.
func parseShowState(s string) ShowState {
	for st, text := range showStateText {
		if text == s {
			return st
		}
	}
	return AvailableShowState
}

// Presence represents a <presence> stanza.
type Presence struct {
	stanzaElement
	showState ShowState
	priority  int8
}

// NewPresenceFromElement validates a received element and returns its Presence representation.
func NewPresenceFromElement(e XElement, from *jid.JID, to *jid.JID) (*Presence, error) {
	if e.Name() != PresenceName {
		return nil, fmt.Errorf("xmpp: wrong presence element name: %s", e.Name())
	}
	if !isPresenceType(e.Type()) {
		return nil, fmt.Errorf(`xmpp: invalid presence "type" attribute: %s`, e.Type())
	}
	p := &Presence{}
	p.fromElement(e, from, to)

	for _, parse := range []func() error{p.parseShow, p.checkStatus, p.parsePriority} {
		if err := parse(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// NewPresence creates and returns a new Presence element.
func NewPresence(from *jid.JID, to *jid.JID, presenceType string) *Presence {
	p := &Presence{}
	p.SetName(PresenceName)
	p.SetFromJID(from)
	p.SetToJID(to)
	p.SetType(presenceType)
	return p
}

// IsAvailable returns true if this is an 'available' type Presence.
func (p *Presence) IsAvailable() bool { return p.Type() == AvailableType }

// IsUnavailable returns true if this is an 'unavailable' type Presence.
func (p *Presence) IsUnavailable() bool { return p.Type() == UnavailableType }

// IsSubscribe returns true if this is a 'subscribe' type Presence.
func (p *Presence) IsSubscribe() bool { return p.Type() == SubscribeType }

// IsUnsubscribe returns true if this is an 'unsubscribe' type Presence.
func (p *Presence) IsUnsubscribe() bool { return p.Type() == UnsubscribeType }

// IsSubscribed returns true if this is a 'subscribed' type Presence.
func (p *Presence) IsSubscribed() bool { return p.Type() == SubscribedType }

// IsUnsubscribed returns true if this is an 'unsubscribed' type Presence.
func (p *Presence) IsUnsubscribed() bool { return p.Type() == UnsubscribedType }

// IsProbe returns true if this is an 'probe' type Presence.
func (p *Presence) IsProbe() bool { return p.Type() == ProbeType }

// Status returns the first <status/> text.
func (p *Presence) Status() string {
	return childText(p, "status")
}

// ShowState returns presence stanza show state.
func (p *Presence) ShowState() ShowState { return p.showState }

// Priority returns presence stanza priority value.
func (p *Presence) Priority() int8 { return p.priority }

// SetShowState replaces the <show/> child. AvailableShowState removes it.
func (p *Presence) SetShowState(st ShowState) {
	p.showState = st
	p.replaceChild("show", st.String())
}

// SetStatus replaces the <status/> child. An empty status removes it.
func (p *Presence) SetStatus(status string) {
	p.replaceChild("status", status)
}

// SetPriority replaces the <priority/> child. Zero priority removes it.
func (p *Presence) SetPriority(priority int8) {
	p.priority = priority
	var text string
	if priority != 0 {
		text = strconv.Itoa(int(priority))
	}
	p.replaceChild("priority", text)
}

func (p *Presence) replaceChild(name, text string) {
	p.RemoveElements(name)
	if len(text) > 0 {
		p.AppendElement(NewElementName(name).SetText(text))
	}
}

func (p *Presence) parseShow() error {
	shows := p.elements.Children("show")
	switch {
	case len(shows) > 1:
		return errors.New("xmpp: presence must not contain more than one <show/> element")
	case len(shows) == 0:
		p.showState = AvailableShowState
		return nil
	case shows[0].Attributes().Count() > 0:
		return errors.New("xmpp: <show/> element must not possess any attributes")
	}
	p.showState = parseShowState(shows[0].Text())
	return nil
}

// checkStatus rejects <status/> elements carrying attributes other than 'xml:lang'.
func (p *Presence) checkStatus() error {
	for _, st := range p.elements.Children("status") {
		for _, attr := range st.Attributes().All() {
			if attr.Label != "xml:lang" {
				return fmt.Errorf("xmpp: unexpected <status/> attribute: %s", attr.Label)
			}
		}
	}
	return nil
}

func (p *Presence) parsePriority() error {
	prios := p.elements.Children("priority")
	switch len(prios) {
	case 0:
		return nil
	case 1:
		break
	default:
		return errors.New("xmpp: presence must not contain more than one <priority/> element")
	}
	pr, err := strconv.ParseInt(prios[0].Text(), 10, 8)
	if err != nil {
		return fmt.Errorf("xmpp: priority must be an integer between -128 and +127: %s", prios[0].Text())
	}
	p.priority = int8(pr)
	return nil
}

func isPresenceType(presenceType string) bool {
	switch presenceType {
	case ErrorType, AvailableType, UnavailableType, SubscribeType,
		UnsubscribeType, SubscribedType, UnsubscribedType, ProbeType:
		return true
	}
	return false
}

func childText(e XElement, name string) string {
	if child := e.Elements().Child(name); child != nil {
		return child.Text()
	}
	return ""
}
