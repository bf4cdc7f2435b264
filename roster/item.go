/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package roster

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

// roster item subscription values
const (
	SubscriptionNone   = "none"
	SubscriptionFrom   = "from"
	SubscriptionTo     = "to"
	SubscriptionBoth   = "both"
	SubscriptionRemove = "remove"
)

// Resource represents the presence of a contact full JID.
type Resource struct {
	JID       *jid.JID
	Available bool
	Show      xmpp.ShowState
	Status    string
	Priority  int8
	LastSeen  time.Time
}

// Item represents a roster entry.
type Item struct {
	// JID is the contact bare JID.
	JID          string
	Name         string
	Subscription string
	Groups       []string

	// Ask is true while an outgoing subscription request awaits approval.
	Ask bool

	// PendingIn is true while an incoming subscription request awaits an answer.
	PendingIn bool

	// Transient is true for contacts not present in the roster
	// whose presence is being tracked.
	Transient bool

	resources map[string]*Resource
}

// NewItem parses an XML element returning a derived roster item instance.
func NewItem(elem xmpp.XElement) (*Item, error) {
	if elem.Name() != "item" {
		return nil, fmt.Errorf("invalid item element name: %s", elem.Name())
	}
	ri := &Item{Subscription: SubscriptionNone}
	if jidStr := elem.Attributes().Get("jid"); len(jidStr) > 0 {
		j, err := jid.NewWithString(jidStr, false)
		if err != nil {
			return nil, err
		}
		ri.JID = j.ToBareJID().String()
	} else {
		return nil, errors.New("item 'jid' attribute is required")
	}
	ri.Name = elem.Attributes().Get("name")

	subscription := elem.Attributes().Get("subscription")
	if len(subscription) > 0 {
		switch subscription {
		case SubscriptionBoth, SubscriptionFrom, SubscriptionTo, SubscriptionNone, SubscriptionRemove:
			break
		default:
			return nil, fmt.Errorf("unrecognized 'subscription' enum type: %s", subscription)
		}
		ri.Subscription = subscription
	}
	ask := elem.Attributes().Get("ask")
	if len(ask) > 0 {
		if ask != "subscribe" {
			return nil, fmt.Errorf("unrecognized 'ask' enum type: %s", ask)
		}
		ri.Ask = true
	}
	for _, group := range elem.Elements().Children("group") {
		if len(group.Text()) > 0 {
			ri.Groups = append(ri.Groups, group.Text())
		}
	}
	return ri, nil
}

// Element returns a roster item XML element representation.
// Only client settable attributes are included.
func (ri *Item) Element() xmpp.XElement {
	item := xmpp.NewElementName("item")
	item.SetAttribute("jid", ri.JID)
	if len(ri.Name) > 0 {
		item.SetAttribute("name", ri.Name)
	}
	if ri.Subscription == SubscriptionRemove {
		item.SetAttribute("subscription", SubscriptionRemove)
	}
	for _, group := range ri.Groups {
		item.AppendElement(xmpp.NewElementName("group").SetText(group))
	}
	return item
}

// ContactJID parses and returns roster item contact JID.
func (ri *Item) ContactJID() *jid.JID {
	j, _ := jid.NewWithString(ri.JID, true)
	return j
}

// Resources returns item available resources sorted by JID.
func (ri *Item) Resources() []Resource {
	var ret []Resource
	for _, res := range ri.resources {
		ret = append(ret, *res)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].JID.String() < ret[j].JID.String() })
	return ret
}

// Active returns the highest priority available resource.
// Ties are broken by the most recently seen one.
func (ri *Item) Active() (Resource, bool) {
	var active *Resource
	for _, res := range ri.resources {
		if !res.Available {
			continue
		}
		switch {
		case active == nil:
			active = res
		case res.Priority > active.Priority:
			active = res
		case res.Priority == active.Priority && res.LastSeen.After(active.LastSeen):
			active = res
		}
	}
	if active == nil {
		return Resource{}, false
	}
	return *active, true
}

func (ri *Item) clone() Item {
	ret := *ri
	ret.Groups = append([]string(nil), ri.Groups...)
	ret.resources = make(map[string]*Resource, len(ri.resources))
	for k, v := range ri.resources {
		res := *v
		ret.resources[k] = &res
	}
	return ret
}

// update sets every server controlled field from a pushed item,
// keeping local presence information.
func (ri *Item) update(pushed *Item) {
	ri.Name = pushed.Name
	ri.Subscription = pushed.Subscription
	ri.Groups = pushed.Groups
	ri.Ask = pushed.Ask
	ri.Transient = false
}
