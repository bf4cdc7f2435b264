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

	"github.com/google/uuid"
	"github.com/ortuman/xmppchat/event"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

// Namespace is the roster management namespace.
const Namespace = "jabber:iq:roster"

// ErrForeignPush is returned when a roster push does not come from the own account.
var ErrForeignPush = errors.New("roster: push from a foreign entity")

// Config represents roster tracking configuration.
type Config struct {
	// AutoAccept answers incoming subscription requests with 'subscribed'.
	AutoAccept bool

	// TrackUnsubscribed keeps the presence of entities not present in the roster.
	TrackUnsubscribed bool
}

type configProxy struct {
	AutoAccept        bool `yaml:"auto_accept"`
	TrackUnsubscribed bool `yaml:"track_unsubscribed"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.AutoAccept = p.AutoAccept
	c.TrackUnsubscribed = p.TrackUnsubscribed
	return nil
}

// PresenceChange is the payload of a RosterPresenceChanged event.
type PresenceChange struct {
	Resource Resource
	Active   bool
}

// Roster tracks the roster and contact presences of a connection.
// It is not safe for concurrent use.
type Roster struct {
	cfg    *Config
	connID string
	bus    *event.Bus
	now    func() time.Time

	own       *jid.JID
	requestID string
	loaded    bool
	version   string
	pending   []*xmpp.IQ
	items     map[string]*Item
}

// New returns a new roster instance.
func New(connID string, cfg *Config, bus *event.Bus) *Roster {
	return &Roster{
		cfg:    cfg,
		connID: connID,
		bus:    bus,
		now:    time.Now,
		items:  make(map[string]*Item),
	}
}

// SetJID sets the negotiated own JID.
func (r *Roster) SetJID(j *jid.JID) {
	r.own = j
}

// Loaded returns true once the initial roster has been received.
func (r *Roster) Loaded() bool {
	return r.loaded
}

// Version returns the last roster version announced by the server.
func (r *Roster) Version() string {
	return r.version
}

// RequestIQ returns the initial roster request.
func (r *Roster) RequestIQ(id string) *xmpp.IQ {
	r.requestID = id
	iq := xmpp.NewIQType(id, xmpp.GetType)
	iq.AppendElement(xmpp.NewElementNamespace("query", Namespace))
	return iq
}

// RequestID returns the identifier of the pending roster request.
func (r *Roster) RequestID() string {
	return r.requestID
}

// HandleResult loads the full roster and then applies any push received in the meantime.
func (r *Roster) HandleResult(iq *xmpp.IQ) error {
	if iq.ID() != r.requestID {
		return fmt.Errorf("roster: unexpected result id %s", iq.ID())
	}
	r.requestID = ""
	if iq.Type() == xmpp.ErrorType {
		r.setLoaded()
		return fmt.Errorf("roster: request failed: %s", stanzaErrorReason(iq))
	}
	query := iq.Elements().ChildNamespace("query", Namespace)
	if query == nil {
		// empty result means the cached roster version is still valid
		r.setLoaded()
		return nil
	}
	r.version = query.Attributes().Get("ver")

	fresh := make(map[string]*Item)
	for _, elem := range query.Elements().Children("item") {
		item, err := NewItem(elem)
		if err != nil {
			log.Warnf("roster: skipping invalid item: %v", err)
			continue
		}
		if item.Subscription == SubscriptionRemove {
			continue
		}
		if prev := r.items[item.JID]; prev != nil {
			item.resources = prev.resources
			item.PendingIn = prev.PendingIn
		}
		fresh[item.JID] = item
	}
	// keep transient presence trackers
	for k, item := range r.items {
		if _, ok := fresh[k]; !ok && item.Transient {
			fresh[k] = item
		}
	}
	r.items = fresh
	r.setLoaded()
	return nil
}

func (r *Roster) setLoaded() {
	r.loaded = true
	r.publish(event.RosterLoaded, fmt.Sprintf("roster loaded (%d items)", len(r.items)), r.Items())

	pending := r.pending
	r.pending = nil
	for _, push := range pending {
		if err := r.applyPush(push); err != nil {
			log.Warnf("roster: discarding buffered push: %v", err)
		}
	}
}

// HandlePush validates and applies a roster push, returning the IQ result
// that acknowledges it. Pushes arriving before the initial roster are buffered.
func (r *Roster) HandlePush(iq *xmpp.IQ) (xmpp.Stanza, error) {
	if from := iq.FromJID(); from != nil && r.own != nil && !from.Equal(r.own.ToBareJID()) {
		return nil, ErrForeignPush
	}
	query := iq.Elements().ChildNamespace("query", Namespace)
	if query == nil || query.Elements().Count() != 1 {
		return iq.BadRequestError(), errors.New("roster: push must contain exactly one item")
	}
	if _, err := NewItem(query.Elements().All()[0]); err != nil {
		return iq.BadRequestError(), err
	}
	if !r.loaded {
		r.pending = append(r.pending, iq)
	} else if err := r.applyPush(iq); err != nil {
		return iq.BadRequestError(), err
	}
	return iq.ResultIQ(), nil
}

func (r *Roster) applyPush(iq *xmpp.IQ) error {
	query := iq.Elements().ChildNamespace("query", Namespace)
	if ver := query.Attributes().Get("ver"); len(ver) > 0 {
		r.version = ver
	}
	pushed, err := NewItem(query.Elements().All()[0])
	if err != nil {
		return err
	}
	if pushed.Subscription == SubscriptionRemove {
		if _, ok := r.items[pushed.JID]; ok {
			delete(r.items, pushed.JID)
			r.publish(event.RosterItemRemoved, pushed.JID+" removed from roster", pushed.JID)
		}
		return nil
	}
	item := r.items[pushed.JID]
	if item == nil {
		item = pushed
		r.items[pushed.JID] = item
	} else {
		item.update(pushed)
	}
	r.publish(event.RosterItemUpdated, pushed.JID+" updated", item.clone())
	return nil
}

// HandlePresence updates contact presence information and subscription flags.
// It returns a presence to be sent back when a subscription request is auto accepted.
func (r *Roster) HandlePresence(p *xmpp.Presence) *xmpp.Presence {
	from := p.FromJID()
	if from == nil {
		return nil
	}
	bare := from.ToBareJID().String()

	switch p.Type() {
	case xmpp.SubscribeType:
		item := r.items[bare]
		if item == nil {
			item = &Item{JID: bare, Subscription: SubscriptionNone, Transient: true}
			r.items[bare] = item
		}
		item.PendingIn = true
		r.publish(event.RosterSubscriptionRequest, bare+" requests subscription", bare)
		if r.cfg.AutoAccept {
			return r.Approve(bare)
		}
		return nil

	case xmpp.UnsubscribeType:
		if item := r.items[bare]; item != nil {
			item.PendingIn = false
		}
		r.publish(event.RosterSubscriptionChanged, bare+" unsubscribed from you", p.Type())
		return nil

	case xmpp.SubscribedType, xmpp.UnsubscribedType:
		// the outgoing request has been answered either way
		if item := r.items[bare]; item != nil {
			item.Ask = false
		}
		r.publish(event.RosterSubscriptionChanged, bare+" "+p.Type()+" you", p.Type())
		return nil

	case xmpp.AvailableType, xmpp.UnavailableType:
		break

	default:
		return nil
	}
	item := r.items[bare]
	if item == nil {
		if !r.cfg.TrackUnsubscribed && !r.isOwn(from) {
			log.Debugf("roster: ignoring presence from untracked %s", bare)
			return nil
		}
		item = &Item{JID: bare, Subscription: SubscriptionNone, Transient: true}
		r.items[bare] = item
	}
	if item.resources == nil {
		item.resources = make(map[string]*Resource)
	}
	if p.IsUnavailable() {
		res := item.resources[from.Resource()]
		if res == nil {
			return nil
		}
		delete(item.resources, from.Resource())
		res.Available = false
		res.Status = p.Status()
		res.LastSeen = r.now()
		if item.Transient && len(item.resources) == 0 {
			delete(r.items, bare)
		}
		r.publish(event.RosterPresenceChanged, from.String()+" is offline", PresenceChange{Resource: *res})
		return nil
	}
	res := item.resources[from.Resource()]
	if res == nil {
		res = &Resource{JID: from}
		item.resources[from.Resource()] = res
	}
	res.Available = true
	res.Show = p.ShowState()
	res.Status = p.Status()
	res.Priority = p.Priority()
	res.LastSeen = r.now()
	if ts, ok := xmpp.Delayed(p); ok {
		res.LastSeen = ts
	}
	active, _ := item.Active()
	change := PresenceChange{Resource: *res, Active: active.JID != nil && active.JID.Equal(from)}
	r.publish(event.RosterPresenceChanged, from.String()+" is online", change)
	return nil
}

// Item returns a copy of the item associated to a bare JID.
func (r *Roster) Item(bare string) (Item, bool) {
	item := r.items[itemKey(bare)]
	if item == nil {
		return Item{}, false
	}
	return item.clone(), true
}

// Items returns a copy of every roster item sorted by JID. Transient items are excluded.
func (r *Roster) Items() []Item {
	var ret []Item
	for _, item := range r.items {
		if item.Transient {
			continue
		}
		ret = append(ret, item.clone())
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].JID < ret[j].JID })
	return ret
}

// Active returns the highest priority resource of a contact.
func (r *Roster) Active(bare string) (Resource, bool) {
	item := r.items[itemKey(bare)]
	if item == nil {
		return Resource{}, false
	}
	return item.Active()
}

// Subscribe returns a subscription request presence and flags the
// request as pending until the contact answers it.
func (r *Roster) Subscribe(bare string) *xmpp.Presence {
	key := itemKey(bare)
	item := r.items[key]
	if item == nil {
		item = &Item{JID: key, Subscription: SubscriptionNone, Transient: true}
		r.items[key] = item
	}
	item.Ask = true
	return r.subscriptionPresence(bare, xmpp.SubscribeType)
}

// Approve returns a presence approving an incoming subscription request.
func (r *Roster) Approve(bare string) *xmpp.Presence {
	if item := r.items[itemKey(bare)]; item != nil {
		item.PendingIn = false
	}
	return r.subscriptionPresence(bare, xmpp.SubscribedType)
}

// Deny returns a presence denying an incoming subscription request
// or cancelling an existing one.
func (r *Roster) Deny(bare string) *xmpp.Presence {
	if item := r.items[itemKey(bare)]; item != nil {
		item.PendingIn = false
	}
	return r.subscriptionPresence(bare, xmpp.UnsubscribedType)
}

// Unsubscribe returns a presence unsubscribing from a contact presence.
func (r *Roster) Unsubscribe(bare string) *xmpp.Presence {
	return r.subscriptionPresence(bare, xmpp.UnsubscribeType)
}

// SetItemIQ returns a roster set request adding or updating an item.
func (r *Roster) SetItemIQ(bare, name string, groups []string) (*xmpp.IQ, error) {
	j, err := jid.NewWithString(bare, false)
	if err != nil {
		return nil, err
	}
	item := &Item{JID: j.ToBareJID().String(), Name: name, Groups: groups}
	return r.setIQ(item), nil
}

// RemoveItemIQ returns a roster set request removing an item.
func (r *Roster) RemoveItemIQ(bare string) (*xmpp.IQ, error) {
	j, err := jid.NewWithString(bare, false)
	if err != nil {
		return nil, err
	}
	item := &Item{JID: j.ToBareJID().String(), Subscription: SubscriptionRemove}
	return r.setIQ(item), nil
}

// Reset clears every item and presence.
func (r *Roster) Reset() {
	r.items = make(map[string]*Item)
	r.pending = nil
	r.loaded = false
	r.requestID = ""
}

// ClearPresences marks every contact as offline, keeping the items.
func (r *Roster) ClearPresences() {
	for k, item := range r.items {
		if item.Transient {
			delete(r.items, k)
			continue
		}
		item.resources = nil
	}
	r.loaded = false
	r.requestID = ""
	r.pending = nil
}

func (r *Roster) setIQ(item *Item) *xmpp.IQ {
	iq := xmpp.NewIQType(uuid.New().String(), xmpp.SetType)
	iq.AppendElement(xmpp.NewElementNamespace("query", Namespace).AppendElement(item.Element()))
	return iq
}

func (r *Roster) subscriptionPresence(bare, presenceType string) *xmpp.Presence {
	to, _ := jid.NewWithString(bare, false)
	if to != nil {
		to = to.ToBareJID()
	}
	return xmpp.NewPresence(nil, to, presenceType)
}

// itemKey returns the prepared bare JID items are stored by.
func itemKey(bare string) string {
	j, err := jid.NewWithString(bare, false)
	if err != nil {
		return bare
	}
	return j.ToBareJID().String()
}

func (r *Roster) isOwn(j *jid.JID) bool {
	return r.own != nil && j.ToBareJID().Equal(r.own.ToBareJID())
}

func (r *Roster) publish(kind, text string, payload interface{}) {
	r.bus.Publish(event.Event{Kind: kind, ConnID: r.connID, Text: text, Payload: payload})
}

func stanzaErrorReason(iq *xmpp.IQ) string {
	if se := xmpp.NewStanzaErrorFromElement(iq); se != nil {
		return se.Reason()
	}
	return "undefined-condition"
}
