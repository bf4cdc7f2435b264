/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/ortuman/xmppchat/event"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/muc"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

var (
	// ErrRoomNotFound is returned when operating over a room that has not been joined.
	ErrRoomNotFound = errors.New("router: room not found")

	// ErrRoomNotJoined is returned when sending to a room still being joined.
	ErrRoomNotJoined = errors.New("router: room not joined")

	// ErrInvalidNick is returned when joining with an empty nickname.
	ErrInvalidNick = errors.New("router: invalid nickname")

	// ErrInvalidChatState is returned when sending an unknown chat state.
	ErrInvalidChatState = errors.New("router: invalid chat state")
)

// Sender sends stanzas over the connection.
type Sender interface {
	SendElement(elem xmpp.XElement) error
}

// joinParams holds what a room is joined with. nick is the nickname chosen
// by the user and never carries a conflict suffix.
type joinParams struct {
	room     *jid.JID
	nick     string
	password string
}

// Router keeps the rooms and queries of a connection and routes
// incoming room presences and messages to them.
// It is not safe for concurrent use.
type Router struct {
	cfg    *Config
	connID string
	bus    *event.Bus
	sender Sender

	rooms   map[string]*muc.Room
	nicks   map[string]string
	saved   map[string]joinParams
	queries map[string]*Query
}

// New returns a new router instance.
func New(connID string, cfg *Config, bus *event.Bus, sender Sender) *Router {
	return &Router{
		cfg:     cfg,
		connID:  connID,
		bus:     bus,
		sender:  sender,
		rooms:   make(map[string]*muc.Room),
		nicks:   make(map[string]string),
		saved:   make(map[string]joinParams),
		queries: make(map[string]*Query),
	}
}

// Join sends a room join request. If the room is already joined (or being joined)
// the existing instance is returned.
func (r *Router) Join(room, nick, password string) (*muc.Room, error) {
	roomJID, err := parseRoomJID(room)
	if err != nil {
		return nil, err
	}
	if len(nick) == 0 {
		return nil, ErrInvalidNick
	}
	key := roomJID.String()
	if rm := r.rooms[key]; rm != nil {
		return rm, nil
	}
	rm := muc.NewRoom(r.connID, roomJID, nick, password)
	r.rooms[key] = rm
	r.nicks[key] = nick
	r.saved[key] = joinParams{room: roomJID, nick: nick, password: password}
	if err := r.sendJoin(rm); err != nil {
		return nil, err
	}
	return rm, nil
}

// Remember saves room join parameters to be used on next Rejoin.
func (r *Router) Remember(room, nick, password string) error {
	roomJID, err := parseRoomJID(room)
	if err != nil {
		return err
	}
	if len(nick) == 0 {
		return ErrInvalidNick
	}
	r.saved[roomJID.String()] = joinParams{room: roomJID, nick: nick, password: password}
	return nil
}

// Part leaves a room.
func (r *Router) Part(room, reason string) error {
	roomJID, err := parseRoomJID(room)
	if err != nil {
		return err
	}
	key := roomJID.String()
	delete(r.saved, key)

	rm := r.rooms[key]
	if rm == nil {
		return ErrRoomNotFound
	}
	r.destroyRoom(rm, "", reason)
	return r.sender.SendElement(muc.LeavePresence(rm.OccupantJID(rm.Nick()), reason))
}

// Room returns a joined room instance.
func (r *Router) Room(room string) *muc.Room {
	roomJID, err := parseRoomJID(room)
	if err != nil {
		return nil
	}
	return r.rooms[roomJID.String()]
}

// Rooms returns every room sorted by name.
func (r *Router) Rooms() []*muc.Room {
	ret := make([]*muc.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		ret = append(ret, rm)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name() < ret[j].Name() })
	return ret
}

// Query returns the query associated to a peer, creating it if needed.
func (r *Router) Query(peer string, automatic bool) (*Query, error) {
	peerJID, err := jid.NewWithString(peer, false)
	if err != nil {
		return nil, err
	}
	if len(peerJID.Domain()) == 0 {
		return nil, fmt.Errorf("router: invalid peer: %s", peer)
	}
	return r.query(peerJID, automatic), nil
}

// Queries returns every query sorted by name.
func (r *Router) Queries() []*Query {
	ret := make([]*Query, 0, len(r.queries))
	for _, q := range r.queries {
		ret = append(ret, q)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name() < ret[j].Name() })
	return ret
}

// CloseQuery closes the query associated to a peer.
func (r *Router) CloseQuery(peer string) {
	q := r.lookupQuery(peer)
	if q == nil {
		return
	}
	delete(r.queries, q.Name())
	r.publish(event.QueryClosed, "query with "+q.Name()+" closed", q.Name())
}

// RoomMessage sends a groupchat message to a joined room.
func (r *Router) RoomMessage(room, body string) error {
	rm := r.Room(room)
	if rm == nil {
		return ErrRoomNotFound
	}
	if rm.State() != muc.Joined {
		return ErrRoomNotJoined
	}
	msg := xmpp.NewMessageType(uuid.New().String(), xmpp.GroupChatType)
	msg.SetToJID(rm.JID())
	msg.AppendElement(xmpp.NewElementName("body").SetText(body))
	return r.sender.SendElement(msg)
}

// QueryMessage sends a chat message to a peer, creating the query if needed.
func (r *Router) QueryMessage(peer, body string) error {
	q, err := r.Query(peer, false)
	if err != nil {
		return err
	}
	msg := xmpp.NewMessageType(uuid.New().String(), xmpp.ChatType)
	msg.SetToJID(q.JID())
	msg.AppendElement(xmpp.NewElementName("body").SetText(body))
	if r.cfg.ChatStates {
		msg.AppendElement(xmpp.NewElementNamespace(string(ChatStateActive), ChatStatesNamespace))
	}
	return r.sender.SendElement(msg)
}

// ChatState sends a standalone chat state notification to a peer.
func (r *Router) ChatState(peer string, state ChatState) error {
	if !isChatState(string(state)) {
		return ErrInvalidChatState
	}
	q, err := r.Query(peer, false)
	if err != nil {
		return err
	}
	msg := xmpp.NewMessageType(uuid.New().String(), xmpp.ChatType)
	msg.SetToJID(q.JID())
	msg.AppendElement(xmpp.NewElementNamespace(string(state), ChatStatesNamespace))
	return r.sender.SendElement(msg)
}

// Suspend destroys every room after a connection loss, keeping join
// parameters so that rooms can be joined again.
func (r *Router) Suspend() {
	for _, rm := range r.Rooms() {
		r.destroyRoom(rm, "", "connection lost")
	}
}

// Rejoin joins every saved room.
func (r *Router) Rejoin() {
	var keys []string
	for k := range r.saved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := r.saved[k]
		if _, err := r.Join(p.room.String(), p.nick, p.password); err != nil {
			log.Warnf("router: failed to rejoin %s: %v", k, err)
		}
	}
}

// Reset releases every room, saved join parameter and query.
func (r *Router) Reset() {
	for _, rm := range r.Rooms() {
		r.destroyRoom(rm, "", "disconnected")
	}
	r.saved = make(map[string]joinParams)
	for _, q := range r.Queries() {
		r.CloseQuery(q.Name())
	}
}

// HandlePresence processes a room occupant presence.
// Returns false if the presence does not belong to a room.
func (r *Router) HandlePresence(p *xmpp.Presence) bool {
	from := p.FromJID()
	if from == nil {
		return false
	}
	rm := r.rooms[from.ToBareJID().String()]
	if rm == nil {
		// late presences from rooms already left
		return muc.ParseUserInfo(p) != nil
	}
	nick := from.Resource()
	if len(nick) == 0 {
		if p.Type() == xmpp.ErrorType {
			r.handleJoinError(rm, p)
		}
		return true
	}
	switch p.Type() {
	case xmpp.ErrorType:
		r.handleJoinError(rm, p)
	case xmpp.UnavailableType:
		r.handleUnavailable(rm, nick, p)
	case xmpp.AvailableType:
		r.handleAvailable(rm, nick, p)
	}
	return true
}

func (r *Router) handleAvailable(rm *muc.Room, nick string, p *xmpp.Presence) {
	ui := muc.ParseUserInfo(p)
	if ui == nil {
		ui = &muc.UserInfo{Statuses: map[int]bool{}}
	}
	participant := muc.Participant{
		Nick:        nick,
		RealJID:     ui.RealJID,
		Role:        ui.Role,
		Affiliation: ui.Affiliation,
		Available:   true,
		Show:        p.ShowState(),
		Status:      p.Status(),
	}
	self := ui.HasStatus(muc.StatusSelf) || nick == rm.Nick()
	if self && nick != rm.Nick() {
		// server assigned a different nickname
		rm.SetNick(nick)
	}
	added := rm.Upsert(participant)

	evt := ParticipantEvent{Room: rm.Name(), Participant: participant}
	if added {
		r.publish(event.RoomParticipantJoined, nick+" has joined "+rm.Name(), evt)
	} else {
		r.publish(event.RoomParticipantChanged, nick+" changed presence in "+rm.Name(), evt)
	}
	if self {
		r.nicks[rm.Name()] = nick
		if rm.State() == muc.Joining {
			rm.SetState(muc.Joined)
			r.publish(event.RoomJoined, "joined "+rm.Name()+" as "+nick, rm.Name())
		}
	}
}

func (r *Router) handleUnavailable(rm *muc.Room, nick string, p *xmpp.Presence) {
	ui := muc.ParseUserInfo(p)
	if ui == nil {
		ui = &muc.UserInfo{Statuses: map[int]bool{}}
	}
	self := ui.HasStatus(muc.StatusSelf) || nick == rm.Nick()

	if ui.HasStatus(muc.StatusNickChanged) && len(ui.Nick) > 0 {
		if err := rm.Rename(nick, ui.Nick); err != nil {
			log.Warnf("router: cannot rename %s to %s in %s: %v", nick, ui.Nick, rm.Name(), err)
			return
		}
		if self {
			r.nicks[rm.Name()] = ui.Nick
			if p, ok := r.saved[rm.Name()]; ok {
				p.nick = ui.Nick
				r.saved[rm.Name()] = p
			}
		}
		participant, _ := rm.Participant(ui.Nick)
		r.publish(event.RoomParticipantRenamed, nick+" is now known as "+ui.Nick,
			ParticipantEvent{Room: rm.Name(), Participant: participant, OldNick: nick})
		return
	}
	if self {
		reason := p.Status()
		switch {
		case ui.HasStatus(muc.StatusKicked):
			reason = "kicked: " + ui.Reason
		case ui.HasStatus(muc.StatusBanned):
			reason = "banned: " + ui.Reason
		case ui.HasStatus(muc.StatusShutdown):
			reason = "room shutdown"
		}
		delete(r.saved, rm.Name())
		r.destroyRoom(rm, "", reason)
		return
	}
	participant, ok := rm.Remove(nick)
	if !ok {
		return
	}
	participant.Available = false
	participant.Status = p.Status()
	r.publish(event.RoomParticipantLeft, nick+" has left "+rm.Name(),
		ParticipantEvent{Room: rm.Name(), Participant: participant})
}

func (r *Router) handleJoinError(rm *muc.Room, p *xmpp.Presence) {
	condition := xmppErrors.ErrUndefinedCondition.Reason()
	var text string
	if se := xmpp.NewStanzaErrorFromElement(p); se != nil {
		condition = se.Reason()
		text = se.Text()
	}
	if rm.State() == muc.Joined {
		// rejected nickname change
		r.publish(event.RoomNicknameInUse, "cannot change nickname in "+rm.Name()+": "+condition,
			RoomFailure{Room: rm.Name(), Nick: rm.Nick(), Condition: condition, Reason: text})
		return
	}
	if condition == xmpp.ErrConflict.Reason() {
		nickErr := xmppErrors.New(xmppErrors.NicknameInUse, "room joining", condition)
		r.publish(event.RoomNicknameInUse, fmt.Sprintf("%s: nickname %s is in use", rm.Name(), rm.Nick()),
			RoomFailure{Room: rm.Name(), Nick: rm.Nick(), Condition: condition, Reason: nickErr.Error()})

		if r.cfg.AutoSuffix && rm.NickRetries() < r.cfg.MaxNickRetries {
			retry := rm.IncNickRetries()
			base := r.nicks[rm.Name()]
			if p, ok := r.saved[rm.Name()]; ok {
				base = p.nick
			}
			nick := base + strconv.Itoa(retry+1)
			rm.SetNick(nick)
			if err := r.sendJoin(rm); err != nil {
				log.Error(err)
			}
			return
		}
	}
	delete(r.saved, rm.Name())
	delete(r.rooms, rm.Name())
	delete(r.nicks, rm.Name())
	rm.SetState(muc.Parted)
	r.publish(event.RoomJoinFailed, fmt.Sprintf("cannot join %s: %s", rm.Name(), condition),
		RoomFailure{Room: rm.Name(), Nick: rm.Nick(), Condition: condition, Reason: text})
}

// HandleMessage routes an incoming message to its room or query.
func (r *Router) HandleMessage(m *xmpp.Message) bool {
	from := m.FromJID()
	if from == nil {
		return false
	}
	if m.Type() == xmpp.ErrorType {
		var condition, text string
		if se := xmpp.NewStanzaErrorFromElement(m); se != nil {
			condition = se.Reason()
			text = se.Text()
		}
		r.publish(event.MessageError, fmt.Sprintf("message to %s failed: %s", from, condition),
			MessageError{From: from.String(), Condition: condition, Text: text})
		return true
	}
	rm := r.rooms[from.ToBareJID().String()]
	if rm != nil && m.IsGroupChat() {
		r.handleRoomMessage(rm, from.Resource(), m)
		return true
	}
	if m.IsGroupChat() {
		log.Debugf("router: discarding groupchat message from unknown room %s", from.ToBareJID())
		return true
	}
	private := rm != nil && len(from.Resource()) > 0
	if rm != nil && !private {
		// room service messages (invitations, configuration notices)
		return false
	}
	state, hasState := chatStateOf(m)
	body := m.Body()
	if len(body) == 0 && !hasState {
		return false
	}
	q := r.query(from, true)
	q.track(from)
	if hasState {
		q.setChatState(state)
		r.publish(event.QueryChatState, q.Name()+" is "+string(state), QueryChatState{Query: q.Name(), State: state})
	}
	if len(body) > 0 {
		stamp, delayed := xmpp.Delayed(m)
		if !delayed {
			stamp = time.Now()
		}
		r.publish(event.QueryMessage, "message from "+from.String(),
			QueryMessage{Query: q.Name(), From: from.String(), Body: body, Stamp: stamp, Delayed: delayed})
	}
	return true
}

func (r *Router) handleRoomMessage(rm *muc.Room, nick string, m *xmpp.Message) {
	if m.HasSubject() && len(m.Body()) == 0 {
		rm.SetTopic(m.Subject())
		r.publish(event.RoomTopic, "topic for "+rm.Name()+": "+m.Subject(),
			RoomTopic{Room: rm.Name(), Nick: nick, Topic: m.Subject()})
		return
	}
	body := m.Body()
	if len(body) == 0 {
		return
	}
	stamp, delayed := xmpp.Delayed(m)
	if !delayed {
		stamp = time.Now()
	}
	r.publish(event.RoomMessage, "message in "+rm.Name(), RoomMessage{
		Room:    rm.Name(),
		Nick:    nick,
		Body:    body,
		Own:     nick == rm.Nick(),
		Stamp:   stamp,
		Delayed: delayed,
	})
}

func (r *Router) query(peer *jid.JID, automatic bool) *Query {
	private := false
	if rm := r.rooms[peer.ToBareJID().String()]; rm != nil && len(peer.Resource()) > 0 {
		private = true
	}
	key := peer.ToBareJID().String()
	if private {
		key = peer.String()
	}
	if q := r.queries[key]; q != nil {
		return q
	}
	q := newQuery(r.connID, peer, private, automatic)
	r.queries[key] = q
	r.publish(event.QueryCreated, "query with "+key+" opened", key)
	return q
}

func (r *Router) lookupQuery(peer string) *Query {
	if q := r.queries[peer]; q != nil {
		return q
	}
	peerJID, err := jid.NewWithString(peer, false)
	if err != nil {
		return nil
	}
	if q := r.queries[peerJID.String()]; q != nil {
		return q
	}
	return r.queries[peerJID.ToBareJID().String()]
}

func (r *Router) sendJoin(rm *muc.Room) error {
	rm.Clear()
	return r.sender.SendElement(muc.JoinPresence(uuid.New().String(), rm.OccupantJID(rm.Nick()), rm.Password()))
}

func (r *Router) destroyRoom(rm *muc.Room, condition, reason string) {
	delete(r.rooms, rm.Name())
	rm.SetState(muc.Parted)
	rm.Clear()
	r.publish(event.RoomParted, "left "+rm.Name(), RoomFailure{Room: rm.Name(), Nick: rm.Nick(), Condition: condition, Reason: reason})
}

func (r *Router) publish(kind, text string, payload interface{}) {
	r.bus.Publish(event.Event{Kind: kind, ConnID: r.connID, Text: text, Payload: payload})
}

func chatStateOf(m *xmpp.Message) (ChatState, bool) {
	for _, child := range m.Elements().All() {
		if child.Namespace() == ChatStatesNamespace && isChatState(child.Name()) {
			return ChatState(child.Name()), true
		}
	}
	return ChatStateNone, false
}

func parseRoomJID(room string) (*jid.JID, error) {
	j, err := jid.NewWithString(room, false)
	if err != nil {
		return nil, err
	}
	if len(j.Node()) == 0 || len(j.Domain()) == 0 {
		return nil, fmt.Errorf("router: invalid room: %s", room)
	}
	return j.ToBareJID(), nil
}
