/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ortuman/xmppchat/c2s"
	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/ortuman/xmppchat/event"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/muc"
	"github.com/ortuman/xmppchat/ping"
	"github.com/ortuman/xmppchat/reconnect"
	"github.com/ortuman/xmppchat/roster"
	"github.com/ortuman/xmppchat/router"
	"github.com/ortuman/xmppchat/runqueue"
	"github.com/ortuman/xmppchat/session"
	"github.com/ortuman/xmppchat/transport"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

// State represents a connection state.
type State int

const (
	// Disconnected represents a connection with no live transport.
	Disconnected State = iota

	// Connecting represents a connection dialing the server.
	Connecting

	// Negotiating represents a connection negotiating its stream.
	Negotiating

	// Established represents a connection with an established session.
	Established

	// Disabled represents a connection that will not be retried.
	Disabled
)

// String returns State string representation.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Negotiating:
		return "negotiating"
	case Established:
		return "established"
	case Disabled:
		return "disabled"
	}
	return ""
}

var (
	// ErrNotEstablished is returned when an operation requires an established session.
	ErrNotEstablished = errors.New("conn: session not established")

	// ErrClosed is returned when operating over a closed connection.
	ErrClosed = errors.New("conn: connection closed")
)

type addressable interface {
	SetFromJID(j *jid.JID)
	SetToJID(j *jid.JID)
}

// Connection represents a client connection to an XMPP server.
// Every incoming element, timer and user operation is processed
// sequentially on the connection run queue.
type Connection struct {
	cfg    *Config
	id     string
	bus    *event.Bus
	dialer transport.Dialer
	rq     *runqueue.RunQueue

	closeOnce sync.Once
	quitCh    chan struct{}

	mu      sync.RWMutex
	state   State
	jid     *jid.JID
	secured bool
	lastErr error

	// run queue confined
	attempt    uint64
	cancelDial context.CancelFunc
	tr         transport.Transport
	sess       *session.Session
	neg        *c2s.Negotiator
	negCtx     context.Context
	negCancel  context.CancelFunc
	stepTm     *time.Timer
	stepGen    uint64
	iqs        map[string]func(*xmpp.IQ)
	handlers   []iqHandler
	show       xmpp.ShowState
	status     string

	roster *roster.Roster
	router *router.Router
	prober *ping.Prober
	rc     *reconnect.Manager
}

// New returns a new disconnected connection instance.
func New(cfg *Config, bus *event.Bus, dialer transport.Dialer) *Connection {
	id := cfg.Name()
	c := &Connection{
		cfg:      cfg,
		id:       id,
		bus:      bus,
		dialer:   dialer,
		rq:       runqueue.New("conn:" + id),
		quitCh:   make(chan struct{}),
		iqs:      make(map[string]func(*xmpp.IQ)),
		handlers: []iqHandler{newDiscoInfo(), &softwareVersion{}},
	}
	sender := &stanzaSender{c: c}
	c.roster = roster.New(id, cfg.Roster, bus)
	c.router = router.New(id, cfg.Router, bus, sender)
	c.prober = ping.New(cfg.Ping, c.rq, sender, cfg.JID.Domain(), c.onDead)
	c.rc = reconnect.New(cfg.Reconnect, func(gen uint64) {
		c.rq.Run(func() { c.attemptConnect(gen) })
	}, c.onAbandon)

	for _, r := range cfg.Rooms {
		if err := c.router.Remember(r.Room, r.Nick, r.Password); err != nil {
			log.Warnf("conn(%s): ignoring room %s: %v", id, r.Room, err)
		}
	}
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Config returns the connection configuration.
func (c *Connection) Config() *Config {
	return c.cfg
}

// State returns current connection state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// JID returns the negotiated full JID. It is nil until a session gets established.
func (c *Connection) JID() *jid.JID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jid
}

// Secured returns true if the current session runs over TLS.
func (c *Connection) Secured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secured
}

// LastError returns the cause of the last connection failure.
func (c *Connection) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ReconnectState returns a snapshot of the reconnection state.
func (c *Connection) ReconnectState() reconnect.State {
	return c.rc.State()
}

// Connect starts a connection attempt. It is a no-op if the connection is already active.
func (c *Connection) Connect() error {
	return c.exec(func() error {
		switch c.State() {
		case Connecting, Negotiating, Established:
			return nil
		}
		c.rc.Reconnect()
		return nil
	})
}

// Reconnect drops the current transport and connects again, resetting retry counters.
func (c *Connection) Reconnect() error {
	return c.exec(func() error {
		c.teardown(c.State() == Established)
		c.roster.ClearPresences()
		c.router.Suspend()
		c.setState(Disconnected, nil)
		c.rc.Reconnect()
		return nil
	})
}

// Disconnect closes the session, cancels pending reconnections and
// releases roster, room and query state.
func (c *Connection) Disconnect() error {
	return c.exec(func() error {
		c.disconnect()
		return nil
	})
}

// Close disconnects and releases the connection run queue.
// The connection cannot be used afterwards.
func (c *Connection) Close() error {
	err := c.Disconnect()
	c.closeOnce.Do(func() {
		c.rq.Stop(nil)
		close(c.quitCh)
	})
	return err
}

// Join joins a room. While the session is not established join parameters
// are kept, the room is joined once connected and ErrNotEstablished is returned.
func (c *Connection) Join(room, nick, password string) (*muc.Room, error) {
	var rm *muc.Room
	err := c.exec(func() error {
		if c.State() != Established {
			if err := c.router.Remember(room, nick, password); err != nil {
				return err
			}
			return ErrNotEstablished
		}
		var err error
		rm, err = c.router.Join(room, nick, password)
		return err
	})
	return rm, err
}

// Part leaves a room.
func (c *Connection) Part(room, reason string) error {
	return c.exec(func() error {
		return c.router.Part(room, reason)
	})
}

// Rooms returns every joined room.
func (c *Connection) Rooms() []*muc.Room {
	var rooms []*muc.Room
	_ = c.exec(func() error {
		rooms = c.router.Rooms()
		return nil
	})
	return rooms
}

// RoomMessage sends a message to a joined room.
func (c *Connection) RoomMessage(room, body string) error {
	return c.exec(func() error {
		return c.router.RoomMessage(room, body)
	})
}

// Query returns the query associated to a peer, creating it if needed.
func (c *Connection) Query(peer string, automatic bool) (*router.Query, error) {
	var q *router.Query
	err := c.exec(func() error {
		var err error
		q, err = c.router.Query(peer, automatic)
		return err
	})
	return q, err
}

// Queries returns every open query.
func (c *Connection) Queries() []*router.Query {
	var queries []*router.Query
	_ = c.exec(func() error {
		queries = c.router.Queries()
		return nil
	})
	return queries
}

// CloseQuery closes the query associated to a peer.
func (c *Connection) CloseQuery(peer string) error {
	return c.exec(func() error {
		c.router.CloseQuery(peer)
		return nil
	})
}

// QueryMessage sends a chat message to a peer.
func (c *Connection) QueryMessage(peer, body string) error {
	return c.exec(func() error {
		return c.router.QueryMessage(peer, body)
	})
}

// ChatState sends a chat state notification to a peer.
func (c *Connection) ChatState(peer string, state router.ChatState) error {
	return c.exec(func() error {
		return c.router.ChatState(peer, state)
	})
}

// RosterItems returns every roster item.
func (c *Connection) RosterItems() []roster.Item {
	var items []roster.Item
	_ = c.exec(func() error {
		items = c.roster.Items()
		return nil
	})
	return items
}

// ActiveResource returns the highest priority available resource of a contact.
func (c *Connection) ActiveResource(bare string) (roster.Resource, bool) {
	var res roster.Resource
	var ok bool
	_ = c.exec(func() error {
		res, ok = c.roster.Active(bare)
		return nil
	})
	return res, ok
}

// Subscribe requests a presence subscription to a contact.
func (c *Connection) Subscribe(bare string) error {
	return c.exec(func() error {
		return c.send(c.roster.Subscribe(bare))
	})
}

// Approve approves a contact subscription request.
func (c *Connection) Approve(bare string) error {
	return c.exec(func() error {
		return c.send(c.roster.Approve(bare))
	})
}

// Deny denies a contact subscription request.
func (c *Connection) Deny(bare string) error {
	return c.exec(func() error {
		return c.send(c.roster.Deny(bare))
	})
}

// Unsubscribe cancels the presence subscription to a contact.
func (c *Connection) Unsubscribe(bare string) error {
	return c.exec(func() error {
		return c.send(c.roster.Unsubscribe(bare))
	})
}

// SetRosterItem adds or updates a roster item.
func (c *Connection) SetRosterItem(bare, name string, groups []string) error {
	return c.exec(func() error {
		iq, err := c.roster.SetItemIQ(bare, name, groups)
		if err != nil {
			return err
		}
		return c.sendIQ(iq, c.logIQError("roster set"))
	})
}

// RemoveRosterItem removes a roster item.
func (c *Connection) RemoveRosterItem(bare string) error {
	return c.exec(func() error {
		iq, err := c.roster.RemoveItemIQ(bare)
		if err != nil {
			return err
		}
		return c.sendIQ(iq, c.logIQError("roster remove"))
	})
}

// SetPresence updates own presence. It is broadcast immediately if
// the session is established, or on next session establishment otherwise.
func (c *Connection) SetPresence(show xmpp.ShowState, status string) error {
	return c.exec(func() error {
		c.show = show
		c.status = status
		if c.State() != Established {
			return nil
		}
		return c.send(c.presence())
	})
}

func (c *Connection) exec(fn func() error) error {
	errCh := make(chan error, 1)
	c.rq.Run(func() {
		errCh <- fn()
	})
	select {
	case err := <-errCh:
		return err
	case <-c.quitCh:
		return ErrClosed
	}
}

// attemptConnect runs an attempt issued by the reconnection manager, unless
// a disconnect or a newer attempt was queued in between.
func (c *Connection) attemptConnect(gen uint64) {
	if !c.rc.Current(gen) {
		log.Debugf("conn(%s): dropping stale connection attempt", c.id)
		return
	}
	c.connect()
}

func (c *Connection) connect() {
	c.teardown(false)

	c.attempt++
	att := c.attempt
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel

	domain := c.cfg.JID.Domain()
	c.setState(Connecting, nil)
	c.publish(event.ConnectionConnecting, fmt.Sprintf("connecting to %s", domain), nil)
	log.Infof("conn(%s): connecting to %s", c.id, domain)

	go func() {
		nc, err := c.dialer.Dial(ctx, domain, c.cfg.Address)
		c.rq.Run(func() {
			if att != c.attempt {
				if nc != nil {
					_ = nc.Close()
				}
				return
			}
			cancel()
			c.cancelDial = nil
			if err != nil {
				c.fail(xmppErrors.Wrap(xmppErrors.TransportError, "connecting", err))
				return
			}
			c.negotiate(att, nc)
		})
	}()
}

func (c *Connection) negotiate(att uint64, nc net.Conn) {
	c.tr = transport.NewSocketTransport(nc, c.cfg.WriteTimeout)
	c.sess = session.New(c.id, &session.Config{
		Domain:        c.cfg.JID.Domain(),
		Language:      c.cfg.C2S.Language,
		Transport:     c.tr,
		MaxStanzaSize: c.cfg.MaxStanzaSize,
	})
	creds := c2s.Credentials{JID: c.cfg.JID.ToBareJID(), Password: c.cfg.Password}
	c.neg = c2s.NewNegotiator(c.cfg.C2S, creds, &negotiationStream{tr: c.tr, sess: c.sess})
	c.negCtx, c.negCancel = context.WithCancel(context.Background())

	c.setState(Negotiating, nil)
	if err := c.neg.Start(c.negCtx); err != nil {
		c.fail(err)
		return
	}
	c.armStepTimer()
	go c.readLoop(att, c.sess)
}

// readLoop waits for every element to be processed before reading the next one,
// so that transport upgrades and stream restarts never race with reads.
func (c *Connection) readLoop(att uint64, sess *session.Session) {
	for {
		elem, err := sess.Receive()
		doneCh := make(chan bool, 1)
		c.rq.Run(func() {
			if att != c.attempt {
				doneCh <- false
				return
			}
			if err != nil {
				c.fail(c.negotiationError(err))
			} else {
				c.handleElement(elem)
			}
			doneCh <- att == c.attempt
		})
		select {
		case cont := <-doneCh:
			if !cont {
				return
			}
		case <-c.quitCh:
			return
		}
	}
}

func (c *Connection) handleElement(elem xmpp.XElement) {
	if c.neg.State() != c2s.SessionEstablished {
		if err := c.neg.Process(c.negCtx, elem); err != nil {
			c.fail(err)
			return
		}
		if c.neg.State() == c2s.SessionEstablished {
			c.established()
			return
		}
		c.armStepTimer()
		return
	}
	c.prober.Received()

	switch stanza := elem.(type) {
	case *xmpp.IQ:
		c.handleIQ(stanza)
	case *xmpp.Presence:
		c.handlePresence(stanza)
	case *xmpp.Message:
		c.handleMessage(stanza)
	default:
		log.Debugf("conn(%s): ignoring %s element", c.id, elem.Name())
	}
}

func (c *Connection) handleIQ(iq *xmpp.IQ) {
	if c.prober.HandleIQ(iq) {
		return
	}
	if iq.IsResult() || iq.IsError() {
		cb, ok := c.iqs[iq.ID()]
		if !ok {
			log.Debugf("conn(%s): unexpected iq response: %s", c.id, iq.ID())
			return
		}
		delete(c.iqs, iq.ID())
		cb(iq)
		return
	}
	if iq.IsSet() && iq.Elements().ChildNamespace("query", roster.Namespace) != nil {
		res, err := c.roster.HandlePush(iq)
		if err == roster.ErrForeignPush {
			log.Warnf("conn(%s): ignoring roster push from %s", c.id, iq.From())
			return
		}
		if err != nil {
			log.Warnf("conn(%s): invalid roster push: %v", c.id, err)
		}
		c.reply(res)
		return
	}
	for _, h := range c.handlers {
		if h.MatchesIQ(iq) {
			c.reply(h.ProcessIQ(iq))
			return
		}
	}
	c.reply(iq.ServiceUnavailableError())
}

func (c *Connection) handlePresence(p *xmpp.Presence) {
	if c.router.HandlePresence(p) {
		return
	}
	if reply := c.roster.HandlePresence(p); reply != nil {
		c.reply(reply)
	}
}

func (c *Connection) handleMessage(m *xmpp.Message) {
	if !c.router.HandleMessage(m) {
		log.Debugf("conn(%s): unhandled message from %s", c.id, m.From())
	}
}

func (c *Connection) established() {
	c.stopStepTimer()

	j := c.neg.JID()
	c.sess.SetJID(j)
	c.mu.Lock()
	c.state = Established
	c.jid = j
	c.secured = c.neg.Secured()
	c.lastErr = nil
	c.mu.Unlock()

	c.rc.Succeeded()
	c.roster.SetJID(j)
	c.requestRoster()
	c.reply(c.presence())
	c.prober.Start()
	c.router.Rejoin()

	log.Infof("conn(%s): session established as %s (tls: %t, mechanism: %s)", c.id, j, c.neg.Secured(), c.neg.Mechanism())
	c.publish(event.ConnectionEstablished, fmt.Sprintf("connected to %s as %s", j.Domain(), j), j.String())
}

func (c *Connection) requestRoster() {
	iq := c.roster.RequestIQ(uuid.New().String())
	err := c.sendIQ(iq, func(res *xmpp.IQ) {
		if res == nil {
			return
		}
		if err := c.roster.HandleResult(res); err != nil {
			log.Warnf("conn(%s): %v", c.id, err)
		}
	})
	if err != nil {
		log.Error(err)
	}
}

func (c *Connection) presence() *xmpp.Presence {
	p := xmpp.NewPresence(nil, nil, xmpp.AvailableType)
	p.SetShowState(c.show)
	if len(c.status) > 0 {
		p.SetStatus(c.status)
	}
	if c.cfg.Priority != 0 {
		p.SetPriority(c.cfg.Priority)
	}
	return p
}

func (c *Connection) sendIQ(iq *xmpp.IQ, cb func(*xmpp.IQ)) error {
	if err := c.send(iq); err != nil {
		return err
	}
	c.iqs[iq.ID()] = cb
	return nil
}

func (c *Connection) logIQError(op string) func(*xmpp.IQ) {
	return func(res *xmpp.IQ) {
		if res == nil || !res.IsError() {
			return
		}
		reason := xmppErrors.ErrUndefinedCondition.Reason()
		if se := xmpp.NewStanzaErrorFromElement(res); se != nil {
			reason = se.Reason()
		}
		log.Warnf("conn(%s): %s failed: %s", c.id, op, reason)
	}
}

func (c *Connection) reply(stanza xmpp.Stanza) {
	if stanza == nil {
		return
	}
	if err := c.send(stanza); err != nil {
		log.Error(err)
	}
}

// send writes an element over the established session. Sender address is
// left to the server, as it is the own bare JID recipient on replies.
func (c *Connection) send(elem xmpp.XElement) error {
	if c.sess == nil || c.State() != Established {
		return ErrNotEstablished
	}
	if a, ok := elem.(addressable); ok {
		a.SetFromJID(nil)
		if stanza, ok := elem.(xmpp.Stanza); ok && (elem.IsError() || elem.Type() == xmpp.ResultType) {
			if to := stanza.ToJID(); to != nil && c.jid != nil && to.Equal(c.jid.ToBareJID()) {
				a.SetToJID(nil)
			}
		}
	}
	if err := c.sess.Send(elem); err != nil {
		return err
	}
	c.prober.Sent()
	return nil
}

func (c *Connection) armStepTimer() {
	c.stopStepTimer()
	d := c.neg.Timeout()
	if d == 0 {
		return
	}
	att := c.attempt
	gen := c.stepGen
	c.stepTm = time.AfterFunc(d, func() {
		c.rq.Run(func() {
			if att != c.attempt || gen != c.stepGen {
				return
			}
			timeout := xmppErrors.Wrap(xmppErrors.TransportError, "", xmppErrors.ErrConnectionTimeout)
			c.fail(c.neg.Fail(timeout))
		})
	})
}

func (c *Connection) stopStepTimer() {
	c.stepGen++
	if c.stepTm != nil {
		c.stepTm.Stop()
		c.stepTm = nil
	}
}

// negotiationError tags read errors with the failed negotiation phase.
func (c *Connection) negotiationError(err error) error {
	if c.neg != nil && c.neg.State() != c2s.SessionEstablished {
		return c.neg.Fail(err)
	}
	return err
}

func (c *Connection) fail(err error) {
	graceful := xmppErrors.KindOf(err) != xmppErrors.TransportError && c.sess != nil
	c.teardown(graceful)
	c.roster.ClearPresences()
	c.router.Suspend()
	c.setState(Disconnected, err)

	log.Infof("conn(%s): connection failed: %v", c.id, err)
	c.publish(event.ConnectionFailed, fmt.Sprintf("connection to %s failed: %v", c.cfg.JID.Domain(), err), err)

	if d, ok := c.rc.Failed(err); ok {
		c.publish(event.ConnectionReconnectScheduled, fmt.Sprintf("reconnecting in %v", d.Round(time.Millisecond)), d)
	}
}

// onAbandon is invoked by the reconnection manager from within fail.
func (c *Connection) onAbandon(err error) {
	c.roster.Reset()
	c.router.Reset()
	c.setState(Disabled, err)
	c.publish(event.ConnectionAbandoned, fmt.Sprintf("connection to %s abandoned: %v", c.cfg.JID.Domain(), err), err)
}

func (c *Connection) onDead() {
	c.fail(xmppErrors.Wrap(xmppErrors.TransportError, "ping", xmppErrors.ErrConnectionTimeout))
}

func (c *Connection) disconnect() {
	c.rc.Cancel()
	if c.State() == Established {
		c.reply(xmpp.NewPresence(nil, nil, xmpp.UnavailableType))
	}
	c.teardown(c.sess != nil)
	c.roster.Reset()
	c.router.Reset()
	c.setState(Disconnected, nil)
	c.publish(event.ConnectionDisconnected, fmt.Sprintf("disconnected from %s", c.cfg.JID.Domain()), nil)
}

// teardown releases the current attempt. Callbacks bound to it are ignored from now on.
func (c *Connection) teardown(graceful bool) {
	c.attempt++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.negCancel != nil {
		c.negCancel()
		c.negCancel = nil
	}
	c.stopStepTimer()
	c.prober.Stop()

	iqs := c.iqs
	c.iqs = make(map[string]func(*xmpp.IQ))
	for _, cb := range iqs {
		cb(nil)
	}
	if c.sess != nil && graceful {
		_ = c.sess.Close()
	}
	if c.tr != nil {
		_ = c.tr.Close()
	}
	c.tr = nil
	c.sess = nil
	c.neg = nil
}

func (c *Connection) setState(st State, err error) {
	c.mu.Lock()
	c.state = st
	if st != Established {
		c.jid = nil
		c.secured = false
	}
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
}

func (c *Connection) publish(kind, text string, payload interface{}) {
	c.bus.Publish(event.Event{Kind: kind, ConnID: c.id, Text: text, Payload: payload})
}
