/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package session

import (
	"io"
	"net"
	"strings"
	"sync"

	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/transport"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
	"github.com/pkg/errors"
)

const (
	jabberClientNamespace = "jabber:client"
	streamNamespace       = "http://etherx.jabber.org/streams"
)

// ErrNotOpened is returned when sending over a session whose stream has not been opened.
var ErrNotOpened = errors.New("session: stream not opened")

type attributeRemover interface {
	RemoveAttribute(label string) *xmpp.Element
}

// A Config structure is used to configure an XMPP client session.
type Config struct {
	// Domain is the server domain used as stream 'to' attribute.
	Domain string

	// Language is the optional stream 'xml:lang' attribute.
	Language string

	// Transport provides the underlying session transport
	// that will be used to send and received elements.
	Transport transport.Transport

	// MaxStanzaSize defines the maximum stanza size that
	// can be read from the session transport.
	MaxStanzaSize int
}

// Session represents the client side of an XMPP stream.
type Session struct {
	id            string
	tr            transport.Transport
	domain        string
	lang          string
	maxStanzaSize int

	mu       sync.RWMutex
	pr       *xmpp.Parser
	opened   bool
	streamID string
	sJID     *jid.JID
}

// New creates a new session instance.
func New(id string, config *Config) *Session {
	return &Session{
		id:            id,
		tr:            config.Transport,
		domain:        config.Domain,
		lang:          config.Language,
		maxStanzaSize: config.MaxStanzaSize,
	}
}

// ID returns the session identifier used in traffic logs.
func (s *Session) ID() string {
	return s.id
}

// StreamID returns the identifier assigned by the server to the current stream.
func (s *Session) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

// SetJID updates current session JID. Incoming stanzas with no 'from'
// attribute are considered to be sent by its bare JID.
func (s *Session) SetJID(sessionJID *jid.JID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sJID = sessionJID
}

// JID returns current session JID.
func (s *Session) JID() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sJID
}

// Open sends a new stream header. Every call starts a fresh
// parser, so it serves for both initial open and stream restarts.
func (s *Session) Open() error {
	ops := xmpp.NewElementName("stream:stream")
	ops.SetAttribute("xmlns", jabberClientNamespace)
	ops.SetAttribute("xmlns:stream", streamNamespace)
	ops.SetAttribute("to", s.domain)
	ops.SetAttribute("version", "1.0")
	if len(s.lang) > 0 {
		ops.SetAttribute("xml:lang", s.lang)
	}
	if j := s.JID(); j != nil && len(j.Node()) > 0 {
		ops.SetAttribute("from", j.ToBareJID().String())
	}
	buf := &strings.Builder{}
	buf.WriteString(`<?xml version='1.0'?>`)
	ops.ToXML(buf, false)

	s.mu.Lock()
	s.pr = xmpp.NewParser(s.tr, xmpp.SocketStream, s.maxStanzaSize)
	s.opened = true
	s.streamID = ""
	s.mu.Unlock()

	openStr := buf.String()
	log.Debugf("SEND(%s): %s", s.id, openStr)
	return s.tr.WriteString(openStr)
}

// Close sends the closing stream tag.
// Is responsibility of the caller to close underlying transport.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpened
	}
	s.opened = false
	s.mu.Unlock()

	log.Debugf("SEND(%s): </stream:stream>", s.id)
	return s.tr.WriteString("</stream:stream>")
}

// Send writes an XML element to the underlying session transport.
func (s *Session) Send(elem xmpp.XElement) error {
	if !s.isOpened() {
		return ErrNotOpened
	}
	// stanzas inherit the stream default namespace
	if e, ok := elem.(attributeRemover); elem.IsStanza() && ok {
		e.RemoveAttribute("xmlns")
	}
	log.Debugf("SEND(%s): %v", s.id, elem)
	return s.tr.WriteElement(elem, true)
}

// SendWhitespace writes a single whitespace keepalive.
func (s *Session) SendWhitespace() error {
	if !s.isOpened() {
		return ErrNotOpened
	}
	return s.tr.WriteString(" ")
}

// Receive returns next incoming session element. Stanzas are returned
// as *xmpp.IQ, *xmpp.Presence or *xmpp.Message values.
// A received 'stream:error' is returned as a protocol error.
func (s *Session) Receive() (xmpp.XElement, error) {
	s.mu.RLock()
	pr := s.pr
	s.mu.RUnlock()
	if pr == nil {
		return nil, ErrNotOpened
	}
	for {
		elem, err := pr.ParseElement()
		if err != nil {
			return nil, s.mapError(err)
		}
		log.Debugf("RECV(%s): %v", s.id, elem)

		switch {
		case elem.Name() == "stream:stream":
			s.mu.Lock()
			s.streamID = elem.ID()
			s.mu.Unlock()
			return elem, nil

		case elem.Name() == "stream:error":
			return nil, xmppErrors.NewStreamErrorFromElement(elem).ProtocolError("")

		case elem.IsStanza():
			stanza, err := s.buildStanza(elem)
			if err != nil {
				if xmppErrors.KindOf(err) == xmppErrors.ProtocolError {
					return nil, err
				}
				log.Warnf("%s: discarding invalid stanza: %v", s.id, err)
				continue
			}
			return stanza, nil
		}
		return elem, nil
	}
}

func (s *Session) buildStanza(elem xmpp.XElement) (xmpp.Stanza, error) {
	if ns := elem.Namespace(); len(ns) > 0 && ns != jabberClientNamespace {
		return nil, xmppErrors.ErrInvalidNamespace.ProtocolError("")
	}
	fromJID, toJID, err := s.extractAddresses(elem)
	if err != nil {
		return nil, err
	}
	switch elem.Name() {
	case xmpp.IQName:
		return xmpp.NewIQFromElement(elem, fromJID, toJID)
	case xmpp.PresenceName:
		return xmpp.NewPresenceFromElement(elem, fromJID, toJID)
	default:
		return xmpp.NewMessageFromElement(elem, fromJID, toJID)
	}
}

func (s *Session) extractAddresses(elem xmpp.XElement) (fromJID *jid.JID, toJID *jid.JID, err error) {
	own := s.JID()
	if from := elem.From(); len(from) > 0 {
		if fromJID, err = jid.NewWithString(from, false); err != nil {
			return nil, nil, err
		}
	} else if own != nil {
		fromJID = own.ToBareJID()
	} else {
		fromJID, _ = jid.New("", s.domain, "", true)
	}
	if to := elem.To(); len(to) > 0 {
		if toJID, err = jid.NewWithString(to, false); err != nil {
			return nil, nil, err
		}
	} else if own != nil {
		toJID = own
	} else {
		toJID = &jid.JID{}
	}
	return fromJID, toJID, nil
}

func (s *Session) isOpened() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened
}

func (s *Session) mapError(err error) error {
	switch err {
	case xmpp.ErrStreamClosedByPeer:
		return xmppErrors.Wrap(xmppErrors.TransportError, "", err)
	case xmpp.ErrTooLargeStanza:
		return xmppErrors.ErrPolicyViolation.ProtocolError("")
	case io.EOF, io.ErrUnexpectedEOF:
		return xmppErrors.Wrap(xmppErrors.TransportError, "", err)
	}
	var merr *xmpp.MalformedError
	if errors.As(err, &merr) {
		e := xmppErrors.Wrap(xmppErrors.MalformedStanza, "", merr.Err)
		e.Raw = merr.Raw
		return e
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return xmppErrors.Wrap(xmppErrors.TransportError, "", xmppErrors.ErrConnectionTimeout)
	}
	return xmppErrors.Wrap(xmppErrors.TransportError, "", err)
}
