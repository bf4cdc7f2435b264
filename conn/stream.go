/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package conn

import (
	"context"
	"crypto/tls"

	"github.com/ortuman/xmppchat/session"
	"github.com/ortuman/xmppchat/transport"
	"github.com/ortuman/xmppchat/xmpp"
)

// negotiationStream exposes the current transport and session to the stream negotiator.
type negotiationStream struct {
	tr   transport.Transport
	sess *session.Session
}

func (s *negotiationStream) OpenStream() error {
	return s.sess.Open()
}

func (s *negotiationStream) SendElement(elem xmpp.XElement) error {
	return s.sess.Send(elem)
}

func (s *negotiationStream) StartTLS(ctx context.Context, cfg *tls.Config) error {
	return s.tr.StartTLS(ctx, cfg)
}

func (s *negotiationStream) ConnectionState() (tls.ConnectionState, bool) {
	return s.tr.ConnectionState()
}

// stanzaSender sends traffic over an established session on behalf of
// the roster, router and prober. It must only be used from the run queue.
type stanzaSender struct {
	c *Connection
}

func (s *stanzaSender) SendElement(elem xmpp.XElement) error {
	return s.c.send(elem)
}

func (s *stanzaSender) SendWhitespace() error {
	if s.c.sess == nil {
		return ErrNotEstablished
	}
	return s.c.sess.SendWhitespace()
}
