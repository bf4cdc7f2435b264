/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	opened   int
	tlsCalls int
	tlsErr   error
	sent     []xmpp.XElement
}

func (s *fakeStream) OpenStream() error {
	s.opened++
	return nil
}

func (s *fakeStream) SendElement(elem xmpp.XElement) error {
	s.sent = append(s.sent, elem)
	return nil
}

func (s *fakeStream) StartTLS(_ context.Context, _ *tls.Config) error {
	s.tlsCalls++
	return s.tlsErr
}

func (s *fakeStream) ConnectionState() (tls.ConnectionState, bool) {
	return tls.ConnectionState{}, s.tlsCalls > 0 && s.tlsErr == nil
}

func (s *fakeStream) last() xmpp.XElement {
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func parse(t *testing.T, doc string) xmpp.XElement {
	t.Helper()
	p := xmpp.NewParser(bytes.NewBufferString(doc), xmpp.DefaultMode, 0)
	elem, err := p.ParseElement()
	require.Nil(t, err)
	return elem
}

func serverHeader() *xmpp.Element {
	hdr := xmpp.NewElementNamespace("stream:stream", "jabber:client")
	hdr.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	hdr.SetVersion("1.0")
	hdr.SetID("s1")
	hdr.SetFrom("example.org")
	return hdr
}

const (
	tlsFeatures = `<stream:features><starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'><required/></starttls>` +
		`<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>`
	plainFeatures = `<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>` +
		`<mechanism>PLAIN</mechanism></mechanisms></stream:features>`
	scramFeatures = `<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>` +
		`<mechanism>PLAIN</mechanism><mechanism>SCRAM-SHA-1</mechanism></mechanisms></stream:features>`
	bindFeatures = `<stream:features><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/></stream:features>`
	sessFeatures = `<stream:features><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/>` +
		`<session xmlns='urn:ietf:params:xml:ns:xmpp-session'/></stream:features>`
	optSessFeatures = `<stream:features><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/>` +
		`<session xmlns='urn:ietf:params:xml:ns:xmpp-session'><optional/></session></stream:features>`
)

func newTestNegotiator(cfg *Config) (*Negotiator, *fakeStream) {
	account, _ := jid.NewWithString("alice@example.org", false)
	st := &fakeStream{}
	return NewNegotiator(cfg, Credentials{JID: account, Password: "secret"}, st), st
}

func bindResult(id, fullJID string) string {
	return `<iq type='result' id='` + id + `'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>` +
		fullJID + `</jid></bind></iq>`
}

func TestNegotiator_FullFlow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resource = "laptop"
	n, st := newTestNegotiator(cfg)
	ctx := context.Background()

	require.Nil(t, n.Start(ctx))
	require.Equal(t, StreamOpening, n.State())
	require.Equal(t, cfg.StreamTimeout, n.Timeout())
	require.Equal(t, 1, st.opened)

	require.Nil(t, n.Process(ctx, serverHeader()))
	require.Nil(t, n.Process(ctx, parse(t, tlsFeatures)))
	require.Equal(t, TLSUpgrading, n.State())
	require.Equal(t, "starttls", st.last().Name())

	require.Nil(t, n.Process(ctx, parse(t, `<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`)))
	require.True(t, n.Secured())
	require.Equal(t, 1, st.tlsCalls)
	require.Equal(t, 2, st.opened)
	require.Equal(t, StreamOpening, n.State())

	require.Nil(t, n.Process(ctx, serverHeader()))
	require.Nil(t, n.Process(ctx, parse(t, plainFeatures)))
	require.Equal(t, SASLExchanging, n.State())
	require.Equal(t, cfg.SASLTimeout, n.Timeout())
	require.Equal(t, "PLAIN", n.Mechanism())

	auth := st.last()
	require.Equal(t, "auth", auth.Name())
	require.Equal(t, "PLAIN", auth.Attributes().Get("mechanism"))
	payload, err := base64.StdEncoding.DecodeString(auth.Text())
	require.Nil(t, err)
	require.Equal(t, "\x00alice\x00secret", string(payload))

	require.Nil(t, n.Process(ctx, parse(t, `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`)))
	require.True(t, n.Authenticated())
	require.Equal(t, StreamRestarting, n.State())
	require.Equal(t, 3, st.opened)

	require.Nil(t, n.Process(ctx, serverHeader()))
	require.Nil(t, n.Process(ctx, parse(t, sessFeatures)))
	require.Equal(t, ResourceBinding, n.State())
	require.Equal(t, cfg.BindTimeout, n.Timeout())

	bindIQ := st.last()
	require.Equal(t, "iq", bindIQ.Name())
	require.Equal(t, "set", bindIQ.Type())
	bind := bindIQ.Elements().ChildNamespace("bind", bindNamespace)
	require.NotNil(t, bind)
	require.Equal(t, "laptop", bind.Elements().Child("resource").Text())

	require.Nil(t, n.JID())
	require.Nil(t, n.Process(ctx, parse(t, bindResult(bindIQ.ID(), "alice@example.org/laptop"))))
	require.Equal(t, SessionStarting, n.State())

	sessIQ := st.last()
	require.NotNil(t, sessIQ.Elements().ChildNamespace("session", sessionNamespace))

	require.Nil(t, n.Process(ctx, parse(t, `<iq type='result' id='`+sessIQ.ID()+`'/>`)))
	require.Equal(t, SessionEstablished, n.State())
	require.Equal(t, "alice@example.org/laptop", n.JID().String())
	require.Equal(t, "laptop", n.JID().Resource())
	require.Equal(t, int64(0), int64(n.Timeout()))
}

func TestNegotiator_OptionalSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLS = TLSDisabled
	cfg.AllowPlainWithoutTLS = true
	n, st := newTestNegotiator(cfg)
	ctx := context.Background()

	n.Start(ctx)
	n.Process(ctx, serverHeader())
	require.Nil(t, n.Process(ctx, parse(t, plainFeatures)))
	require.False(t, n.Secured())
	n.Process(ctx, parse(t, `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`))
	n.Process(ctx, serverHeader())
	require.Nil(t, n.Process(ctx, parse(t, optSessFeatures)))

	// no resource configured means server assigned
	bind := st.last().Elements().ChildNamespace("bind", bindNamespace)
	require.Nil(t, bind.Elements().Child("resource"))

	require.Nil(t, n.Process(ctx, parse(t, bindResult(st.last().ID(), "alice@example.org/abc"))))
	require.Equal(t, SessionEstablished, n.State())
	require.Equal(t, "abc", n.JID().Resource())
}

func TestNegotiator_TLSPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiredNotOffered", func(t *testing.T) {
		n, _ := newTestNegotiator(DefaultConfig())
		n.Start(ctx)
		n.Process(ctx, serverHeader())
		err := n.Process(ctx, parse(t, plainFeatures))
		require.Equal(t, xmppErrors.TLSError, xmppErrors.KindOf(err))
		require.Equal(t, Failed, n.State())
		require.Equal(t, StreamOpening, n.Failure().State)
	})
	t.Run("DisabledButServerRequires", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TLS = TLSDisabled
		n, st := newTestNegotiator(cfg)
		n.Start(ctx)
		n.Process(ctx, serverHeader())
		err := n.Process(ctx, parse(t, tlsFeatures))
		require.Equal(t, xmppErrors.TLSError, xmppErrors.KindOf(err))
		require.Equal(t, 0, len(st.sent))
	})
	t.Run("OptionalNotOffered", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TLS = TLSOptional
		n, _ := newTestNegotiator(cfg)
		n.Start(ctx)
		n.Process(ctx, serverHeader())

		// PLAIN over an unsecured stream is refused
		err := n.Process(ctx, parse(t, plainFeatures))
		require.Equal(t, xmppErrors.AuthUnavailable, xmppErrors.KindOf(err))
		require.True(t, xmppErrors.IsPermanent(err))
	})
	t.Run("HandshakeFailure", func(t *testing.T) {
		n, st := newTestNegotiator(DefaultConfig())
		st.tlsErr = errors.New("x509: certificate signed by unknown authority")
		n.Start(ctx)
		n.Process(ctx, serverHeader())
		n.Process(ctx, parse(t, tlsFeatures))
		err := n.Process(ctx, parse(t, `<proceed xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`))
		require.Equal(t, xmppErrors.TLSError, xmppErrors.KindOf(err))
		require.Equal(t, TLSUpgrading, n.Failure().State)
		require.False(t, n.Secured())
	})
	t.Run("ServerFailure", func(t *testing.T) {
		n, _ := newTestNegotiator(DefaultConfig())
		n.Start(ctx)
		n.Process(ctx, serverHeader())
		n.Process(ctx, parse(t, tlsFeatures))
		err := n.Process(ctx, parse(t, `<failure xmlns='urn:ietf:params:xml:ns:xmpp-tls'/>`))
		require.Equal(t, xmppErrors.TLSError, xmppErrors.KindOf(err))
	})
}

func TestNegotiator_InvalidHeader(t *testing.T) {
	ctx := context.Background()

	n, _ := newTestNegotiator(DefaultConfig())
	n.Start(ctx)
	hdr := serverHeader()
	hdr.SetNamespace("jabber:server")
	err := n.Process(ctx, hdr)

	var e *xmppErrors.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, xmppErrors.ProtocolError, e.Kind)
	require.Equal(t, "invalid-namespace", e.Condition)
	require.Equal(t, "stream opening", e.Phase)

	n, _ = newTestNegotiator(DefaultConfig())
	n.Start(ctx)
	hdr = serverHeader()
	hdr.SetVersion("0.9")
	err = n.Process(ctx, hdr)
	require.True(t, errors.As(err, &e))
	require.Equal(t, "unsupported-version", e.Condition)
}

func TestNegotiator_AuthFailure(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.TLS = TLSDisabled
	cfg.AllowPlainWithoutTLS = true

	n, _ := newTestNegotiator(cfg)
	n.Start(ctx)
	n.Process(ctx, serverHeader())
	n.Process(ctx, parse(t, plainFeatures))
	err := n.Process(ctx, parse(t, `<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>`+
		`<account-disabled/><text xml:lang='en'>Call support</text></failure>`))

	var e *xmppErrors.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, xmppErrors.AuthFailed, e.Kind)
	require.Equal(t, "account-disabled", e.Condition)
	require.Equal(t, "Call support", e.Text)
	require.True(t, xmppErrors.IsPermanent(err))
	require.Equal(t, SASLExchanging, n.Failure().State)
	require.False(t, n.Authenticated())

	// elements after failure are ignored
	require.Nil(t, n.Process(ctx, serverHeader()))
	require.Equal(t, Failed, n.State())
}

func TestNegotiator_EmptyPassword(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.TLS = TLSDisabled
	cfg.AllowPlainWithoutTLS = true

	account, _ := jid.NewWithString("alice@example.org", false)
	st := &fakeStream{}
	n := NewNegotiator(cfg, Credentials{JID: account}, st)
	n.Start(ctx)
	n.Process(ctx, serverHeader())
	err := n.Process(ctx, parse(t, plainFeatures))
	require.Equal(t, xmppErrors.AuthUnavailable, xmppErrors.KindOf(err))
	require.Equal(t, 0, len(st.sent))
}

func TestNegotiator_ScramExchange(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.TLS = TLSDisabled

	n, st := newTestNegotiator(cfg)
	n.Start(ctx)
	n.Process(ctx, serverHeader())
	require.Nil(t, n.Process(ctx, parse(t, scramFeatures)))
	require.Equal(t, "SCRAM-SHA-1", n.Mechanism())

	auth := st.last()
	require.Equal(t, "SCRAM-SHA-1", auth.Attributes().Get("mechanism"))
	clientFirst, err := base64.StdEncoding.DecodeString(auth.Text())
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(string(clientFirst), "n,,n=alice,r="))

	clientNonce := strings.TrimPrefix(string(clientFirst), "n,,n=alice,r=")
	serverFirst := "r=" + clientNonce + "srvnonce,s=" + base64.StdEncoding.EncodeToString([]byte("salt")) + ",i=4096"
	require.Nil(t, n.Process(ctx, parse(t, `<challenge xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>`+
		base64.StdEncoding.EncodeToString([]byte(serverFirst))+`</challenge>`)))

	resp := st.last()
	require.Equal(t, "response", resp.Name())
	clientFinal, err := base64.StdEncoding.DecodeString(resp.Text())
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(string(clientFinal), "c=biws,r="+clientNonce+"srvnonce,p="))

	// a forged server signature must be rejected
	err = n.Process(ctx, parse(t, `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'>`+
		base64.StdEncoding.EncodeToString([]byte("v=Zm9yZ2Vk"))+`</success>`))
	require.Equal(t, xmppErrors.AuthFailed, xmppErrors.KindOf(err))
	require.False(t, n.Authenticated())
}

func TestNegotiator_BindConflict(t *testing.T) {
	ctx := context.Background()
	conflict := func(id string) string {
		return `<iq type='error' id='` + id + `'><error type='cancel'>` +
			`<conflict xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></iq>`
	}
	authenticate := func(n *Negotiator) {
		n.Start(ctx)
		n.Process(ctx, serverHeader())
		n.Process(ctx, parse(t, plainFeatures))
		n.Process(ctx, parse(t, `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`))
		n.Process(ctx, serverHeader())
		n.Process(ctx, parse(t, bindFeatures))
	}
	cfg := DefaultConfig()
	cfg.TLS = TLSDisabled
	cfg.AllowPlainWithoutTLS = true
	cfg.Resource = "laptop"

	t.Run("Fail", func(t *testing.T) {
		n, st := newTestNegotiator(cfg)
		authenticate(n)
		err := n.Process(ctx, parse(t, conflict(st.last().ID())))
		require.Equal(t, xmppErrors.BindConflict, xmppErrors.KindOf(err))
		require.Equal(t, ResourceBinding, n.Failure().State)
	})
	t.Run("ServerAssigned", func(t *testing.T) {
		cfg2 := *cfg
		cfg2.BindConflict = BindConflictServerAssigned
		n, st := newTestNegotiator(&cfg2)
		authenticate(n)

		require.Nil(t, n.Process(ctx, parse(t, conflict(st.last().ID()))))
		retry := st.last()
		require.Nil(t, retry.Elements().ChildNamespace("bind", bindNamespace).Elements().Child("resource"))

		// only one retry is allowed
		err := n.Process(ctx, parse(t, conflict(retry.ID())))
		require.Equal(t, xmppErrors.BindConflict, xmppErrors.KindOf(err))
	})
	t.Run("ServerAssignedSuccess", func(t *testing.T) {
		cfg2 := *cfg
		cfg2.BindConflict = BindConflictServerAssigned
		n, st := newTestNegotiator(&cfg2)
		authenticate(n)

		n.Process(ctx, parse(t, conflict(st.last().ID())))
		require.Nil(t, n.Process(ctx, parse(t, bindResult(st.last().ID(), "alice@example.org/x1y2"))))
		require.Equal(t, SessionEstablished, n.State())
		require.Equal(t, "x1y2", n.JID().Resource())
	})
	t.Run("MissingBindFeature", func(t *testing.T) {
		n, _ := newTestNegotiator(cfg)
		n.Start(ctx)
		n.Process(ctx, serverHeader())
		n.Process(ctx, parse(t, plainFeatures))
		n.Process(ctx, parse(t, `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`))
		n.Process(ctx, serverHeader())
		err := n.Process(ctx, parse(t, `<stream:features/>`))
		require.Equal(t, xmppErrors.ProtocolError, xmppErrors.KindOf(err))
		require.Equal(t, StreamRestarting, n.Failure().State)
	})
}

func TestNegotiator_StreamError(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNegotiator(DefaultConfig())
	n.Start(ctx)
	n.Process(ctx, serverHeader())
	err := n.Process(ctx, parse(t, `<stream:error><host-unknown xmlns='urn:ietf:params:xml:ns:xmpp-streams'/></stream:error>`))

	var e *xmppErrors.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, xmppErrors.ProtocolError, e.Kind)
	require.Equal(t, "host-unknown", e.Condition)
	require.True(t, xmppErrors.IsPermanent(err))
}

func TestNegotiator_ExternalFailure(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNegotiator(DefaultConfig())
	n.Start(ctx)
	err := n.Fail(context.DeadlineExceeded)
	require.Equal(t, xmppErrors.TransportError, xmppErrors.KindOf(err))
	require.Equal(t, Failed, n.State())
	require.Equal(t, StreamOpening, n.Failure().State)
}
