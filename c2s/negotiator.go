/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/google/uuid"
	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/util"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/ortuman/xmppchat/xmpp/jid"
	"github.com/pkg/errors"
	"mellium.im/sasl"
)

const (
	streamNamespace       = "http://etherx.jabber.org/streams"
	jabberClientNamespace = "jabber:client"
	tlsNamespace          = "urn:ietf:params:xml:ns:xmpp-tls"
	bindNamespace         = "urn:ietf:params:xml:ns:xmpp-bind"
	sessionNamespace      = "urn:ietf:params:xml:ns:xmpp-session"
)

// Stream is the set of operations the negotiator needs from the connection.
type Stream interface {
	// OpenStream sends a new stream header, resetting the incoming parser.
	OpenStream() error

	// SendElement writes an element over the stream.
	SendElement(elem xmpp.XElement) error

	// StartTLS upgrades the underlying transport.
	StartTLS(ctx context.Context, cfg *tls.Config) error

	// ConnectionState returns the TLS state of the underlying transport.
	ConnectionState() (tls.ConnectionState, bool)
}

// Credentials holds the account used to authenticate.
type Credentials struct {
	// JID is the account bare JID.
	JID *jid.JID

	// Password is the account password.
	Password string
}

// Negotiator drives client stream negotiation from the initial stream
// header up to an established session.
// It is not safe for concurrent use.
type Negotiator struct {
	cfg   *Config
	creds Credentials
	st    Stream

	state          State
	headerReceived bool
	secured        bool
	authenticated  bool
	mechanism      string
	saslClient     *sasl.Negotiator
	saslDone       bool
	bindID         string
	bindRetried    bool
	sessionID      string
	needsSession   bool
	jid            *jid.JID
	failure        *Failure
}

// NewNegotiator returns a new negotiator instance.
func NewNegotiator(cfg *Config, creds Credentials, st Stream) *Negotiator {
	return &Negotiator{
		cfg:   cfg,
		creds: creds,
		st:    st,
	}
}

// State returns current negotiation state.
func (n *Negotiator) State() State {
	return n.state
}

// Failure returns the failure information once the negotiator reached the Failed state.
func (n *Negotiator) Failure() *Failure {
	return n.failure
}

// JID returns the negotiated full JID. It is only set once the session has been established.
func (n *Negotiator) JID() *jid.JID {
	if n.state != SessionEstablished {
		return nil
	}
	return n.jid
}

// Secured returns true if the stream has been secured with TLS.
func (n *Negotiator) Secured() bool {
	return n.secured
}

// Authenticated returns true if SASL authentication succeeded.
func (n *Negotiator) Authenticated() bool {
	return n.authenticated
}

// Mechanism returns the selected SASL mechanism name.
func (n *Negotiator) Mechanism() string {
	return n.mechanism
}

// Timeout returns the maximum time to wait for the next server element.
// A zero value is returned in terminal states.
func (n *Negotiator) Timeout() time.Duration {
	switch n.state {
	case StreamOpening, StreamRestarting, TLSUpgrading, MechanismSelecting:
		return n.cfg.StreamTimeout
	case SASLExchanging:
		return n.cfg.SASLTimeout
	case ResourceBinding, SessionStarting:
		return n.cfg.BindTimeout
	}
	return 0
}

// Start opens the initial stream.
func (n *Negotiator) Start(_ context.Context) error {
	n.state = StreamOpening
	n.headerReceived = false
	if err := n.st.OpenStream(); err != nil {
		return n.fail(xmppErrors.Wrap(xmppErrors.TransportError, "", err))
	}
	return nil
}

// Process feeds the next element received from the server.
func (n *Negotiator) Process(ctx context.Context, elem xmpp.XElement) error {
	switch n.state {
	case SessionEstablished, Failed:
		return nil
	}
	if elem.Name() == "stream:error" {
		return n.fail(xmppErrors.NewStreamErrorFromElement(elem).ProtocolError(""))
	}
	switch n.state {
	case StreamOpening, StreamRestarting:
		return n.handleOpening(ctx, elem)
	case TLSUpgrading:
		return n.handleTLSUpgrading(ctx, elem)
	case SASLExchanging:
		return n.handleSASLExchanging(elem)
	case ResourceBinding:
		return n.handleResourceBinding(elem)
	case SessionStarting:
		return n.handleSessionStarting(elem)
	}
	return nil
}

// Fail moves the negotiator into Failed state with an external cause
// (I/O error, malformed input or step timeout).
func (n *Negotiator) Fail(err error) error {
	switch n.state {
	case SessionEstablished, Failed:
		return err
	}
	var cause *xmppErrors.Error
	if !errors.As(err, &cause) {
		cause = xmppErrors.Wrap(xmppErrors.TransportError, "", err)
	}
	return n.fail(cause)
}

func (n *Negotiator) handleOpening(ctx context.Context, elem xmpp.XElement) error {
	if !n.headerReceived {
		if err := n.validateStreamHeader(elem); err != nil {
			return n.fail(err)
		}
		n.headerReceived = true
		return nil
	}
	if elem.Name() != "stream:features" {
		return n.fail(xmppErrors.ErrUnsupportedStanzaType.ProtocolError(""))
	}
	if n.state == StreamRestarting {
		return n.handleBindFeatures(elem)
	}
	return n.handleFeatures(elem)
}

func (n *Negotiator) validateStreamHeader(elem xmpp.XElement) *xmppErrors.Error {
	if elem.Name() != "stream:stream" {
		return xmppErrors.ErrUnsupportedStanzaType.ProtocolError("")
	}
	if elem.Namespace() != jabberClientNamespace || elem.Attributes().Get("xmlns:stream") != streamNamespace {
		return xmppErrors.ErrInvalidNamespace.ProtocolError("")
	}
	if elem.Version() != "1.0" {
		return xmppErrors.ErrUnsupportedVersion.ProtocolError("")
	}
	return nil
}

func (n *Negotiator) handleFeatures(features xmpp.XElement) error {
	if !n.secured {
		startTLS := features.Elements().ChildNamespace("starttls", tlsNamespace)
		switch {
		case startTLS != nil && n.cfg.TLS != TLSDisabled:
			n.state = TLSUpgrading
			return n.send(xmpp.NewElementNamespace("starttls", tlsNamespace))

		case startTLS == nil && n.cfg.TLS == TLSRequired:
			return n.fail(xmppErrors.New(xmppErrors.TLSError, "", "starttls-not-offered"))

		case startTLS != nil && startTLS.Elements().Child("required") != nil:
			// server requires TLS but it has been disabled
			return n.fail(xmppErrors.New(xmppErrors.TLSError, "", "starttls-required"))
		}
	}
	n.state = MechanismSelecting
	return n.startAuthentication(features)
}

func (n *Negotiator) handleTLSUpgrading(ctx context.Context, elem xmpp.XElement) error {
	if elem.Namespace() != tlsNamespace {
		return n.fail(xmppErrors.ErrInvalidNamespace.ProtocolError(""))
	}
	switch elem.Name() {
	case "proceed":
	case "failure":
		return n.fail(xmppErrors.New(xmppErrors.TLSError, "", "failure"))
	default:
		return n.fail(xmppErrors.ErrUnsupportedStanzaType.ProtocolError(""))
	}
	tlsCfg, err := n.tlsConfig()
	if err != nil {
		return n.fail(xmppErrors.Wrap(xmppErrors.TLSError, "", err))
	}
	hctx, cancel := context.WithTimeout(ctx, n.cfg.TLSHandshakeTimeout)
	defer cancel()
	if err := n.st.StartTLS(hctx, tlsCfg); err != nil {
		return n.fail(xmppErrors.Wrap(xmppErrors.TLSError, "", err))
	}
	n.secured = true
	return n.restart(StreamOpening)
}

func (n *Negotiator) startAuthentication(features xmpp.XElement) error {
	var offered []string
	if mechs := features.Elements().ChildNamespace("mechanisms", saslNamespace); mechs != nil {
		for _, m := range mechs.Elements().Children("mechanism") {
			offered = append(offered, m.Text())
		}
	}
	cs, ok := n.st.ConnectionState()
	selector := &mechanismSelector{
		preference:      n.cfg.Mechanisms,
		password:        n.creds.Password,
		secured:         n.secured,
		channelBinding:  ok && len(cs.TLSUnique) > 0,
		allowPlainNoTLS: n.cfg.AllowPlainWithoutTLS,
	}
	mech, found := selector.selectMechanism(offered)
	if !found {
		e := xmppErrors.New(xmppErrors.AuthUnavailable, "", "")
		e.Text = "no usable mechanism"
		return n.fail(e)
	}
	var csPtr *tls.ConnectionState
	if ok {
		csPtr = &cs
	}
	n.mechanism = mech.Name
	n.saslClient = newSASLClient(mech, n.creds.JID.Node(), n.creds.Password, offered, csPtr)
	n.saslDone = false

	more, resp, err := n.saslClient.Step(nil)
	if err != nil {
		return n.fail(xmppErrors.Wrap(xmppErrors.AuthFailed, "", err))
	}
	n.saslDone = !more
	log.Debugf("c2s: authenticating %s using %s", n.creds.JID, mech.Name)

	auth := xmpp.NewElementNamespace("auth", saslNamespace)
	auth.SetAttribute("mechanism", mech.Name)
	auth.SetText(encodeSASLPayload(resp))
	n.state = SASLExchanging
	return n.send(auth)
}

func (n *Negotiator) handleSASLExchanging(elem xmpp.XElement) error {
	if elem.Namespace() != saslNamespace {
		return n.fail(xmppErrors.ErrInvalidNamespace.ProtocolError(""))
	}
	switch elem.Name() {
	case "challenge":
		if n.saslDone {
			return n.fail(xmppErrors.New(xmppErrors.AuthFailed, "", "unexpected-challenge"))
		}
		challenge, err := decodeSASLPayload(elem.Text())
		if err != nil {
			return n.fail(xmppErrors.Wrap(xmppErrors.AuthFailed, "", err))
		}
		more, resp, err := n.saslClient.Step(challenge)
		if err != nil {
			return n.fail(xmppErrors.Wrap(xmppErrors.AuthFailed, "", err))
		}
		n.saslDone = !more
		return n.send(xmpp.NewElementNamespace("response", saslNamespace).SetText(encodeSASLPayload(resp)))

	case "success":
		if !n.saslDone {
			// additional data with success must be verified (SCRAM server signature)
			data, err := decodeSASLPayload(elem.Text())
			if err != nil {
				return n.fail(xmppErrors.Wrap(xmppErrors.AuthFailed, "", err))
			}
			more, _, err := n.saslClient.Step(data)
			if err != nil {
				return n.fail(xmppErrors.Wrap(xmppErrors.AuthFailed, "", err))
			}
			if more {
				return n.fail(xmppErrors.New(xmppErrors.AuthFailed, "", "incomplete-exchange"))
			}
		}
		n.authenticated = true
		n.saslClient = nil
		return n.restart(StreamRestarting)

	case "failure":
		e := xmppErrors.New(xmppErrors.AuthFailed, "", "not-authorized")
		for _, child := range elem.Elements().All() {
			if child.Name() == "text" {
				e.Text = child.Text()
				continue
			}
			e.Condition = child.Name()
		}
		return n.fail(e)
	}
	return n.fail(xmppErrors.ErrUnsupportedStanzaType.ProtocolError(""))
}

func (n *Negotiator) handleBindFeatures(features xmpp.XElement) error {
	if features.Elements().ChildNamespace("bind", bindNamespace) == nil {
		e := xmppErrors.New(xmppErrors.ProtocolError, "", "bind-not-offered")
		return n.fail(e)
	}
	if sess := features.Elements().ChildNamespace("session", sessionNamespace); sess != nil {
		n.needsSession = sess.Elements().Child("optional") == nil
	}
	return n.sendBind(n.cfg.Resource)
}

func (n *Negotiator) sendBind(resource string) error {
	bind := xmpp.NewElementNamespace("bind", bindNamespace)
	if len(resource) > 0 {
		bind.AppendElement(xmpp.NewElementName("resource").SetText(resource))
	}
	n.bindID = uuid.New().String()
	iq := xmpp.NewIQType(n.bindID, xmpp.SetType)
	iq.AppendElement(bind)
	n.state = ResourceBinding
	return n.send(iq)
}

func (n *Negotiator) handleResourceBinding(elem xmpp.XElement) error {
	if elem.Name() != xmpp.IQName || elem.ID() != n.bindID {
		log.Debugf("c2s: ignoring %s while binding resource", elem.Name())
		return nil
	}
	switch elem.Type() {
	case xmpp.ResultType:
		var jidStr string
		if bind := elem.Elements().ChildNamespace("bind", bindNamespace); bind != nil {
			if j := bind.Elements().Child("jid"); j != nil {
				jidStr = j.Text()
			}
		}
		j, err := jid.NewWithString(jidStr, false)
		if err != nil || !j.IsFullWithUser() {
			return n.fail(xmppErrors.New(xmppErrors.ProtocolError, "", "bad-bind-result"))
		}
		n.jid = j
		if n.needsSession {
			n.sessionID = uuid.New().String()
			iq := xmpp.NewIQType(n.sessionID, xmpp.SetType)
			iq.SetTo(n.creds.JID.Domain())
			iq.AppendElement(xmpp.NewElementNamespace("session", sessionNamespace))
			n.state = SessionStarting
			return n.send(iq)
		}
		n.state = SessionEstablished
		return nil

	case xmpp.ErrorType:
		reason := stanzaErrorReason(elem)
		if reason == xmpp.ErrConflict.Reason() {
			if n.cfg.BindConflict == BindConflictServerAssigned && !n.bindRetried {
				n.bindRetried = true
				log.Infof("c2s: resource %s in use, requesting a server assigned one", n.cfg.Resource)
				return n.sendBind("")
			}
			return n.fail(xmppErrors.New(xmppErrors.BindConflict, "", reason))
		}
		return n.fail(xmppErrors.New(xmppErrors.ProtocolError, "", reason))
	}
	return n.fail(xmppErrors.ErrUnsupportedStanzaType.ProtocolError(""))
}

func (n *Negotiator) handleSessionStarting(elem xmpp.XElement) error {
	if elem.Name() != xmpp.IQName || elem.ID() != n.sessionID {
		return nil
	}
	switch elem.Type() {
	case xmpp.ResultType:
		n.state = SessionEstablished
		return nil
	case xmpp.ErrorType:
		return n.fail(xmppErrors.New(xmppErrors.ProtocolError, "", stanzaErrorReason(elem)))
	}
	return n.fail(xmppErrors.ErrUnsupportedStanzaType.ProtocolError(""))
}

func (n *Negotiator) restart(state State) error {
	n.state = state
	n.headerReceived = false
	if err := n.st.OpenStream(); err != nil {
		return n.fail(xmppErrors.Wrap(xmppErrors.TransportError, "", err))
	}
	return nil
}

func (n *Negotiator) send(elem xmpp.XElement) error {
	if err := n.st.SendElement(elem); err != nil {
		return n.fail(xmppErrors.Wrap(xmppErrors.TransportError, "", err))
	}
	return nil
}

func (n *Negotiator) fail(e *xmppErrors.Error) error {
	if len(e.Phase) == 0 {
		e.Phase = n.state.String()
	}
	n.failure = &Failure{State: n.state, Cause: e}
	n.state = Failed
	n.saslClient = nil
	return e
}

func (n *Negotiator) tlsConfig() (*tls.Config, error) {
	roots, err := util.LoadCertPool(n.cfg.CAFile)
	if err != nil {
		return nil, err
	}
	domain := n.creds.JID.Domain()
	cfg := &tls.Config{
		ServerName: domain,
		RootCAs:    roots,
	}
	if n.cfg.CertPolicy == CertWarn {
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if err := verifyPeer(cs, domain, roots); err != nil {
				log.Warnf("c2s: %s certificate verification failed: %v", domain, err)
			}
			return nil
		}
	}
	return cfg, nil
}

func verifyPeer(cs tls.ConnectionState, domain string, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return xmppErrors.New(xmppErrors.TLSError, "", "no-peer-certificate")
	}
	opts := x509.VerifyOptions{
		DNSName:       domain,
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := cs.PeerCertificates[0].Verify(opts)
	return err
}

func stanzaErrorReason(elem xmpp.XElement) string {
	if se := xmpp.NewStanzaErrorFromElement(elem); se != nil {
		return se.Reason()
	}
	return xmppErrors.ErrUndefinedCondition.Reason()
}
