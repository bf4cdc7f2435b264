/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a client error.
type Kind int

const (
	// TransportError represents a socket or TLS I/O failure.
	TransportError Kind = iota + 1

	// ProtocolError represents a stream level violation.
	ProtocolError

	// TLSError represents a TLS handshake or certificate failure.
	TLSError

	// AuthUnavailable is returned when no SASL mechanism can be used.
	AuthUnavailable

	// AuthFailed is returned when the server rejects authentication.
	AuthFailed

	// BindConflict is returned when the requested resource is taken.
	BindConflict

	// MalformedStanza represents an XML parse failure.
	MalformedStanza

	// NicknameInUse is returned when a room nickname is already taken.
	NicknameInUse

	// SubscriptionPending is informational and never fatal.
	SubscriptionPending
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case TransportError:
		return "transport error"
	case ProtocolError:
		return "protocol error"
	case TLSError:
		return "tls error"
	case AuthUnavailable:
		return "authentication unavailable"
	case AuthFailed:
		return "authentication failed"
	case BindConflict:
		return "resource bind conflict"
	case MalformedStanza:
		return "malformed stanza"
	case NicknameInUse:
		return "nickname in use"
	case SubscriptionPending:
		return "subscription pending"
	}
	return "unknown error"
}

// SASL and stream conditions that will not go away by retrying.
var permanentConditions = map[string]bool{
	"account-disabled":    true,
	"credentials-expired": true,
	"host-unknown":        true,
	"conflict":            true,
}

// Error represents a classified client error.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Phase names the negotiation state or session phase where
	// the error happened.
	Phase string

	// Condition is the XMPP defined condition element name, if any.
	Condition string

	// Text is the optional human readable text sent by the server.
	Text string

	// Raw holds the offending bytes of a malformed stanza.
	Raw []byte

	// Err is the underlying cause.
	Err error
}

// New returns a new error with a given kind, phase and condition.
func New(kind Kind, phase, condition string) *Error {
	return &Error{Kind: kind, Phase: phase, Condition: condition}
}

// Wrap returns a new error with a given kind and phase wrapping err.
func Wrap(kind Kind, phase string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// Error satisfies error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if len(e.Phase) > 0 {
		sb.WriteString(" (")
		sb.WriteString(e.Phase)
		sb.WriteString(")")
	}
	if len(e.Condition) > 0 {
		sb.WriteString(": ")
		sb.WriteString(e.Condition)
	}
	if len(e.Text) > 0 {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Text))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the classified error contained in err's chain.
// Unclassified errors are reported as TransportError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return TransportError
}

// IsPermanent tells whether err should stop any further reconnection attempt.
func IsPermanent(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case AuthUnavailable:
		return true
	case AuthFailed, ProtocolError:
		return permanentConditions[e.Condition]
	}
	return false
}
