/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

// State represents a client stream negotiation state.
type State int

const (
	// StreamOpening awaits the server stream header and features.
	StreamOpening State = iota

	// TLSUpgrading awaits the STARTTLS <proceed/> and upgrades the transport.
	TLSUpgrading

	// MechanismSelecting picks the SASL mechanism to use.
	MechanismSelecting

	// SASLExchanging runs the SASL challenge/response exchange.
	SASLExchanging

	// StreamRestarting awaits the post-authentication stream header and features.
	StreamRestarting

	// ResourceBinding awaits the resource bind response.
	ResourceBinding

	// SessionStarting awaits the legacy session establishment response.
	SessionStarting

	// SessionEstablished is the terminal success state.
	SessionEstablished

	// Failed is the terminal failure state.
	Failed
)

// String returns State string representation.
func (s State) String() string {
	switch s {
	case StreamOpening:
		return "stream opening"
	case TLSUpgrading:
		return "tls upgrading"
	case MechanismSelecting:
		return "mechanism selecting"
	case SASLExchanging:
		return "sasl exchanging"
	case StreamRestarting:
		return "stream restarting"
	case ResourceBinding:
		return "resource binding"
	case SessionStarting:
		return "session starting"
	case SessionEstablished:
		return "session established"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Failure describes why a negotiation ended in the Failed state.
type Failure struct {
	// State is the state in which the failure happened.
	State State

	// Cause is the classified failure cause.
	Cause error
}
