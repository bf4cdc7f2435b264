/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package transport

import (
	"context"
	"crypto/tls"
	"io"

	"github.com/ortuman/xmppchat/xmpp"
)

// Transport represents the byte stream a client session runs over.
// Writes are serialized and flushed, reads are expected to happen from a single goroutine.
type Transport interface {
	io.ReadWriteCloser
	io.ByteReader

	// WriteString writes a raw string, such as a stream header or a whitespace keepalive.
	WriteString(s string) error

	// WriteElement serializes and writes an element.
	WriteElement(elem xmpp.XElement, includeClosing bool) error

	// StartTLS upgrades the transport performing a client side TLS handshake.
	// No other I/O may happen until it returns.
	StartTLS(ctx context.Context, cfg *tls.Config) error

	// ConnectionState returns the TLS connection state.
	// ok is false while the transport is not secured.
	ConnectionState() (cs tls.ConnectionState, ok bool)
}
