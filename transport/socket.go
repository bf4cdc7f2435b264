/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ortuman/xmppchat/xmpp"
	"github.com/pkg/errors"
)

const socketBuffSize = 4096

// ErrAlreadySecured is returned by StartTLS when the transport
// is already running over TLS.
var ErrAlreadySecured = errors.New("transport: already secured")

type socketTransport struct {
	mu           sync.Mutex
	raw          net.Conn
	conn         net.Conn
	br           *bufio.Reader
	bw           *bufio.Writer
	writeTimeout time.Duration
}

// NewSocketTransport creates a socket class stream transport.
// A zero writeTimeout disables write deadlines.
func NewSocketTransport(conn net.Conn, writeTimeout time.Duration) Transport {
	return &socketTransport{
		raw:          conn,
		conn:         conn,
		br:           bufio.NewReaderSize(conn, socketBuffSize),
		bw:           bufio.NewWriterSize(conn, socketBuffSize),
		writeTimeout: writeTimeout,
	}
}

func (s *socketTransport) Read(p []byte) (n int, err error) {
	return s.br.Read(p)
}

func (s *socketTransport) ReadByte() (byte, error) {
	return s.br.ReadByte()
}

func (s *socketTransport) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWriteDeadline()
	n, err = s.bw.Write(p)
	if err != nil {
		return n, err
	}
	return n, s.bw.Flush()
}

// Close closes the underlying connection without waiting for
// in-flight writes, so it unblocks any pending I/O.
func (s *socketTransport) Close() error {
	return s.raw.Close()
}

func (s *socketTransport) WriteString(str string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWriteDeadline()
	if _, err := io.WriteString(s.bw, str); err != nil {
		return err
	}
	return s.bw.Flush()
}

func (s *socketTransport) WriteElement(elem xmpp.XElement, includeClosing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWriteDeadline()
	elem.ToXML(s.bw, includeClosing)
	return s.bw.Flush()
}

func (s *socketTransport) StartTLS(ctx context.Context, cfg *tls.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conn.(*tls.Conn); ok {
		return ErrAlreadySecured
	}
	tlsConn := tls.Client(s.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}
	s.conn = tlsConn
	s.bw.Reset(tlsConn)
	s.br.Reset(tlsConn)
	return nil
}

func (s *socketTransport) ConnectionState() (tls.ConnectionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tlsConn, ok := s.conn.(*tls.Conn); ok {
		return tlsConn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

func (s *socketTransport) setWriteDeadline() {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
}
