/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ortuman/xmppchat/conn"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/muc"
	"github.com/ortuman/xmppchat/router"
	"github.com/ortuman/xmppchat/transport"
)

const (
	protocolName     = "XMPP"
	protocolFullName = "XMPP, Extensible messaging and presence protocol"
	chatnetKey       = "xmppnet"
)

var (
	// ErrMissingConfig is returned when a server setup carries no account configuration.
	ErrMissingConfig = errors.New("protocol: missing server configuration")

	// ErrAlreadyConnected is returned when a connection with the same identifier already exists.
	ErrAlreadyConnected = errors.New("protocol: connection already exists")

	// ErrNilConnection is returned when operating over a nil connection.
	ErrNilConnection = errors.New("protocol: nil connection")
)

// Chatnet represents a chat network record.
type Chatnet struct {
	Name     string
	Nick     string
	Username string
}

// ServerSetup represents a configured server.
type ServerSetup struct {
	Chatnet     string
	Address     string
	Port        int
	Password    string
	AutoConnect bool
	Config      *conn.Config
}

// ServerConnect represents the parameters of a server connection.
type ServerConnect struct {
	Chatnet string
	Config  *conn.Config

	// Channels is the list of rooms joined once connected.
	Channels []string
}

// ChannelSetup represents a configured channel.
type ChannelSetup struct {
	Name     string
	Chatnet  string
	Password string
	AutoJoin bool
}

// ChatProtocol is the contract a chat protocol satisfies to be driven by the host.
type ChatProtocol interface {
	Name() string
	FullName() string
	ChatnetKey() string
	CaseInsensitive() bool

	CreateChatnet() *Chatnet
	CreateServerSetup() *ServerSetup
	CreateServerConnect() *ServerConnect
	CreateChannelSetup() *ChannelSetup
	DestroyServerConnect(sc *ServerConnect)

	ServerInitConnect(setup *ServerSetup) (*ServerConnect, error)
	ServerConnect(sc *ServerConnect) (*conn.Connection, error)
	ChannelCreate(c *conn.Connection, name, visibleName string, automatic bool) (*muc.Room, error)
	QueryCreate(c *conn.Connection, peer string, automatic bool) (*router.Query, error)
}

// XMPP implements the XMPP chat protocol.
type XMPP struct {
	ctx       *Context
	newDialer func(cfg *conn.Config) transport.Dialer
}

func newXMPP(ctx *Context) *XMPP {
	return &XMPP{
		ctx: ctx,
		newDialer: func(cfg *conn.Config) transport.Dialer {
			return transport.NewDialer(cfg.ConnectTimeout, cfg.BreakerTimeout, cfg.BreakerFailures)
		},
	}
}

// Name satisfies ChatProtocol interface.
func (x *XMPP) Name() string { return protocolName }

// FullName satisfies ChatProtocol interface.
func (x *XMPP) FullName() string { return protocolFullName }

// ChatnetKey satisfies ChatProtocol interface.
func (x *XMPP) ChatnetKey() string { return chatnetKey }

// CaseInsensitive satisfies ChatProtocol interface.
func (x *XMPP) CaseInsensitive() bool { return true }

// CreateChatnet satisfies ChatProtocol interface.
func (x *XMPP) CreateChatnet() *Chatnet { return &Chatnet{} }

// CreateServerSetup satisfies ChatProtocol interface.
func (x *XMPP) CreateServerSetup() *ServerSetup { return &ServerSetup{} }

// CreateServerConnect returns a server connect record with an empty auto-join channel list.
func (x *XMPP) CreateServerConnect() *ServerConnect {
	return &ServerConnect{Channels: []string{}}
}

// CreateChannelSetup satisfies ChatProtocol interface.
func (x *XMPP) CreateChannelSetup() *ChannelSetup { return &ChannelSetup{} }

// DestroyServerConnect releases the auto-join channel list.
func (x *XMPP) DestroyServerConnect(sc *ServerConnect) {
	if sc == nil {
		return
	}
	sc.Channels = nil
}

// ServerInitConnect builds the connection parameters of a configured server.
func (x *XMPP) ServerInitConnect(setup *ServerSetup) (*ServerConnect, error) {
	if setup == nil || setup.Config == nil {
		return nil, ErrMissingConfig
	}
	cfg := *setup.Config
	if len(setup.Address) > 0 {
		cfg.Address = setup.Address
		if setup.Port > 0 {
			cfg.Address = net.JoinHostPort(setup.Address, strconv.Itoa(setup.Port))
		}
	}
	if len(setup.Password) > 0 {
		cfg.Password = setup.Password
	}
	sc := x.CreateServerConnect()
	sc.Chatnet = setup.Chatnet
	sc.Config = &cfg
	return sc, nil
}

// ServerConnect creates and connects a new connection. Channels in the
// auto-join list are joined as soon as the session gets established.
func (x *XMPP) ServerConnect(sc *ServerConnect) (*conn.Connection, error) {
	if sc == nil || sc.Config == nil {
		return nil, ErrMissingConfig
	}
	c := conn.New(sc.Config, x.ctx.bus, x.newDialer(sc.Config))
	if err := x.ctx.add(c); err != nil {
		_ = c.Close()
		return nil, err
	}
	for _, ch := range sc.Channels {
		if _, err := x.ChannelCreate(c, ch, ch, true); err != nil && err != conn.ErrNotEstablished {
			log.Warnf("protocol: cannot join %s: %v", ch, err)
		}
	}
	if err := c.Connect(); err != nil {
		x.ctx.remove(c.ID())
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// ChannelCreate joins a room. name is either a room JID or a room occupant JID,
// the account node being used as nickname in the former case.
func (x *XMPP) ChannelCreate(c *conn.Connection, name, visibleName string, automatic bool) (*muc.Room, error) {
	if c == nil {
		return nil, ErrNilConnection
	}
	room, nick := splitChannelName(name)
	if len(nick) == 0 {
		nick = c.Config().JID.Node()
	}
	if len(room) == 0 {
		return nil, fmt.Errorf("protocol: invalid channel name: %s", visibleName)
	}
	if !automatic {
		log.Debugf("protocol: joining %s as %s", room, nick)
	}
	return c.Join(room, nick, "")
}

// QueryCreate opens a query with a peer.
func (x *XMPP) QueryCreate(c *conn.Connection, peer string, automatic bool) (*router.Query, error) {
	if c == nil {
		return nil, ErrNilConnection
	}
	return c.Query(peer, automatic)
}

func splitChannelName(name string) (room, nick string) {
	name = strings.TrimSpace(name)
	if i := strings.Index(name, "/"); i != -1 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
