/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package protocol

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ortuman/xmppchat/conn"
	"github.com/ortuman/xmppchat/event"
	"github.com/ortuman/xmppchat/log"
)

// ErrNotInitialized is returned when operating over a context that has not been initialized.
var ErrNotInitialized = errors.New("protocol: context not initialized")

// Config represents the protocol configuration.
type Config struct {
	Connections []conn.Config `yaml:"connections"`
}

// Context owns the registered chat protocols and every live connection.
type Context struct {
	cfg *Config
	bus *event.Bus

	mu          sync.RWMutex
	protocols   []ChatProtocol
	xmpp        *XMPP
	conns       map[string]*conn.Connection
	initialized bool
	deinited    bool
}

// NewContext returns a new protocol context.
func NewContext(cfg *Config, bus *event.Bus) *Context {
	if cfg == nil {
		cfg = &Config{}
	}
	ctx := &Context{
		cfg:   cfg,
		bus:   bus,
		conns: make(map[string]*conn.Connection),
	}
	ctx.xmpp = newXMPP(ctx)
	return ctx
}

// Init registers the XMPP chat protocol. Subsequent calls are no-ops.
func (ctx *Context) Init() {
	ctx.mu.Lock()
	if ctx.initialized {
		ctx.mu.Unlock()
		return
	}
	ctx.initialized = true
	ctx.deinited = false
	ctx.protocols = append(ctx.protocols, ctx.xmpp)
	ctx.mu.Unlock()

	log.Infof("registered chat protocol: %s", ctx.xmpp.Name())
	ctx.bus.Publish(event.Event{Kind: event.ProtocolCreated, Text: "chat protocol created", Payload: ctx.xmpp})
}

// Deinit disconnects every live connection, announces protocol deinit and
// finally unregisters the XMPP chat protocol. If c expires before every
// connection is closed, deinit still completes and c's error is returned.
// Subsequent calls are no-ops.
func (ctx *Context) Deinit(c context.Context) error {
	ctx.mu.Lock()
	if !ctx.initialized || ctx.deinited {
		ctx.mu.Unlock()
		return nil
	}
	ctx.deinited = true
	conns := ctx.conns
	ctx.conns = make(map[string]*conn.Connection)
	ctx.mu.Unlock()

	err := closeConnections(c, conns)
	if err != nil {
		log.Warnf("protocol: connections still closing at deinit: %v", err)
	}
	ctx.bus.Publish(event.Event{Kind: event.ProtocolDeinit, Text: "chat protocol deinit", Payload: ctx.xmpp})

	ctx.mu.Lock()
	ctx.protocols = removeProtocol(ctx.protocols, ctx.xmpp.Name())
	ctx.initialized = false
	ctx.mu.Unlock()

	log.Infof("unregistered chat protocol: %s", ctx.xmpp.Name())
	return err
}

// Lookup returns the registered protocol matching name case-insensitively.
func (ctx *Context) Lookup(name string) (ChatProtocol, bool) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	for _, p := range ctx.protocols {
		if strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

// XMPP returns the XMPP chat protocol.
func (ctx *Context) XMPP() *XMPP {
	return ctx.xmpp
}

// ServerSetups returns a server setup per configured connection.
func (ctx *Context) ServerSetups() []*ServerSetup {
	var setups []*ServerSetup
	for i := range ctx.cfg.Connections {
		cfg := &ctx.cfg.Connections[i]
		setup := ctx.xmpp.CreateServerSetup()
		setup.Chatnet = cfg.Name()
		setup.AutoConnect = cfg.AutoConnect
		setup.Config = cfg
		setups = append(setups, setup)
	}
	return setups
}

// AutoConnect connects every configured server flagged for automatic connection.
func (ctx *Context) AutoConnect() ([]*conn.Connection, error) {
	ctx.mu.RLock()
	initialized := ctx.initialized
	ctx.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	var conns []*conn.Connection
	for _, setup := range ctx.ServerSetups() {
		if !setup.AutoConnect {
			continue
		}
		sc, err := ctx.xmpp.ServerInitConnect(setup)
		if err != nil {
			return conns, err
		}
		c, err := ctx.xmpp.ServerConnect(sc)
		ctx.xmpp.DestroyServerConnect(sc)
		if err != nil {
			return conns, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}

// Connection returns the live connection identified by id.
func (ctx *Context) Connection(id string) *conn.Connection {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.conns[id]
}

// Connections returns every live connection sorted by identifier.
func (ctx *Context) Connections() []*conn.Connection {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	ret := make([]*conn.Connection, 0, len(ctx.conns))
	for _, c := range ctx.conns {
		ret = append(ret, c)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}

// Remove closes and forgets a live connection.
func (ctx *Context) Remove(id string) error {
	c := ctx.remove(id)
	if c == nil {
		return nil
	}
	return c.Close()
}

func (ctx *Context) add(c *conn.Connection) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if !ctx.initialized {
		return ErrNotInitialized
	}
	if _, ok := ctx.conns[c.ID()]; ok {
		return ErrAlreadyConnected
	}
	ctx.conns[c.ID()] = c
	return nil
}

func (ctx *Context) remove(id string) *conn.Connection {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	c := ctx.conns[id]
	delete(ctx.conns, id)
	return c
}

func closeConnections(c context.Context, conns map[string]*conn.Connection) error {
	if len(conns) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	for _, cn := range conns {
		wg.Add(1)
		go func(cn *conn.Connection) {
			defer wg.Done()
			if err := cn.Close(); err != nil {
				log.Warnf("protocol: closing %s: %v", cn.ID(), err)
			}
		}(cn)
	}
	if err := c.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-c.Done():
		return c.Err()
	}
}

func removeProtocol(protocols []ChatProtocol, name string) []ChatProtocol {
	ret := protocols[:0]
	for _, p := range protocols {
		if !strings.EqualFold(p.Name(), name) {
			ret = append(ret, p)
		}
	}
	return ret
}
