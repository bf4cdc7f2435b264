/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package ping

import (
	"fmt"
	"strings"
	"time"

	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/runqueue"
	"github.com/ortuman/xmppchat/xmpp"
	"github.com/pborman/uuid"
)

// Namespace is the XMPP Ping (XEP-0199) namespace.
const Namespace = "urn:xmpp:ping"

const (
	defaultInterval = 60
	defaultTimeout  = 30
)

// Mode defines how liveness is probed.
type Mode int

const (
	// WhitespaceMode sends a single whitespace keepalive.
	WhitespaceMode Mode = iota

	// XMPPMode sends a XEP-0199 ping IQ and waits for the answer.
	XMPPMode
)

// Config represents liveness prober configuration.
type Config struct {
	Mode     Mode
	Interval time.Duration
	Timeout  time.Duration
}

type configProxy struct {
	Mode     string `yaml:"mode"`
	Interval int    `yaml:"interval"`
	Timeout  int    `yaml:"timeout"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Mode:     XMPPMode,
		Interval: defaultInterval * time.Second,
		Timeout:  defaultTimeout * time.Second,
	}
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	switch strings.ToLower(p.Mode) {
	case "", "xmpp":
		c.Mode = XMPPMode
	case "whitespace":
		c.Mode = WhitespaceMode
	default:
		return fmt.Errorf("ping.Config: unrecognized mode: %s", p.Mode)
	}
	if p.Interval < 0 || p.Timeout < 0 {
		return fmt.Errorf("ping.Config: interval and timeout must be positive")
	}
	c.Interval = time.Duration(p.Interval) * time.Second
	if c.Interval == 0 {
		c.Interval = defaultInterval * time.Second
	}
	c.Timeout = time.Duration(p.Timeout) * time.Second
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout * time.Second
	}
	return nil
}

// Sender sends liveness traffic over an established session.
type Sender interface {
	SendElement(elem xmpp.XElement) error
	SendWhitespace() error
}

// Prober detects dead sessions by probing the server after an idle period.
// Every timer callback is executed on the connection run queue.
type Prober struct {
	cfg    *Config
	rq     *runqueue.RunQueue
	sender Sender
	domain string
	onDead func()

	generation uint64
	active     bool
	dead       bool
	waiting    bool
	idleTm     *time.Timer
	probeTm    *time.Timer
	pingID     string
}

// New returns a new prober instance. onDead is invoked at most once per started session.
func New(cfg *Config, rq *runqueue.RunQueue, sender Sender, domain string, onDead func()) *Prober {
	return &Prober{
		cfg:    cfg,
		rq:     rq,
		sender: sender,
		domain: domain,
		onDead: onDead,
	}
}

// Start starts probing. Must be called from the run queue.
func (p *Prober) Start() {
	p.Stop()
	p.active = true
	p.dead = false
	p.armIdle()
}

// Stop stops probing. Must be called from the run queue.
func (p *Prober) Stop() {
	p.generation++
	p.active = false
	p.waiting = false
	p.pingID = ""
	p.stopTimers()
}

// Received notifies any incoming traffic. An outstanding ping id is kept
// so that its answer is still recognized by HandleIQ.
func (p *Prober) Received() {
	if !p.active {
		return
	}
	p.waiting = false
	if p.probeTm != nil {
		p.probeTm.Stop()
		p.probeTm = nil
	}
	p.armIdle()
}

// Sent notifies outgoing traffic.
func (p *Prober) Sent() {
	if !p.active || p.waiting {
		return
	}
	p.armIdle()
}

// Outstanding returns the identifier of the unanswered ping, if any.
func (p *Prober) Outstanding() string {
	return p.pingID
}

// HandleIQ answers server pings and recognizes ping answers.
// Returns true if the IQ has been consumed.
func (p *Prober) HandleIQ(iq *xmpp.IQ) bool {
	if iq.IsGet() && iq.Elements().ChildNamespace("ping", Namespace) != nil {
		log.Debugf("ping: received ping... id: %s", iq.ID())
		if err := p.sender.SendElement(iq.ResultIQ()); err != nil {
			log.Error(err)
		}
		return true
	}
	if len(p.pingID) > 0 && iq.ID() == p.pingID && (iq.IsResult() || iq.Type() == xmpp.ErrorType) {
		// an error reply still proves the session is alive
		log.Debugf("ping: received pong... id: %s", iq.ID())
		p.pingID = ""
		p.Received()
		return true
	}
	return false
}

func (p *Prober) armIdle() {
	if p.idleTm != nil {
		p.idleTm.Stop()
	}
	gen := p.generation
	p.idleTm = time.AfterFunc(p.cfg.Interval, func() {
		p.rq.Run(func() {
			if p.generation != gen || !p.active {
				return
			}
			p.probe()
		})
	})
}

func (p *Prober) probe() {
	var err error
	switch p.cfg.Mode {
	case WhitespaceMode:
		err = p.sender.SendWhitespace()

	case XMPPMode:
		p.pingID = uuid.New()
		iq := xmpp.NewIQType(p.pingID, xmpp.GetType)
		iq.SetTo(p.domain)
		iq.AppendElement(xmpp.NewElementNamespace("ping", Namespace))
		err = p.sender.SendElement(iq)
		log.Debugf("ping: sent ping... id: %s", p.pingID)
	}
	if err != nil {
		p.expire(fmt.Sprintf("probe send failed: %v", err))
		return
	}
	p.waiting = true

	gen := p.generation
	p.probeTm = time.AfterFunc(p.cfg.Timeout, func() {
		p.rq.Run(func() {
			if p.generation != gen || !p.active || !p.waiting {
				return
			}
			p.expire(fmt.Sprintf("no traffic %v after probe", p.cfg.Timeout))
		})
	})
}

func (p *Prober) expire(reason string) {
	if p.dead {
		return
	}
	log.Infof("ping: session is dead: %s", reason)
	p.dead = true
	p.Stop()
	if p.onDead != nil {
		p.onDead()
	}
}

func (p *Prober) stopTimers() {
	if p.idleTm != nil {
		p.idleTm.Stop()
		p.idleTm = nil
	}
	if p.probeTm != nil {
		p.probeTm.Stop()
		p.probeTm = nil
	}
}
