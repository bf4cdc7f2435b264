/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package conn

import (
	"fmt"
	"time"

	"github.com/ortuman/xmppchat/c2s"
	"github.com/ortuman/xmppchat/ping"
	"github.com/ortuman/xmppchat/reconnect"
	"github.com/ortuman/xmppchat/roster"
	"github.com/ortuman/xmppchat/router"
	"github.com/ortuman/xmppchat/xmpp/jid"
)

const (
	defaultConnectTimeout  = 15
	defaultWriteTimeout    = 30
	defaultMaxStanzaSize   = 65536
	defaultBreakerTimeout  = 60
	defaultBreakerFailures = 5
)

// RoomConfig represents a room joined as soon as the session gets established.
type RoomConfig struct {
	Room     string `yaml:"room"`
	Nick     string `yaml:"nick"`
	Password string `yaml:"password"`
}

// Config represents a single XMPP server connection configuration.
type Config struct {
	ID              string
	JID             *jid.JID
	Password        string
	Address         string
	AutoConnect     bool
	Priority        int8
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	MaxStanzaSize   int
	BreakerTimeout  time.Duration
	BreakerFailures uint32
	Rooms           []RoomConfig
	C2S             *c2s.Config
	Ping            *ping.Config
	Reconnect       *reconnect.Config
	Roster          *roster.Config
	Router          *router.Config
}

type configProxy struct {
	ID              string            `yaml:"id"`
	JID             string            `yaml:"jid"`
	Password        string            `yaml:"password"`
	Address         string            `yaml:"address"`
	AutoConnect     bool              `yaml:"autoconnect"`
	Priority        int8              `yaml:"priority"`
	ConnectTimeout  int               `yaml:"connect_timeout"`
	WriteTimeout    int               `yaml:"write_timeout"`
	MaxStanzaSize   int               `yaml:"max_stanza_size"`
	BreakerTimeout  int               `yaml:"breaker_timeout"`
	BreakerFailures *uint32           `yaml:"breaker_failures"`
	Rooms           []RoomConfig      `yaml:"rooms"`
	C2S             *c2s.Config       `yaml:"c2s"`
	Ping            *ping.Config      `yaml:"ping"`
	Reconnect       *reconnect.Config `yaml:"reconnect"`
	Roster          *roster.Config    `yaml:"roster"`
	Router          *router.Config    `yaml:"router"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	if len(p.JID) == 0 {
		return fmt.Errorf("conn.Config: jid must be specified")
	}
	j, err := jid.NewWithString(p.JID, false)
	if err != nil {
		return fmt.Errorf("conn.Config: invalid jid %s: %v", p.JID, err)
	}
	if len(j.Node()) == 0 {
		return fmt.Errorf("conn.Config: jid %s has no node", p.JID)
	}
	for _, r := range p.Rooms {
		if len(r.Room) == 0 || len(r.Nick) == 0 {
			return fmt.Errorf("conn.Config: room and nick must be specified for every room")
		}
	}
	cfg.ID = p.ID
	cfg.JID = j
	cfg.Password = p.Password
	cfg.Address = p.Address
	cfg.AutoConnect = p.AutoConnect
	cfg.Priority = p.Priority
	cfg.ConnectTimeout = time.Duration(p.ConnectTimeout) * time.Second
	cfg.WriteTimeout = time.Duration(p.WriteTimeout) * time.Second
	cfg.MaxStanzaSize = p.MaxStanzaSize
	cfg.BreakerTimeout = time.Duration(p.BreakerTimeout) * time.Second
	cfg.BreakerFailures = defaultBreakerFailures
	if p.BreakerFailures != nil {
		cfg.BreakerFailures = *p.BreakerFailures
	}
	cfg.Rooms = p.Rooms
	cfg.C2S = p.C2S
	cfg.Ping = p.Ping
	cfg.Reconnect = p.Reconnect
	cfg.Roster = p.Roster
	cfg.Router = p.Router
	cfg.applyDefaults()
	return nil
}

// Name returns the connection identifier, defaulting to the account JID.
func (cfg *Config) Name() string {
	if len(cfg.ID) > 0 {
		return cfg.ID
	}
	return cfg.JID.ToBareJID().String()
}

func (cfg *Config) applyDefaults() {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout * time.Second
	}
	if cfg.MaxStanzaSize == 0 {
		cfg.MaxStanzaSize = defaultMaxStanzaSize
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout * time.Second
	}
	if cfg.C2S == nil {
		cfg.C2S = c2s.DefaultConfig()
	}
	if len(cfg.C2S.Resource) == 0 && cfg.JID != nil {
		cfg.C2S.Resource = cfg.JID.Resource()
	}
	if cfg.Ping == nil {
		cfg.Ping = ping.DefaultConfig()
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = reconnect.DefaultConfig()
	}
	if cfg.Roster == nil {
		cfg.Roster = &roster.Config{}
	}
	if cfg.Router == nil {
		cfg.Router = router.DefaultConfig()
	}
}
