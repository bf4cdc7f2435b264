/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package app

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/ortuman/xmppchat/conn"
	"github.com/ortuman/xmppchat/log"
	"github.com/ortuman/xmppchat/protocol"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const defaultShutdownTimeout = 5

// Config represents a global configuration.
type Config struct {
	PIDFile         string
	Logger          log.Config
	ShutdownTimeout time.Duration
	Connections     []conn.Config
}

type configProxy struct {
	PIDFile         string        `yaml:"pid_path"`
	Logger          *log.Config   `yaml:"logger"`
	ShutdownTimeout int           `yaml:"shutdown_timeout"`
	Connections     []conn.Config `yaml:"connections"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	names := make(map[string]struct{}, len(p.Connections))
	for i := range p.Connections {
		name := p.Connections[i].Name()
		if _, ok := names[name]; ok {
			return fmt.Errorf("app.Config: duplicated connection: %s", name)
		}
		names[name] = struct{}{}
	}
	cfg.PIDFile = p.PIDFile
	if p.Logger != nil {
		cfg.Logger = *p.Logger
	} else {
		cfg.Logger = log.Config{Level: log.InfoLevel, Encoding: "console"}
	}
	cfg.ShutdownTimeout = time.Duration(p.ShutdownTimeout) * time.Second
	if p.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout * time.Second
	}
	cfg.Connections = p.Connections
	return nil
}

// Protocol returns the chat protocol configuration.
func (cfg *Config) Protocol() *protocol.Config {
	return &protocol.Config{Connections: cfg.Connections}
}

// FromFile loads default global configuration from
// a specified file.
func (cfg *Config) FromFile(configFile string) error {
	b, err := ioutil.ReadFile(configFile)
	if err != nil {
		return errors.Wrapf(err, "app: cannot read configuration file")
	}
	return yaml.Unmarshal(b, cfg)
}

// FromBuffer loads default global configuration from
// a specified byte buffer.
func (cfg *Config) FromBuffer(buf *bytes.Buffer) error {
	return yaml.Unmarshal(buf.Bytes(), cfg)
}
