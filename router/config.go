/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import "fmt"

const defaultMaxNickRetries = 3

// Config represents room and query routing configuration.
type Config struct {
	// AutoSuffix retries a join with a numeric nickname suffix when the nickname is in use.
	AutoSuffix bool

	// MaxNickRetries bounds the number of alternative nicknames tried.
	MaxNickRetries int

	// ChatStates attaches an <active/> chat state to outgoing query messages.
	ChatStates bool
}

type configProxy struct {
	AutoSuffix     bool  `yaml:"auto_suffix"`
	MaxNickRetries *int  `yaml:"max_nick_retries"`
	ChatStates     *bool `yaml:"chat_states"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		AutoSuffix:     true,
		MaxNickRetries: defaultMaxNickRetries,
		ChatStates:     true,
	}
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.AutoSuffix = p.AutoSuffix
	c.MaxNickRetries = defaultMaxNickRetries
	if p.MaxNickRetries != nil {
		if *p.MaxNickRetries < 0 {
			return fmt.Errorf("router.Config: max_nick_retries must be positive")
		}
		c.MaxNickRetries = *p.MaxNickRetries
	}
	c.ChatStates = true
	if p.ChatStates != nil {
		c.ChatStates = *p.ChatStates
	}
	return nil
}
