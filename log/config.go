/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package log

import (
	"fmt"
	"strings"
)

// Level represents log level type.
type Level int

const (
	// DebugLevel represents DEBUG log level.
	DebugLevel Level = iota

	// InfoLevel represents INFO log level.
	InfoLevel

	// WarningLevel represents WARNING log level.
	WarningLevel

	// ErrorLevel represents ERROR log level.
	ErrorLevel

	// FatalLevel represents FATAL log level.
	FatalLevel

	// OffLevel represents a disabled logger.
	OffLevel
)

// String returns the level lowercased name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarningLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	}
	return "off"
}

// Config represents a logger configuration.
type Config struct {
	Level    Level
	LogPath  string
	Encoding string
}

type configProxy struct {
	Level    string `yaml:"level"`
	LogPath  string `yaml:"log_path"`
	Encoding string `yaml:"encoding"`
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	lvl, err := ParseLevel(p.Level)
	if err != nil {
		return err
	}
	c.Level = lvl
	c.LogPath = p.LogPath

	switch p.Encoding {
	case "", "console":
		c.Encoding = "console"
	case "json":
		c.Encoding = "json"
	default:
		return fmt.Errorf("log.Config: unrecognized encoding: %s", p.Encoding)
	}
	return nil
}

// ParseLevel returns the level matching a configuration string.
// An empty string maps to InfoLevel.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warning", "warn":
		return WarningLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	case "off":
		return OffLevel, nil
	}
	return OffLevel, fmt.Errorf("log.Config: unrecognized log level: %s", s)
}
