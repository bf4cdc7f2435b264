/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package c2s

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultTLSHandshakeTimeout = 10
	defaultStreamTimeout       = 30
	defaultSASLTimeout         = 30
	defaultBindTimeout         = 30
)

// DefaultMechanisms is the SASL mechanism preference order used when
// none has been configured.
var DefaultMechanisms = []string{
	"SCRAM-SHA-256-PLUS",
	"SCRAM-SHA-1-PLUS",
	"SCRAM-SHA-256",
	"SCRAM-SHA-1",
	"PLAIN",
}

// TLSPolicy defines whether STARTTLS must, may or must not be negotiated.
type TLSPolicy int

const (
	// TLSRequired fails negotiation if the server does not offer STARTTLS.
	TLSRequired TLSPolicy = iota

	// TLSOptional negotiates STARTTLS whenever it is offered.
	TLSOptional

	// TLSDisabled never negotiates STARTTLS.
	TLSDisabled
)

// String returns TLSPolicy string representation.
func (p TLSPolicy) String() string {
	switch p {
	case TLSRequired:
		return "required"
	case TLSOptional:
		return "optional"
	case TLSDisabled:
		return "disabled"
	}
	return ""
}

// CertPolicy defines what to do when the server certificate cannot be verified.
type CertPolicy int

const (
	// CertReject aborts the TLS handshake.
	CertReject CertPolicy = iota

	// CertWarn logs the verification failure and continues.
	CertWarn
)

// BindConflictPolicy defines what to do when the requested resource is taken.
type BindConflictPolicy int

const (
	// BindConflictFail fails negotiation with a bind conflict error.
	BindConflictFail BindConflictPolicy = iota

	// BindConflictServerAssigned retries once letting the server assign a resource.
	BindConflictServerAssigned
)

// Config represents client stream negotiation configuration.
type Config struct {
	Resource             string
	Language             string
	TLS                  TLSPolicy
	CertPolicy           CertPolicy
	CAFile               string
	AllowPlainWithoutTLS bool
	Mechanisms           []string
	BindConflict         BindConflictPolicy
	TLSHandshakeTimeout  time.Duration
	StreamTimeout        time.Duration
	SASLTimeout          time.Duration
	BindTimeout          time.Duration
}

type configProxy struct {
	Resource             string   `yaml:"resource"`
	Language             string   `yaml:"lang"`
	TLS                  string   `yaml:"tls"`
	CertPolicy           string   `yaml:"cert_policy"`
	CAFile               string   `yaml:"ca_file"`
	AllowPlainWithoutTLS bool     `yaml:"allow_plain_without_tls"`
	Mechanisms           []string `yaml:"sasl"`
	BindConflict         string   `yaml:"bind_conflict"`
	TLSHandshakeTimeout  int      `yaml:"tls_handshake_timeout"`
	StreamTimeout        int      `yaml:"stream_timeout"`
	SASLTimeout          int      `yaml:"sasl_timeout"`
	BindTimeout          int      `yaml:"bind_timeout"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (cfg *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	switch strings.ToLower(p.TLS) {
	case "", "required":
		cfg.TLS = TLSRequired
	case "optional":
		cfg.TLS = TLSOptional
	case "disabled":
		cfg.TLS = TLSDisabled
	default:
		return fmt.Errorf("c2s.Config: invalid tls option: %s", p.TLS)
	}
	switch strings.ToLower(p.CertPolicy) {
	case "", "reject":
		cfg.CertPolicy = CertReject
	case "warn":
		cfg.CertPolicy = CertWarn
	default:
		return fmt.Errorf("c2s.Config: invalid cert_policy option: %s", p.CertPolicy)
	}
	switch strings.ToLower(p.BindConflict) {
	case "", "fail":
		cfg.BindConflict = BindConflictFail
	case "server_assigned":
		cfg.BindConflict = BindConflictServerAssigned
	default:
		return fmt.Errorf("c2s.Config: invalid bind_conflict option: %s", p.BindConflict)
	}
	// validate SASL mechanisms
	var mechanisms []string
	for _, m := range p.Mechanisms {
		name := strings.ToUpper(strings.Replace(m, "_", "-", -1))
		if _, ok := mechanismsByName[name]; !ok {
			return fmt.Errorf("c2s.Config: unrecognized SASL mechanism: %s", m)
		}
		mechanisms = append(mechanisms, name)
	}
	cfg.Resource = p.Resource
	cfg.Language = p.Language
	cfg.CAFile = p.CAFile
	cfg.AllowPlainWithoutTLS = p.AllowPlainWithoutTLS
	cfg.Mechanisms = mechanisms
	cfg.TLSHandshakeTimeout = time.Duration(p.TLSHandshakeTimeout) * time.Second
	cfg.StreamTimeout = time.Duration(p.StreamTimeout) * time.Second
	cfg.SASLTimeout = time.Duration(p.SASLTimeout) * time.Second
	cfg.BindTimeout = time.Duration(p.BindTimeout) * time.Second
	cfg.applyDefaults()
	return nil
}

func (cfg *Config) applyDefaults() {
	if len(cfg.Mechanisms) == 0 {
		cfg.Mechanisms = DefaultMechanisms
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = defaultTLSHandshakeTimeout * time.Second
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = defaultStreamTimeout * time.Second
	}
	if cfg.SASLTimeout == 0 {
		cfg.SASLTimeout = defaultSASLTimeout * time.Second
	}
	if cfg.BindTimeout == 0 {
		cfg.BindTimeout = defaultBindTimeout * time.Second
	}
}
