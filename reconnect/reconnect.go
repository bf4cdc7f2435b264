/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package reconnect

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/ortuman/xmppchat/log"
)

const (
	defaultBaseDelay      = 2
	defaultMaxDelay       = 300
	defaultJitter         = 1000
	defaultAuthMaxRetries = 2
)

// Config represents reconnection configuration.
type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration

	// MaxRetries is the maximum number of consecutive attempts. Zero means unlimited.
	MaxRetries int

	// AuthMaxRetries is the maximum number of attempts after an authentication failure.
	AuthMaxRetries int
}

type configProxy struct {
	BaseDelay      int  `yaml:"base_delay"`
	MaxDelay       int  `yaml:"max_delay"`
	Jitter         *int `yaml:"jitter"`
	MaxRetries     int  `yaml:"max_retries"`
	AuthMaxRetries *int `yaml:"auth_max_retries"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return &Config{
		BaseDelay:      defaultBaseDelay * time.Second,
		MaxDelay:       defaultMaxDelay * time.Second,
		Jitter:         defaultJitter * time.Millisecond,
		AuthMaxRetries: defaultAuthMaxRetries,
	}
}

// UnmarshalYAML satisfies Unmarshaler interface.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	p := configProxy{}
	if err := unmarshal(&p); err != nil {
		return err
	}
	*c = *DefaultConfig()
	if p.BaseDelay > 0 {
		c.BaseDelay = time.Duration(p.BaseDelay) * time.Second
	}
	if p.MaxDelay > 0 {
		c.MaxDelay = time.Duration(p.MaxDelay) * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("reconnect.Config: max_delay must be greater or equal than base_delay")
	}
	if p.Jitter != nil {
		if *p.Jitter < 0 {
			return fmt.Errorf("reconnect.Config: jitter must be positive")
		}
		c.Jitter = time.Duration(*p.Jitter) * time.Millisecond
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("reconnect.Config: max_retries must be positive")
	}
	c.MaxRetries = p.MaxRetries
	if p.AuthMaxRetries != nil {
		if *p.AuthMaxRetries < 0 {
			return fmt.Errorf("reconnect.Config: auth_max_retries must be positive")
		}
		c.AuthMaxRetries = *p.AuthMaxRetries
	}
	return nil
}

// State is a snapshot of the reconnection state.
type State struct {
	Attempts     int
	AuthFailures int
	Next         time.Time
	LastFailure  error
	Abandoned    bool
}

// Manager schedules reconnection attempts for a single connection.
type Manager struct {
	cfg     *Config
	connect func(gen uint64)
	abandon func(err error)
	jitter  func(n int64) int64

	mu         sync.Mutex
	st         State
	timer      *time.Timer
	generation uint64
}

// New returns a new reconnection manager. connect is invoked on its own goroutine
// whenever an attempt is due, along with the generation it was issued for.
// abandon is invoked once the manager gives up.
func New(cfg *Config, connect func(gen uint64), abandon func(err error)) *Manager {
	return &Manager{
		cfg:     cfg,
		connect: connect,
		abandon: abandon,
		jitter:  rand.Int63n,
	}
}

// Failed registers a connection failure and schedules the next attempt.
// It returns the scheduled delay, or false if the manager gave up.
func (m *Manager) Failed(err error) (time.Duration, bool) {
	m.mu.Lock()
	m.st.Attempts++
	m.st.LastFailure = err
	if xmppErrors.KindOf(err) == xmppErrors.AuthFailed {
		m.st.AuthFailures++
	}
	if reason := m.giveUpReason(err); len(reason) > 0 {
		m.stopTimer()
		m.st.Abandoned = true
		m.st.Next = time.Time{}
		attempts := m.st.Attempts
		m.mu.Unlock()

		log.Infof("reconnect: connection abandoned after %d attempt(s): %s", attempts, reason)
		if m.abandon != nil {
			m.abandon(err)
		}
		return 0, false
	}
	d := m.delay(m.st.Attempts)
	m.schedule(d)
	attempts := m.st.Attempts
	m.mu.Unlock()

	log.Debugf("reconnect: attempt %d scheduled in %v: %v", attempts, d, err)
	return d, true
}

// Succeeded resets the attempt counter.
func (m *Manager) Succeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimer()
	m.st = State{}
}

// Reconnect resets every counter and forces an immediate attempt.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.stopTimer()
	m.st = State{}
	gen := m.generation
	m.mu.Unlock()

	go m.connect(gen)
}

// Cancel cancels any pending attempt.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimer()
	m.st.Next = time.Time{}
}

// Current returns true if an attempt issued for gen has not been
// superseded by a cancellation, a success or a newer attempt.
func (m *Manager) Current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// Pending returns true if an attempt has been scheduled.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// State returns a snapshot of the current reconnection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

func (m *Manager) giveUpReason(err error) string {
	if xmppErrors.IsPermanent(err) {
		return "permanent failure"
	}
	if xmppErrors.KindOf(err) == xmppErrors.AuthFailed && m.st.AuthFailures > m.cfg.AuthMaxRetries {
		return "too many authentication failures"
	}
	if m.cfg.MaxRetries > 0 && m.st.Attempts > m.cfg.MaxRetries {
		return "too many attempts"
	}
	return ""
}

// delay returns min(base * 2^(attempts-1), max) plus jitter.
func (m *Manager) delay(attempts int) time.Duration {
	d := m.cfg.MaxDelay
	if shift := uint(attempts - 1); shift < 32 {
		if exp := m.cfg.BaseDelay << shift; exp>>shift == m.cfg.BaseDelay && exp < d {
			d = exp
		}
	}
	if m.cfg.Jitter > 0 {
		d += time.Duration(m.jitter(int64(m.cfg.Jitter) + 1))
	}
	return d
}

func (m *Manager) schedule(d time.Duration) {
	m.stopTimer()
	m.generation++
	gen := m.generation
	m.st.Next = time.Now().Add(d)
	m.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.st.Next = time.Time{}
		m.mu.Unlock()

		m.connect(gen)
	})
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
}
