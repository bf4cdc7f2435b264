/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package reconnect

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xmppErrors "github.com/ortuman/xmppchat/errors"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

var errTransport = xmppErrors.Wrap(xmppErrors.TransportError, "stream opening", errors.New("connection reset"))

func TestConfig(t *testing.T) {
	cfg := Config{}
	require.Nil(t, yaml.Unmarshal([]byte("max_retries: 5"), &cfg))
	require.Equal(t, 2*time.Second, cfg.BaseDelay)
	require.Equal(t, 300*time.Second, cfg.MaxDelay)
	require.Equal(t, time.Second, cfg.Jitter)
	require.Equal(t, 5, cfg.MaxRetries)
	require.Equal(t, 2, cfg.AuthMaxRetries)

	require.Nil(t, yaml.Unmarshal([]byte("auth_max_retries: 0\njitter: 0"), &cfg))
	require.Equal(t, 0, cfg.AuthMaxRetries)
	require.Equal(t, time.Duration(0), cfg.Jitter)

	require.NotNil(t, yaml.Unmarshal([]byte("base_delay: 10\nmax_delay: 5"), &cfg))
	require.NotNil(t, yaml.Unmarshal([]byte("max_retries: -1"), &cfg))
}

func TestManager_Backoff(t *testing.T) {
	cfg := &Config{BaseDelay: time.Hour, MaxDelay: 8 * time.Hour}
	m := New(cfg, func(uint64) {}, nil)
	defer m.Cancel()

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		d, ok := m.Failed(errTransport)
		require.True(t, ok)
		delays = append(delays, d)
	}
	require.Equal(t, []time.Duration{
		time.Hour, 2 * time.Hour, 4 * time.Hour, 8 * time.Hour, 8 * time.Hour, 8 * time.Hour,
	}, delays)
	require.Equal(t, 6, m.State().Attempts)
	require.True(t, m.Pending())

	// success resets to base delay
	m.Succeeded()
	require.False(t, m.Pending())
	require.Equal(t, 0, m.State().Attempts)
	d, _ := m.Failed(errTransport)
	require.Equal(t, time.Hour, d)
}

func TestManager_Jitter(t *testing.T) {
	cfg := &Config{BaseDelay: time.Hour, MaxDelay: time.Hour, Jitter: 500 * time.Millisecond}
	m := New(cfg, func(uint64) {}, nil)
	defer m.Cancel()
	m.jitter = func(n int64) int64 {
		require.Equal(t, int64(500*time.Millisecond)+1, n)
		return int64(250 * time.Millisecond)
	}
	d, ok := m.Failed(errTransport)
	require.True(t, ok)
	require.Equal(t, time.Hour+250*time.Millisecond, d)
}

func TestManager_Schedule(t *testing.T) {
	var connects int32
	cfg := &Config{BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}
	m := New(cfg, func(uint64) { atomic.AddInt32(&connects, 1) }, nil)

	m.Failed(errTransport)
	m.Failed(errTransport) // replaces the pending attempt

	require.Eventually(t, func() bool { return atomic.LoadInt32(&connects) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&connects))
	require.False(t, m.Pending())
}

func TestManager_Cancel(t *testing.T) {
	var connects int32
	cfg := &Config{BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}
	m := New(cfg, func(uint64) { atomic.AddInt32(&connects, 1) }, nil)

	m.Failed(errTransport)
	m.Cancel()
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&connects))
}

func TestManager_CancelAfterFire(t *testing.T) {
	gens := make(chan uint64, 1)
	cfg := &Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	m := New(cfg, func(gen uint64) { gens <- gen }, nil)

	m.Failed(errTransport)
	var gen uint64
	select {
	case gen = <-gens:
	case <-time.After(time.Second):
		t.Fatal("attempt not fired")
	}
	require.True(t, m.Current(gen))

	// a cancellation issued before the attempt gets to run invalidates it
	m.Cancel()
	require.False(t, m.Current(gen))
}

func TestManager_ReconnectSupersedesScheduled(t *testing.T) {
	gens := make(chan uint64, 2)
	cfg := &Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	m := New(cfg, func(gen uint64) { gens <- gen }, nil)

	m.Failed(errTransport)
	first := <-gens
	m.Reconnect()
	second := <-gens
	require.False(t, m.Current(first))
	require.True(t, m.Current(second))
}

func TestManager_Reconnect(t *testing.T) {
	var connects int32
	cfg := &Config{BaseDelay: time.Hour, MaxDelay: time.Hour}
	m := New(cfg, func(uint64) { atomic.AddInt32(&connects, 1) }, nil)

	m.Failed(errTransport)
	m.Failed(errTransport)
	m.Reconnect()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&connects) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, m.State().Attempts)
	require.False(t, m.Pending())
}

func TestManager_GiveUp(t *testing.T) {
	t.Run("MaxRetries", func(t *testing.T) {
		var abandoned error
		cfg := &Config{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxRetries: 2}
		m := New(cfg, func(uint64) {}, func(err error) { abandoned = err })

		_, ok := m.Failed(errTransport)
		require.True(t, ok)
		_, ok = m.Failed(errTransport)
		require.True(t, ok)
		_, ok = m.Failed(errTransport)
		require.False(t, ok)
		require.Equal(t, errTransport, abandoned)
		require.True(t, m.State().Abandoned)
		require.False(t, m.Pending())
	})
	t.Run("AuthFailures", func(t *testing.T) {
		var abandoned int32
		cfg := &Config{BaseDelay: time.Hour, MaxDelay: time.Hour, AuthMaxRetries: 0}
		m := New(cfg, func(uint64) {}, func(error) { atomic.AddInt32(&abandoned, 1) })

		_, ok := m.Failed(xmppErrors.New(xmppErrors.AuthFailed, "sasl exchanging", "not-authorized"))
		require.False(t, ok)
		require.Equal(t, int32(1), atomic.LoadInt32(&abandoned))
	})
	t.Run("Permanent", func(t *testing.T) {
		cfg := &Config{BaseDelay: time.Hour, MaxDelay: time.Hour}
		m := New(cfg, func(uint64) {}, nil)

		_, ok := m.Failed(xmppErrors.New(xmppErrors.AuthUnavailable, "mechanism selecting", ""))
		require.False(t, ok)
		require.Equal(t, 1, m.State().Attempts)
	})
}
