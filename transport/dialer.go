/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package transport

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ortuman/xmppchat/log"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

const defaultClientPort = 5222

// Dialer establishes TCP connections to XMPP servers.
type Dialer interface {
	// Dial connects to domain. A non-empty address ("host" or "host:port")
	// skips SRV resolution.
	Dial(ctx context.Context, domain, address string) (net.Conn, error)
}

type srvResolveFunc func(service, proto, name string) (cname string, addrs []*net.SRV, err error)
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type dialer struct {
	connectTimeout time.Duration
	srvResolve     srvResolveFunc
	dialContext    dialFunc
	cb             *gobreaker.CircuitBreaker
}

// NewDialer returns a dialer resolving '_xmpp-client._tcp' SRV records
// and guarding dial attempts with a circuit breaker.
func NewDialer(connectTimeout time.Duration, breakerTimeout time.Duration, breakerFailures uint32) Dialer {
	return newDialer(connectTimeout, breakerTimeout, breakerFailures)
}

func newDialer(connectTimeout time.Duration, breakerTimeout time.Duration, breakerFailures uint32) *dialer {
	var d net.Dialer
	return &dialer{
		connectTimeout: connectTimeout,
		srvResolve:     net.LookupSRV,
		dialContext:    d.DialContext,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dialer",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return breakerFailures > 0 && counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Infof("%s circuit breaker: %s -> %s", name, from, to)
			},
		}),
	}
}

func (d *dialer) Dial(ctx context.Context, domain, address string) (net.Conn, error) {
	target := d.resolve(domain, address)
	if d.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.connectTimeout)
		defer cancel()
	}
	conn, err := d.cb.Execute(func() (interface{}, error) {
		return d.dialContext(ctx, "tcp", target)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return conn.(net.Conn), nil
}

func (d *dialer) resolve(domain, address string) string {
	if len(address) > 0 {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return net.JoinHostPort(address, strconv.Itoa(defaultClientPort))
		}
		return address
	}
	_, addrs, err := d.srvResolve("xmpp-client", "tcp", domain)
	if err != nil {
		log.Warnf("srv lookup error: %v", err)
	}
	if err != nil || len(addrs) == 0 || (len(addrs) == 1 && addrs[0].Target == ".") {
		return net.JoinHostPort(domain, strconv.Itoa(defaultClientPort))
	}
	return net.JoinHostPort(strings.TrimSuffix(addrs[0].Target, "."), strconv.Itoa(int(addrs[0].Port)))
}
