// Package upstream resolves a request's Host header to a TCP origin
// connection. A "candidate" is one resolved IP address for the current
// request's host, rather than a statically configured backend server: a
// forward proxy has no fixed pool to balance load across, since every
// request may name a different origin. What matters is walking the
// resolved addresses in order and dialing each until one connects — see
// DESIGN.md for why pluggable load-balancing strategies don't apply here.
package upstream

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Candidate is one resolved network endpoint for an origin host.
// Connection tracking uses atomic counters so concurrent sessions can
// update a shared candidate's load without a lock.
type Candidate struct {
	ip          net.IP
	port        string
	connections int64
}

// Address returns the host:port dial target for this candidate. Port 80
// is fixed in production use, matching the plain-HTTP "http" service name.
func (c *Candidate) Address() string {
	return net.JoinHostPort(c.ip.String(), c.port)
}

// IncrementConnections atomically increases the active connection count.
func (c *Candidate) IncrementConnections() {
	atomic.AddInt64(&c.connections, 1)
}

// DecrementConnections atomically decreases the active connection count.
func (c *Candidate) DecrementConnections() {
	atomic.AddInt64(&c.connections, -1)
}

// GetConnections returns the current active connection count.
func (c *Candidate) GetConnections() int64 {
	return atomic.LoadInt64(&c.connections)
}

// Resolver resolves a host to an ordered list of dialable candidates.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]*Candidate, error)
}

// dnsResolver resolves via the system resolver, equivalent to calling
// getaddrinfo(host, "http", ...) with AF_UNSPEC.
type dnsResolver struct {
	resolver *net.Resolver
}

// NewDNSResolver returns a Resolver backed by net.DefaultResolver.
func NewDNSResolver() Resolver {
	return &dnsResolver{resolver: net.DefaultResolver}
}

func (r *dnsResolver) Resolve(ctx context.Context, host string) ([]*Candidate, error) {
	addrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	candidates := make([]*Candidate, len(addrs))
	for i, a := range addrs {
		candidates[i] = &Candidate{ip: a.IP, port: "80"}
	}
	return candidates, nil
}

// Selector connects to an origin host, trying candidates until one
// succeeds.
type Selector interface {
	Connect(ctx context.Context, host string) (net.Conn, *Candidate, error)
}

// FirstReachableSelector walks the resolver's candidates in order, dialing
// each; the first successful connect wins. This is the try-each-skip-
// failures loop common to client-side load balancers, generalized here
// from "skip unhealthy" to "skip unreachable".
type FirstReachableSelector struct {
	resolver    Resolver
	dialTimeout time.Duration
}

// NewFirstReachableSelector builds a selector using the system resolver
// and the given per-candidate dial timeout.
func NewFirstReachableSelector(dialTimeout time.Duration) *FirstReachableSelector {
	return &FirstReachableSelector{
		resolver:    NewDNSResolver(),
		dialTimeout: dialTimeout,
	}
}

// Connect resolves host and dials candidates in resolver order, returning
// the first connection that succeeds. If none connect, the caller should
// treat the session as unrecoverable and close it.
func (s *FirstReachableSelector) Connect(ctx context.Context, host string) (net.Conn, *Candidate, error) {
	candidates, err := s.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("no candidates resolved for %s", host)
	}

	dialer := net.Dialer{Timeout: s.dialTimeout}
	for _, c := range candidates {
		conn, err := dialer.DialContext(ctx, "tcp", c.Address())
		if err != nil {
			continue
		}
		c.IncrementConnections()
		return conn, c, nil
	}

	return nil, nil, fmt.Errorf("no reachable candidates for %s", host)
}
