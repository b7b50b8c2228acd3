// Package connector composes the pool, the resolver and the dialers into the
// three connector flavors: TCP (with DNS cache, TLS and proxy support), Unix
// domain socket, and Windows named pipe.
package connector

import (
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"

	"hawser/pkg/conn"
	"hawser/pkg/dialer"
	"hawser/pkg/helper/errors"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
	"hawser/pkg/pool"
	"hawser/pkg/resolve"
)

// NoLimit disables a connection limit explicitly (a zero Limit means "use
// the default").
const NoLimit = -1

// Config carries the options common to every connector flavor.
type Config struct {
	// KeepAliveTimeout is the idle budget for pooled connections. Zero
	// selects the 15 second default; setting it is rejected together with
	// ForceClose.
	KeepAliveTimeout time.Duration

	// ForceClose discards every connection on release.
	ForceClose bool

	// Limit caps simultaneous connections. Zero selects the default of 100;
	// NoLimit disables the cap.
	Limit int

	// LimitPerHost caps simultaneous connections per endpoint. Zero means
	// unlimited.
	LimitPerHost int

	Logger  log.Logger
	Metrics *metrics.Registry

	// NewProtocol wraps dialed transports; nil selects NewTransportProtocol.
	NewProtocol conn.ProtocolFactory
}

// DefaultLimit is the total-connection cap applied when Config.Limit is zero.
const DefaultLimit = 100

func (c *Config) poolConfig() (pool.Config, error) {
	if c.ForceClose && c.KeepAliveTimeout != 0 {
		return pool.Config{}, errors.InvalidInputf("keepalive timeout cannot be set when force close is enabled")
	}

	limit := c.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit == NoLimit:
		limit = 0
	case limit < 0:
		return pool.Config{}, errors.InvalidInputf("limit must be positive, zero for the default, or NoLimit")
	}

	limitPerHost := c.LimitPerHost
	if limitPerHost < 0 {
		return pool.Config{}, errors.InvalidInputf("limit per host must be zero or positive")
	}

	return pool.Config{
		KeepAliveTimeout: c.KeepAliveTimeout,
		ForceClose:       c.ForceClose,
		Limit:            limit,
		LimitPerHost:     limitPerHost,
		Logger:           c.Logger,
		Metrics:          c.Metrics,
	}, nil
}

func (c *Config) factory() conn.ProtocolFactory {
	if c.NewProtocol != nil {
		return c.NewProtocol
	}
	return NewTransportProtocol
}

// TCPConfig configures a TCPConnector.
type TCPConfig struct {
	Config

	// UseDNSCache enables the DNS cache and lookup coalescing.
	UseDNSCache bool

	// DNSCacheTTL bounds cached DNS answers. Zero caches forever.
	DNSCacheTTL time.Duration

	// Family restricts resolution to one address family (resolve.FamilyIPv4
	// or resolve.FamilyIPv6); resolve.FamilyAny allows both.
	Family int

	// TLS is the connector-level TLS policy; requests may override it.
	TLS *conn.TLSPolicy

	// LocalAddr, when set, binds outgoing sockets to a local address.
	LocalAddr *net.TCPAddr

	// Resolver overrides the system resolver.
	Resolver resolve.Resolver

	// DialRateLimit, when positive, throttles new dials to this many per
	// second with DialBurst capacity.
	DialRateLimit rate.Limit
	DialBurst     int
}

// DefaultTCPConfig returns the standard TCP connector options: DNS caching
// with a 10 second TTL, verified TLS, a limit of 100 connections.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		UseDNSCache: true,
		DNSCacheTTL: 10 * time.Second,
		Family:      resolve.FamilyAny,
	}
}

// TCPConnector pools direct TCP, TLS and proxied connections.
type TCPConnector struct {
	pool     *pool.Pool
	dialer   *dialer.TCPDialer
	resolver *resolve.CachedResolver
	family   int
	useCache bool
}

// NewTCPConnector builds a TCP connector from its configuration.
func NewTCPConnector(cfg TCPConfig) (*TCPConnector, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	resolver := resolve.NewCachedResolver(resolve.CachedResolverOptions{
		Resolver: cfg.Resolver,
		UseCache: cfg.UseDNSCache,
		TTL:      cfg.DNSCacheTTL,
		Family:   cfg.Family,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})

	var limiter *rate.Limiter
	if cfg.DialRateLimit > 0 {
		burst := cfg.DialBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.DialRateLimit, burst)
	}

	d, err := dialer.NewTCPDialer(dialer.TCPDialerOptions{
		Resolver:  resolver,
		TLS:       cfg.TLS,
		LocalAddr: cfg.LocalAddr,
		Limiter:   limiter,
		Factory:   cfg.factory(),
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c := &TCPConnector{
		dialer:   d,
		resolver: resolver,
		family:   cfg.Family,
		useCache: cfg.UseDNSCache,
	}
	c.pool = pool.New(poolCfg, d.Dial)
	return c, nil
}

// Acquire leases a connection for the request, reusing an idle one when
// possible. The returned handle must be released or closed exactly once.
func (c *TCPConnector) Acquire(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (*pool.Handle, error) {
	return c.pool.Acquire(ctx, poolKey(req), req, trace, timeout)
}

// poolKey normalizes the bucket for pooling. A TLS target reached through a
// proxy ends up as a direct TLS connection to the origin once the tunnel is
// up, so it pools under the key with the proxy fields nulled.
func poolKey(req conn.Request) conn.Key {
	key := req.ConnectionKey()
	if req.Proxy() != nil && req.IsTLS() {
		return key.WithoutProxy()
	}
	return key
}

// Close shuts the connector down: idle connections are closed and the reaper
// is joined. Acquire fails with ErrConnectorClosed afterwards.
func (c *TCPConnector) Close() error {
	return c.pool.Close()
}

// Closed reports whether Close has been called.
func (c *TCPConnector) Closed() bool { return c.pool.Closed() }

// CloseIdleConnections drops every idle connection immediately.
func (c *TCPConnector) CloseIdleConnections() { c.pool.CloseIdleConnections() }

// Limit returns the total simultaneous-connection cap, zero for unlimited.
func (c *TCPConnector) Limit() int { return c.pool.Limit() }

// LimitPerHost returns the per-endpoint cap, zero for unlimited.
func (c *TCPConnector) LimitPerHost() int { return c.pool.LimitPerHost() }

// ForceClose reports whether connections are discarded on every release.
func (c *TCPConnector) ForceClose() bool { return c.pool.ForceClose() }

// UseDNSCache reports whether DNS caching is enabled.
func (c *TCPConnector) UseDNSCache() bool { return c.useCache }

// Family returns the configured address family filter.
func (c *TCPConnector) Family() int { return c.family }

// Stats returns a snapshot of the pool counters.
func (c *TCPConnector) Stats() map[string]interface{} { return c.pool.Stats() }

// ClearDNSCache evicts one endpoint from the DNS cache.
func (c *TCPConnector) ClearDNSCache(host string, port int) {
	c.resolver.Cache().Remove(resolve.HostPortKey{Host: host, Port: port})
}

// ClearDNSCacheAll evicts every cached DNS answer.
func (c *TCPConnector) ClearDNSCacheAll() {
	c.resolver.Cache().Clear()
}

// UnixConfig configures a UnixConnector.
type UnixConfig struct {
	Config

	// Path is the Unix domain socket to connect to.
	Path string
}

// UnixConnector pools connections to a Unix domain socket.
type UnixConnector struct {
	pool   *pool.Pool
	dialer *dialer.UnixDialer
}

// NewUnixConnector builds a Unix socket connector.
func NewUnixConnector(cfg UnixConfig) (*UnixConnector, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	d, err := dialer.NewUnixDialer(cfg.Path, cfg.factory(), cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	c := &UnixConnector{dialer: d}
	c.pool = pool.New(poolCfg, d.Dial)
	return c, nil
}

// Path returns the socket path.
func (c *UnixConnector) Path() string { return c.dialer.Path() }

// Acquire leases a connection to the socket.
func (c *UnixConnector) Acquire(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (*pool.Handle, error) {
	return c.pool.Acquire(ctx, req.ConnectionKey(), req, trace, timeout)
}

// Close shuts the connector down.
func (c *UnixConnector) Close() error { return c.pool.Close() }

// Closed reports whether Close has been called.
func (c *UnixConnector) Closed() bool { return c.pool.Closed() }

// CloseIdleConnections drops every idle connection immediately.
func (c *UnixConnector) CloseIdleConnections() { c.pool.CloseIdleConnections() }

// Stats returns a snapshot of the pool counters.
func (c *UnixConnector) Stats() map[string]interface{} { return c.pool.Stats() }

// NamedPipeConfig configures a NamedPipeConnector.
type NamedPipeConfig struct {
	Config

	// Path is the pipe path, e.g. `\\.\pipe\hawser`.
	Path string
}

// NamedPipeConnector pools connections to a Windows named pipe. Construction
// fails on other platforms.
type NamedPipeConnector struct {
	pool   *pool.Pool
	dialer *dialer.NamedPipeDialer
}

// NewNamedPipeConnector builds a named pipe connector.
func NewNamedPipeConnector(cfg NamedPipeConfig) (*NamedPipeConnector, error) {
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	d, err := dialer.NewNamedPipeDialer(cfg.Path, cfg.factory(), cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	c := &NamedPipeConnector{dialer: d}
	c.pool = pool.New(poolCfg, d.Dial)
	return c, nil
}

// Path returns the pipe path.
func (c *NamedPipeConnector) Path() string { return c.dialer.Path() }

// Acquire leases a connection to the pipe.
func (c *NamedPipeConnector) Acquire(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (*pool.Handle, error) {
	return c.pool.Acquire(ctx, req.ConnectionKey(), req, trace, timeout)
}

// Close shuts the connector down.
func (c *NamedPipeConnector) Close() error { return c.pool.Close() }

// Closed reports whether Close has been called.
func (c *NamedPipeConnector) Closed() bool { return c.pool.Closed() }

// CloseIdleConnections drops every idle connection immediately.
func (c *NamedPipeConnector) CloseIdleConnections() { c.pool.CloseIdleConnections() }

// Stats returns a snapshot of the pool counters.
func (c *NamedPipeConnector) Stats() map[string]interface{} { return c.pool.Stats() }
