package dialer

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"hawser/pkg/conn"
	"hawser/pkg/helper/errors"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
	"hawser/pkg/resolve"
)

// errorWrapper translates a raw socket error into the dial-site-specific
// error kind: proxy dials report ProxyConnectionError, everything else
// ConnectorError.
type errorWrapper func(key conn.Key, err error) error

func wrapConnectorError(key conn.Key, err error) error {
	return &conn.ConnectorError{Key: key, Err: err}
}

func wrapProxyError(key conn.Key, err error) error {
	return &conn.ProxyConnectionError{ConnectorError: conn.ConnectorError{Key: key, Err: err}}
}

// TCPDialer dials direct TCP connections and CONNECT tunnels. It resolves
// hosts through the shared cached resolver and fails over across all
// addresses of one rotation before giving up.
type TCPDialer struct {
	resolver  *resolve.CachedResolver
	policy    *conn.TLSPolicy
	localAddr *net.TCPAddr
	limiter   *rate.Limiter
	factory   conn.ProtocolFactory
	logger    log.Logger
	metrics   *metrics.Registry
}

// TCPDialerOptions configures a TCPDialer.
type TCPDialerOptions struct {
	Resolver *resolve.CachedResolver

	// TLS is the connector-level TLS policy; requests may override it.
	TLS *conn.TLSPolicy

	// LocalAddr, when set, binds outgoing sockets to a local address.
	LocalAddr *net.TCPAddr

	// Limiter, when set, throttles new dials.
	Limiter *rate.Limiter

	Factory conn.ProtocolFactory
	Logger  log.Logger
	Metrics *metrics.Registry
}

// NewTCPDialer creates a TCP dialer.
func NewTCPDialer(opts TCPDialerOptions) (*TCPDialer, error) {
	if opts.Resolver == nil {
		return nil, errors.InvalidInputf("tcp dialer requires a resolver")
	}
	if opts.Factory == nil {
		return nil, errors.InvalidInputf("tcp dialer requires a protocol factory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &TCPDialer{
		resolver:  opts.Resolver,
		policy:    opts.TLS,
		localAddr: opts.LocalAddr,
		limiter:   opts.Limiter,
		factory:   opts.Factory,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Dial establishes a connection for the request, tunneling through its proxy
// when one is set.
func (d *TCPDialer) Dial(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (conn.Protocol, error) {
	timeout = timeout.Norm()
	if req.Proxy() != nil {
		return d.dialProxy(ctx, req, trace, timeout)
	}
	cn, err := d.dialDirect(ctx, req, trace, timeout, wrapConnectorError)
	if err != nil {
		return nil, err
	}
	return d.factory(cn), nil
}

type resolveResult struct {
	addrs []resolve.AddrRecord
	err   error
}

// resolveShielded resolves the request host on a detached goroutine. When the
// caller's context is cancelled the wait is abandoned but the lookup itself
// keeps running: cancelling it would fail every coalesced waiter sharing the
// single-flight entry. The orphaned result is dropped.
func (d *TCPDialer) resolveShielded(ctx context.Context, host string, port int, trace *conn.Trace) ([]resolve.AddrRecord, error) {
	ch := make(chan resolveResult, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		addrs, err := d.resolver.ResolveHost(detached, host, port, trace)
		ch <- resolveResult{addrs: addrs, err: err}
	}()

	select {
	case res := <-ch:
		return res.addrs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dialDirect resolves the request host and attempts each address in the
// current rotation, attaching TLS and checking the certificate pin where
// required. Per-address failures are retained and surfaced only when every
// address has been exhausted.
func (d *TCPDialer) dialDirect(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout, wrapErr errorWrapper) (net.Conn, error) {
	key := req.ConnectionKey()
	tlsConfig := selectTLSConfig(req, d.policy)
	fingerprint := selectFingerprint(req, d.policy)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	addrs, err := d.resolveShielded(ctx, req.Host(), req.Port(), trace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// Resolution failures are generic connector errors even on the proxy
		// path: the proxy's own address could not be resolved.
		return nil, &conn.ConnectorError{Key: key, Err: err}
	}
	if len(addrs) == 0 {
		return nil, &conn.ConnectorError{Key: key, Err: errors.NotFoundf("no addresses for %q", req.Host())}
	}

	var lastErr error
	for _, record := range addrs {
		cn, err := d.dialAddr(ctx, key, record, tlsConfig, timeout, wrapErr)
		if err != nil {
			d.metrics.DialFailed("tcp")
			d.logger.WithFields(map[string]interface{}{
				"host": record.Host,
				"port": record.Port,
			}).WithError(err).Debug("Dial attempt failed")
			lastErr = err
			continue
		}

		if tlsConfig != nil && fingerprint != nil {
			tlsConn := cn.(*tls.Conn)
			if err := fingerprint.Check(tlsConn.ConnectionState(), record.Hostname, record.Port); err != nil {
				_ = cn.Close()
				d.metrics.DialFailed("tcp")
				lastErr = err
				continue
			}
		}

		return cn, nil
	}

	return nil, lastErr
}

// dialAddr attempts one address under the sock_connect budget, covering both
// the TCP connect and the TLS handshake.
func (d *TCPDialer) dialAddr(ctx context.Context, key conn.Key, record resolve.AddrRecord, tlsConfig *tls.Config, timeout conn.Timeout, wrapErr errorWrapper) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout.SockConnect)
	defer cancel()

	d.metrics.DialStarted("tcp")

	nd := net.Dialer{}
	if d.localAddr != nil {
		nd.LocalAddr = d.localAddr
	}
	raw, err := nd.DialContext(dctx, "tcp", net.JoinHostPort(record.Host, strconv.Itoa(record.Port)))
	if err != nil {
		return nil, wrapErr(key, err)
	}

	if tlsConfig == nil {
		return raw, nil
	}

	cn, err := attachTLS(dctx, raw, tlsConfig, record.Hostname, key)
	if err != nil {
		return nil, err
	}
	return cn, nil
}

// attachTLS wraps an established transport with TLS and classifies handshake
// failures: certificate validation problems, other TLS-level failures, and
// plain socket errors each map to their own error kind. The raw connection is
// closed on failure.
func attachTLS(ctx context.Context, raw net.Conn, tlsConfig *tls.Config, serverName string, key conn.Key) (net.Conn, error) {
	cfg := tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}

	tlsConn := tls.Client(raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()

		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) {
			return nil, &conn.CertificateError{ConnectorError: conn.ConnectorError{Key: key, Err: err}}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return nil, &conn.ConnectorError{Key: key, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &conn.ConnectorError{Key: key, Err: err}
		}
		return nil, &conn.SSLError{ConnectorError: conn.ConnectorError{Key: key, Err: err}}
	}
	return tlsConn, nil
}

// clearDeadline is a helper for paths that set absolute deadlines on raw
// connections.
func clearDeadline(cn net.Conn) {
	_ = cn.SetDeadline(time.Time{})
}
