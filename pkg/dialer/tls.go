// Package dialer establishes transports for the pool: direct TCP with DNS
// failover and optional TLS, HTTP CONNECT tunnels through a proxy, Unix
// domain sockets, and Windows named pipes.
package dialer

import (
	"crypto/tls"
	"sync"

	"hawser/pkg/conn"
)

// The two default contexts are built once per process: rebuilding a verified
// config re-reads the system roots on some platforms.
var (
	defaultVerifiedConfig = sync.OnceValue(func() *tls.Config {
		return &tls.Config{}
	})
	defaultInsecureConfig = sync.OnceValue(func() *tls.Config {
		return &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- selected only by explicit policy
	})
)

// selectTLSConfig resolves the TLS configuration for a request. Returns nil
// for non-TLS endpoints. Precedence: explicit config on the request, a
// request fingerprint or insecure flag (both select the unverified default),
// then the same ladder on the connector-level policy, and finally the
// verified default.
func selectTLSConfig(req conn.Request, base *conn.TLSPolicy) *tls.Config {
	if !req.IsTLS() {
		return nil
	}
	for _, policy := range []*conn.TLSPolicy{req.TLS(), base} {
		if policy == nil {
			continue
		}
		if policy.Config != nil {
			return policy.Config
		}
		if policy.Fingerprint != nil || policy.InsecureSkipVerify {
			return defaultInsecureConfig()
		}
	}
	return defaultVerifiedConfig()
}

// selectFingerprint resolves the certificate pin for a request: the request
// policy wins over the connector policy; nil means no pinning.
func selectFingerprint(req conn.Request, base *conn.TLSPolicy) *conn.Fingerprint {
	for _, policy := range []*conn.TLSPolicy{req.TLS(), base} {
		if policy != nil && policy.Fingerprint != nil {
			return policy.Fingerprint
		}
	}
	return nil
}
