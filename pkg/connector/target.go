package connector

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"hawser/pkg/conn"
	"hawser/pkg/helper/errors"
)

// Target is a concrete conn.Request: it describes one endpoint to connect
// to, with optional TLS policy override and proxy routing. HTTP clients with
// their own request types implement conn.Request directly instead.
type Target struct {
	url  *url.URL
	host string
	port int
	tls  bool

	tlsPolicy    *conn.TLSPolicy
	proxy        *url.URL
	proxyAuth    *conn.ProxyAuth
	proxyHeaders http.Header
}

// TargetOptions carries the optional parts of a Target.
type TargetOptions struct {
	TLS          *conn.TLSPolicy
	Proxy        *url.URL
	ProxyAuth    *conn.ProxyAuth
	ProxyHeaders http.Header
}

// NewTarget parses a URL into a Target. The port defaults from the scheme
// when the URL does not carry one.
func NewTarget(rawURL string, opts TargetOptions) (*Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.InvalidInputf("invalid target URL %q: %v", rawURL, err)
	}
	if u.Hostname() == "" {
		return nil, errors.InvalidInputf("target URL %q has no host", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	isTLS := scheme == "https" || scheme == "wss"

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return nil, errors.InvalidInputf("target URL %q has invalid port", rawURL)
		}
	} else if isTLS {
		port = 443
	} else {
		port = 80
	}

	return &Target{
		url:          u,
		host:         u.Hostname(),
		port:         port,
		tls:          isTLS,
		tlsPolicy:    opts.TLS,
		proxy:        opts.Proxy,
		proxyAuth:    opts.ProxyAuth,
		proxyHeaders: opts.ProxyHeaders,
	}, nil
}

func (t *Target) URL() *url.URL              { return t.url }
func (t *Target) Host() string               { return t.host }
func (t *Target) Port() int                  { return t.port }
func (t *Target) IsTLS() bool                { return t.tls }
func (t *Target) TLS() *conn.TLSPolicy       { return t.tlsPolicy }
func (t *Target) Proxy() *url.URL            { return t.proxy }
func (t *Target) ProxyAuth() *conn.ProxyAuth { return t.proxyAuth }
func (t *Target) ProxyHeaders() http.Header  { return t.proxyHeaders }

// ConnectionKey derives the pool bucket for the target.
func (t *Target) ConnectionKey() conn.Key {
	return conn.NewKey(t.host, t.port, t.tls, t.proxy, t.proxyAuth, t.proxyHeaders)
}
