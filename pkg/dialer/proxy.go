package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"hawser/pkg/conn"
)

// dialProxy connects through an HTTP proxy. Plain-HTTP targets get the proxy
// connection itself (the request writer sends absolute-form requests and the
// Proxy-Authorization header); TLS targets get a CONNECT tunnel re-wrapped
// with TLS against the origin.
//
// Proxy connections are marked force-close: proxy keep-alive handling is
// unreliable in the wild, so they are never pooled.
func (d *TCPDialer) dialProxy(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (conn.Protocol, error) {
	proxyURL := req.Proxy()
	proxyReq := newProxyRequest(proxyURL)

	d.metrics.DialStarted("proxy")

	// The caller's trace observes the origin connection, not the proxy hop.
	cn, err := d.dialDirect(ctx, proxyReq, nil, timeout, wrapProxyError)
	if err != nil {
		d.metrics.DialFailed("proxy")
		return nil, err
	}

	if !req.IsTLS() {
		proto := d.factory(cn)
		proto.ForceClose()
		return proto, nil
	}

	tunneled, err := d.establishTunnel(ctx, cn, req, proxyURL, timeout)
	if err != nil {
		d.metrics.DialFailed("proxy")
		return nil, err
	}

	proto := d.factory(tunneled)
	proto.ForceClose()
	return proto, nil
}

// establishTunnel issues CONNECT on the proxy connection and, on a 200
// answer, hands the same transport to TLS with the origin as server name.
// There is no socket duplication step: the TLS layer wraps the existing
// connection in place.
func (d *TCPDialer) establishTunnel(ctx context.Context, cn net.Conn, req conn.Request, proxyURL *url.URL, timeout conn.Timeout) (net.Conn, error) {
	key := req.ConnectionKey()
	hostPort := net.JoinHostPort(req.Host(), strconv.Itoa(req.Port()))

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString("CONNECT ")
	_, _ = buf.WriteString(hostPort)
	_, _ = buf.WriteString(" HTTP/1.1\r\nHost: ")
	_, _ = buf.WriteString(hostPort)
	_, _ = buf.WriteString("\r\n")
	for name, values := range req.ProxyHeaders() {
		for _, value := range values {
			_, _ = buf.WriteString(name)
			_, _ = buf.WriteString(": ")
			_, _ = buf.WriteString(value)
			_, _ = buf.WriteString("\r\n")
		}
	}
	if auth := req.ProxyAuth(); auth != nil {
		_, _ = buf.WriteString("Proxy-Authorization: Basic ")
		_, _ = buf.WriteString(basicAuth(auth))
		_, _ = buf.WriteString("\r\n")
	}
	_, _ = buf.WriteString("\r\n")

	_ = cn.SetDeadline(time.Now().Add(timeout.SockConnect))

	if _, err := cn.Write(buf.B); err != nil {
		_ = cn.Close()
		return nil, wrapProxyError(key, err)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: hostPort},
		Host:   hostPort,
	}
	br := bufio.NewReader(cn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		_ = cn.Close()
		return nil, wrapProxyError(key, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = cn.Close()
		return nil, &conn.HTTPProxyError{
			Proxy:   proxyURL,
			Status:  resp.StatusCode,
			Message: statusMessage(resp),
			Headers: resp.Header,
		}
	}

	clearDeadline(cn)

	hctx, cancel := context.WithTimeout(ctx, timeout.SockConnect)
	defer cancel()

	tlsConfig := selectTLSConfig(req, d.policy)
	tunneled, err := attachTLS(hctx, cn, tlsConfig, req.Host(), key)
	if err != nil {
		return nil, err
	}

	if fingerprint := selectFingerprint(req, d.policy); fingerprint != nil {
		tlsConn := tunneled.(*tls.Conn)
		if err := fingerprint.Check(tlsConn.ConnectionState(), req.Host(), req.Port()); err != nil {
			_ = tunneled.Close()
			return nil, err
		}
	}

	return tunneled, nil
}

// statusMessage extracts the reason phrase from a response status line.
func statusMessage(resp *http.Response) string {
	message := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return message
}

func basicAuth(auth *conn.ProxyAuth) string {
	return base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
}

// proxyRequest adapts a proxy URL into the request view dialDirect consumes.
type proxyRequest struct {
	url  *url.URL
	host string
	port int
}

func newProxyRequest(proxyURL *url.URL) *proxyRequest {
	host := proxyURL.Hostname()
	port := 80
	if p := proxyURL.Port(); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	} else if proxyURL.Scheme == "https" {
		port = 443
	}
	return &proxyRequest{url: proxyURL, host: host, port: port}
}

func (r *proxyRequest) URL() *url.URL              { return r.url }
func (r *proxyRequest) Host() string               { return r.host }
func (r *proxyRequest) Port() int                  { return r.port }
func (r *proxyRequest) IsTLS() bool                { return r.url.Scheme == "https" }
func (r *proxyRequest) TLS() *conn.TLSPolicy       { return nil }
func (r *proxyRequest) Proxy() *url.URL            { return nil }
func (r *proxyRequest) ProxyAuth() *conn.ProxyAuth { return nil }
func (r *proxyRequest) ProxyHeaders() http.Header  { return nil }
func (r *proxyRequest) ConnectionKey() conn.Key {
	return conn.NewKey(r.host, r.port, r.IsTLS(), nil, nil, nil)
}
