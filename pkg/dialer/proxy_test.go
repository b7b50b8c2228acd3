package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hawser/pkg/conn"
	"hawser/pkg/resolve"
)

// connectProxy is a minimal in-test HTTP proxy: it records the CONNECT
// request it receives and answers with a fixed status. On 200 it turns the
// connection into a TLS server for the tunneled leg.
type connectProxy struct {
	t          *testing.T
	status     int
	statusText string
	headers    string
	tlsCert    *tls.Certificate

	requests chan string
	port     int
}

func startConnectProxy(t *testing.T, status int, statusText string, headers string, tlsCert *tls.Certificate) *connectProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	p := &connectProxy{
		t:          t,
		status:     status,
		statusText: statusText,
		headers:    headers,
		tlsCert:    tlsCert,
		requests:   make(chan string, 4),
		port:       ln.Addr().(*net.TCPAddr).Port,
	}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go p.handle(c)
		}
	}()

	return p
}

func (p *connectProxy) handle(c net.Conn) {
	defer c.Close()

	br := bufio.NewReader(c)
	var request strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		request.WriteString(line)
		if line == "\r\n" {
			break
		}
	}
	p.requests <- request.String()

	response := "HTTP/1.1 " + strconv.Itoa(p.status) + " " + p.statusText + "\r\n" + p.headers + "\r\n"
	if _, err := io.WriteString(c, response); err != nil {
		return
	}

	if p.status == http.StatusOK && p.tlsCert != nil {
		s := tls.Server(c, &tls.Config{Certificates: []tls.Certificate{*p.tlsCert}})
		defer s.Close()
		if err := s.Handshake(); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, s)
	}
}

func (p *connectProxy) url(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("http://127.0.0.1:" + strconv.Itoa(p.port))
	require.NoError(t, err)
	return u
}

func newProxyTestDialer(t *testing.T, policy *conn.TLSPolicy) *TCPDialer {
	t.Helper()
	// Proxy addresses are literal IPs, so the resolver is never consulted.
	return newTestDialer(t, nil, policy)
}

func TestDialProxyConnectTunnel(t *testing.T) {
	tlsCert, _ := newServerCert(t, "target.test")
	proxy := startConnectProxy(t, http.StatusOK, "Connection established", "", &tlsCert)

	d := newProxyTestDialer(t, &conn.TLSPolicy{InsecureSkipVerify: true})
	req := &stubRequest{
		host:      "target.test",
		port:      443,
		tls:       true,
		proxy:     proxy.url(t),
		proxyAuth: &conn.ProxyAuth{Username: "user", Password: "secret"},
		headers:   http.Header{"X-Trace": []string{"abc"}},
	}

	proto, err := d.Dial(context.Background(), req, nil, conn.Timeout{})
	require.NoError(t, err)
	defer proto.Close()

	request := <-proxy.requests
	assert.True(t, strings.HasPrefix(request, "CONNECT target.test:443 HTTP/1.1\r\n"),
		"CONNECT line missing, got: %q", request)
	assert.Contains(t, request, "Host: target.test:443\r\n")
	assert.Contains(t, request, "Proxy-Authorization: Basic dXNlcjpzZWNyZXQ=\r\n")
	assert.Contains(t, request, "X-Trace: abc\r\n")

	_, ok := proto.Transport().(*tls.Conn)
	assert.True(t, ok, "tunneled transport must be TLS against the origin")
	assert.True(t, proto.ShouldClose(), "proxied connections are never pooled")
}

func TestDialProxyRejectsConnect(t *testing.T) {
	proxy := startConnectProxy(t, http.StatusProxyAuthRequired, "Proxy Authentication Required",
		"Proxy-Authenticate: Basic realm=\"proxy\"\r\nContent-Length: 0\r\n", nil)

	d := newProxyTestDialer(t, nil)
	req := &stubRequest{
		host:  "target.test",
		port:  443,
		tls:   true,
		proxy: proxy.url(t),
	}

	_, err := d.Dial(context.Background(), req, nil, conn.Timeout{})
	require.Error(t, err)

	var proxyErr *conn.HTTPProxyError
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, http.StatusProxyAuthRequired, proxyErr.Status)
	assert.Equal(t, "Proxy Authentication Required", proxyErr.Message)
	assert.Equal(t, "Basic realm=\"proxy\"", proxyErr.Headers.Get("Proxy-Authenticate"))
}

func TestDialProxyPlainHTTP(t *testing.T) {
	// Plain-HTTP targets use the proxy connection directly; no CONNECT.
	port := startTCPServer(t)
	proxyURL, err := url.Parse("http://127.0.0.1:" + strconv.Itoa(port))
	require.NoError(t, err)

	d := newProxyTestDialer(t, nil)
	req := &stubRequest{
		host:  "target.test",
		port:  80,
		tls:   false,
		proxy: proxyURL,
	}

	proto, err := d.Dial(context.Background(), req, nil, conn.Timeout{})
	require.NoError(t, err)
	defer proto.Close()

	assert.Equal(t, port, proto.Transport().RemoteAddr().(*net.TCPAddr).Port,
		"plain-HTTP requests talk to the proxy itself")
	assert.True(t, proto.ShouldClose(), "proxied connections are never pooled")
}

func TestDialProxyUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	proxyURL, err := url.Parse("http://127.0.0.1:" + strconv.Itoa(port))
	require.NoError(t, err)

	d := newProxyTestDialer(t, nil)
	req := &stubRequest{host: "target.test", port: 443, tls: true, proxy: proxyURL}

	_, err = d.Dial(context.Background(), req, nil, conn.Timeout{})
	require.Error(t, err)

	var proxyErr *conn.ProxyConnectionError
	require.ErrorAs(t, err, &proxyErr)
}

func TestUnixDialer(t *testing.T) {
	path := t.TempDir() + "/hawser.sock"
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}()
		}
	}()

	d, err := NewUnixDialer(path, newTestProtocol, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, path, d.Path())

	req := &stubRequest{host: "localhost", port: 0}
	proto, err := d.Dial(context.Background(), req, nil, conn.Timeout{})
	require.NoError(t, err)
	defer proto.Close()
	assert.True(t, proto.IsConnected())
}

func TestUnixDialerMissingSocket(t *testing.T) {
	d, err := NewUnixDialer(t.TempDir()+"/missing.sock", newTestProtocol, nil, nil)
	require.NoError(t, err)

	req := &stubRequest{host: "localhost", port: 0}
	_, err = d.Dial(context.Background(), req, nil, conn.Timeout{})
	require.Error(t, err)

	var connErr *conn.ConnectorError
	require.ErrorAs(t, err, &connErr)
}

func TestNamedPipeDialerUnsupportedPlatform(t *testing.T) {
	if pipeSupported {
		t.Skip("named pipes are supported on this platform")
	}
	_, err := NewNamedPipeDialer(`\\.\pipe\hawser`, newTestProtocol, nil, nil)
	require.Error(t, err)
}

var _ resolve.Resolver = (*addrResolver)(nil)
