package connector

import (
	"context"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hawser/pkg/conn"
	"hawser/pkg/helper/errors"
	"hawser/pkg/resolve"
)

type staticResolver struct {
	records []resolve.AddrRecord
}

func (r *staticResolver) Resolve(ctx context.Context, host string, port int, family int) ([]resolve.AddrRecord, error) {
	out := make([]resolve.AddrRecord, len(r.records))
	copy(out, r.records)
	return out, nil
}

func TestConfigRejectsKeepAliveWithForceClose(t *testing.T) {
	cfg := DefaultTCPConfig()
	cfg.ForceClose = true
	cfg.KeepAliveTimeout = 30 * time.Second

	_, err := NewTCPConnector(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestConfigLimitNormalization(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantLimit int
		wantErr   bool
	}{
		{name: "zero selects default", limit: 0, wantLimit: DefaultLimit},
		{name: "explicit limit kept", limit: 7, wantLimit: 7},
		{name: "NoLimit disables", limit: NoLimit, wantLimit: 0},
		{name: "other negatives rejected", limit: -7, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTCPConfig()
			cfg.Limit = tc.limit

			c, err := NewTCPConnector(cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = c.Close() }()
			assert.Equal(t, tc.wantLimit, c.Limit())
		})
	}
}

func TestConnectorAccessors(t *testing.T) {
	cfg := DefaultTCPConfig()
	cfg.LimitPerHost = 4
	cfg.Family = resolve.FamilyIPv4

	c, err := NewTCPConnector(cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.Equal(t, DefaultLimit, c.Limit())
	assert.Equal(t, 4, c.LimitPerHost())
	assert.False(t, c.ForceClose())
	assert.True(t, c.UseDNSCache())
	assert.Equal(t, resolve.FamilyIPv4, c.Family())
	assert.False(t, c.Closed())

	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
}

func TestAcquireAfterCloseFails(t *testing.T) {
	c, err := NewTCPConnector(DefaultTCPConfig())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	target, err := NewTarget("http://example.com", TargetOptions{})
	require.NoError(t, err)

	_, err = c.Acquire(context.Background(), target, nil, conn.Timeout{})
	assert.ErrorIs(t, err, conn.ErrConnectorClosed)
}

func TestAcquireAndReuseThroughConnector(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c // held open until the listener closes
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := DefaultTCPConfig()
	cfg.Resolver = &staticResolver{records: []resolve.AddrRecord{{
		Hostname: "pool.test",
		Host:     "127.0.0.1",
		Port:     port,
		Family:   resolve.FamilyIPv4,
	}}}

	c, err := NewTCPConnector(cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	target, err := NewTarget("http://pool.test", TargetOptions{})
	require.NoError(t, err)

	var reused bool
	trace := &conn.Trace{ConnReused: func() { reused = true }}

	h1, err := c.Acquire(context.Background(), target, trace, conn.Timeout{})
	require.NoError(t, err)
	first := h1.Protocol()
	h1.Release()

	h2, err := c.Acquire(context.Background(), target, trace, conn.Timeout{})
	require.NoError(t, err)
	assert.Same(t, first, h2.Protocol())
	assert.True(t, reused)
	h2.Release()

	stats := c.Stats()
	assert.Equal(t, 1, stats["idle_connections"])
	c.CloseIdleConnections()
	assert.Equal(t, 0, c.Stats()["idle_connections"])
}

func TestPoolKeyNullsProxyForTunneledTLS(t *testing.T) {
	proxy, err := url.Parse("http://proxy.test:3128")
	require.NoError(t, err)

	tlsTarget, err := NewTarget("https://origin.test", TargetOptions{Proxy: proxy})
	require.NoError(t, err)
	assert.Equal(t, conn.NewKey("origin.test", 443, true, nil, nil, nil), poolKey(tlsTarget),
		"tunneled TLS connections pool under the direct key")

	plainTarget, err := NewTarget("http://origin.test", TargetOptions{Proxy: proxy})
	require.NoError(t, err)
	assert.Equal(t, plainTarget.ConnectionKey(), poolKey(plainTarget),
		"plain-HTTP proxy connections pool per proxy identity")
	assert.NotEmpty(t, poolKey(plainTarget).Proxy)
}

func TestNewTarget(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{name: "https default port", url: "https://example.com/path", wantHost: "example.com", wantPort: 443, wantTLS: true},
		{name: "http default port", url: "http://example.com", wantHost: "example.com", wantPort: 80},
		{name: "explicit port", url: "https://example.com:8443", wantHost: "example.com", wantPort: 8443, wantTLS: true},
		{name: "wss is TLS", url: "wss://example.com", wantHost: "example.com", wantPort: 443, wantTLS: true},
		{name: "missing host", url: "https://", wantErr: true},
		{name: "bad port", url: "http://example.com:notaport", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target, err := NewTarget(tc.url, TargetOptions{})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantHost, target.Host())
			assert.Equal(t, tc.wantPort, target.Port())
			assert.Equal(t, tc.wantTLS, target.IsTLS())
		})
	}
}

func TestNamedPipeConnectorPlatformGate(t *testing.T) {
	cfg := NamedPipeConfig{Path: `\\.\pipe\hawser`}
	c, err := NewNamedPipeConnector(cfg)
	if err != nil {
		assert.True(t, errors.Is(err, errors.ErrNotSupported))
		return
	}
	_ = c.Close()
}

func TestTransportProtocolLifecycle(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	proto := NewTransportProtocol(client)
	assert.True(t, proto.IsConnected())
	assert.False(t, proto.ShouldClose())
	assert.Same(t, client, proto.Transport())

	proto.ForceClose()
	assert.True(t, proto.ShouldClose())

	require.NoError(t, proto.Close())
	assert.False(t, proto.IsConnected())
	require.NoError(t, proto.Close(), "close is idempotent")
}
