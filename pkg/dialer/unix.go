package dialer

import (
	"context"
	"net"

	"hawser/pkg/conn"
	"hawser/pkg/helper/errors"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
)

// UnixDialer connects to a Unix domain socket. There is no DNS step, no TLS
// and no pinning; the socket path stands in for host and port.
type UnixDialer struct {
	path    string
	factory conn.ProtocolFactory
	logger  log.Logger
	metrics *metrics.Registry
}

// NewUnixDialer creates a dialer for the given socket path.
func NewUnixDialer(path string, factory conn.ProtocolFactory, logger log.Logger, m *metrics.Registry) (*UnixDialer, error) {
	if path == "" {
		return nil, errors.InvalidInputf("unix dialer requires a socket path")
	}
	if factory == nil {
		return nil, errors.InvalidInputf("unix dialer requires a protocol factory")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &UnixDialer{path: path, factory: factory, logger: logger, metrics: m}, nil
}

// Path returns the socket path.
func (d *UnixDialer) Path() string {
	return d.path
}

// Dial connects to the socket under the sock_connect budget.
func (d *UnixDialer) Dial(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (conn.Protocol, error) {
	timeout = timeout.Norm()
	dctx, cancel := context.WithTimeout(ctx, timeout.SockConnect)
	defer cancel()

	d.metrics.DialStarted("unix")

	var nd net.Dialer
	raw, err := nd.DialContext(dctx, "unix", d.path)
	if err != nil {
		d.metrics.DialFailed("unix")
		return nil, &conn.ConnectorError{Key: req.ConnectionKey(), Err: err}
	}
	return d.factory(raw), nil
}
