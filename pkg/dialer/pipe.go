package dialer

import (
	"context"

	"hawser/pkg/conn"
	"hawser/pkg/helper/errors"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
)

// NamedPipeDialer connects to a Windows named pipe. Construction fails on
// other platforms.
type NamedPipeDialer struct {
	path    string
	factory conn.ProtocolFactory
	logger  log.Logger
	metrics *metrics.Registry
}

// NewNamedPipeDialer creates a dialer for the given pipe path, e.g.
// `\\.\pipe\hawser`.
func NewNamedPipeDialer(path string, factory conn.ProtocolFactory, logger log.Logger, m *metrics.Registry) (*NamedPipeDialer, error) {
	if !pipeSupported {
		return nil, errors.NotSupportedf("named pipes are only available on windows")
	}
	if path == "" {
		return nil, errors.InvalidInputf("named pipe dialer requires a pipe path")
	}
	if factory == nil {
		return nil, errors.InvalidInputf("named pipe dialer requires a protocol factory")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &NamedPipeDialer{path: path, factory: factory, logger: logger, metrics: m}, nil
}

// Path returns the pipe path.
func (d *NamedPipeDialer) Path() string {
	return d.path
}

// Dial connects to the pipe under the sock_connect budget.
func (d *NamedPipeDialer) Dial(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (conn.Protocol, error) {
	timeout = timeout.Norm()
	dctx, cancel := context.WithTimeout(ctx, timeout.SockConnect)
	defer cancel()

	d.metrics.DialStarted("pipe")

	raw, err := dialPipe(dctx, d.path)
	if err != nil {
		d.metrics.DialFailed("pipe")
		return nil, &conn.ConnectorError{Key: req.ConnectionKey(), Err: err}
	}
	return d.factory(raw), nil
}
