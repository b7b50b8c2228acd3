package conn

import (
	"fmt"
	"net/http"
	"net/url"

	"hawser/pkg/helper/errors"
)

// ErrConnectorClosed is returned by Acquire after the connector has been
// closed.
var ErrConnectorClosed = errors.New("connector is closed")

// ConnectorError wraps a socket-level failure while establishing a connection
// for the given pool key.
type ConnectorError struct {
	Key Key
	Err error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Key, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// ProxyConnectionError reports a failure dialing the proxy itself, before any
// CONNECT exchange.
type ProxyConnectionError struct {
	ConnectorError
}

func (e *ProxyConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to proxy for %s: %v", e.Key, e.Err)
}

// SSLError reports a TLS handshake failure.
type SSLError struct {
	ConnectorError
}

func (e *SSLError) Error() string {
	return fmt.Sprintf("TLS handshake with %s failed: %v", e.Key, e.Err)
}

// CertificateError reports a certificate validation failure during the TLS
// handshake.
type CertificateError struct {
	ConnectorError
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate verification for %s failed: %v", e.Key, e.Err)
}

// HTTPProxyError reports a proxy that answered the CONNECT request with a
// non-200 status.
type HTTPProxyError struct {
	Proxy   *url.URL
	Status  int
	Message string
	Headers http.Header
}

func (e *HTTPProxyError) Error() string {
	return fmt.Sprintf("proxy %s responded %d %s to CONNECT", e.Proxy, e.Status, e.Message)
}
