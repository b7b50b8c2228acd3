package conn

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Key identifies the equivalence class under which connections may be reused.
// Two requests share pooled connections iff their keys compare equal. Keys are
// comparable and cheap to copy.
type Key struct {
	Host  string
	Port  int
	IsTLS bool

	// Proxy is the proxy URL string, empty for direct connections. Credentials
	// and extra proxy headers participate via their hashes so that requests
	// with different proxy identities never share a tunnel.
	Proxy            string
	ProxyAuthHash    uint64
	ProxyHeadersHash uint64
}

// WithoutProxy returns the key with all proxy fields nulled. A connection that
// has been tunneled through a proxy and re-wrapped with TLS talks directly to
// the target, so it pools under the direct key.
func (k Key) WithoutProxy() Key {
	k.Proxy = ""
	k.ProxyAuthHash = 0
	k.ProxyHeadersHash = 0
	return k
}

func (k Key) String() string {
	scheme := "tcp"
	if k.IsTLS {
		scheme = "tls"
	}
	if k.Proxy != "" {
		return fmt.Sprintf("%s://%s:%d via %s", scheme, k.Host, k.Port, k.Proxy)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, k.Host, k.Port)
}

// NewKey derives the pool key for an endpoint.
func NewKey(host string, port int, isTLS bool, proxy *url.URL, auth *ProxyAuth, headers http.Header) Key {
	k := Key{
		Host:  host,
		Port:  port,
		IsTLS: isTLS,
	}
	if proxy != nil {
		k.Proxy = proxy.String()
		k.ProxyAuthHash = HashProxyAuth(auth)
		k.ProxyHeadersHash = HashProxyHeaders(headers)
	}
	return k
}

// HashProxyAuth folds proxy credentials into a stable 64-bit hash.
func HashProxyAuth(auth *ProxyAuth) uint64 {
	if auth == nil {
		return 0
	}
	d := xxhash.New()
	_, _ = d.WriteString(auth.Username)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(auth.Password)
	return d.Sum64()
}

// HashProxyHeaders folds extra proxy headers into a stable 64-bit hash,
// independent of map iteration order.
func HashProxyHeaders(h http.Header) uint64 {
	if len(h) == 0 {
		return 0
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		for _, v := range h[k] {
			_, _ = d.WriteString(v)
			_, _ = d.Write([]byte{0})
		}
	}
	return d.Sum64()
}
