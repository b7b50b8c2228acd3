// Package resolve provides host resolution for the dialers: an address-record
// model, a TTL-bounded cache with round-robin rotation, and a cached resolver
// that coalesces concurrent lookups for the same endpoint into a single
// resolver invocation.
package resolve

import (
	"context"
	"net"
	"strconv"

	"hawser/pkg/helper/errors"
)

// Address families. The values mirror the AF_* constants the records would
// carry on a Linux host.
const (
	FamilyAny  = 0
	FamilyIPv4 = 2
	FamilyIPv6 = 10
)

// AddrRecord is one resolved address. Hostname preserves the name the lookup
// was made under, for SNI; Host is the numeric address handed to the socket.
type AddrRecord struct {
	Hostname string
	Host     string
	Port     int
	Family   int
	Proto    int
	Flags    int
}

// Resolver answers a host and port with an ordered list of address records.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int, family int) ([]AddrRecord, error)
}

// DefaultResolver resolves through the system resolver (net.DefaultResolver).
type DefaultResolver struct {
	resolver *net.Resolver
}

// NewDefaultResolver returns a resolver backed by the system resolver.
func NewDefaultResolver() *DefaultResolver {
	return &DefaultResolver{resolver: net.DefaultResolver}
}

// Resolve looks up the host and filters the answers by address family.
func (r *DefaultResolver) Resolve(ctx context.Context, host string, port int, family int) ([]AddrRecord, error) {
	ips, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	records := make([]AddrRecord, 0, len(ips))
	for _, ip := range ips {
		fam := FamilyIPv6
		if ip.IP.To4() != nil {
			fam = FamilyIPv4
		}
		if family != FamilyAny && family != fam {
			continue
		}
		records = append(records, AddrRecord{
			Hostname: host,
			Host:     ip.IP.String(),
			Port:     port,
			Family:   fam,
		})
	}
	if len(records) == 0 {
		return nil, errors.NotFoundf("no %s addresses for host %q", familyName(family), host)
	}
	return records, nil
}

func familyName(family int) string {
	switch family {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	default:
		return "IP"
	}
}

// IPRecord builds the synthetic record returned for literal IP addresses,
// bypassing the resolver entirely.
func IPRecord(host string, port int, family int) AddrRecord {
	return AddrRecord{
		Hostname: host,
		Host:     host,
		Port:     port,
		Family:   family,
	}
}

// IsIPAddress reports whether host parses as a literal IP address.
func IsIPAddress(host string) bool {
	return net.ParseIP(host) != nil
}

// HostPortKey is the cache and coalescing key for one endpoint.
type HostPortKey struct {
	Host string
	Port int
}

func (k HostPortKey) String() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}
