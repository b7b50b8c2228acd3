package resolve

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"hawser/pkg/conn"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
)

// CachedResolver layers the DNS cache and a single-flight gate over a
// Resolver. At most one lookup per endpoint is in flight at any moment;
// concurrent callers for the same endpoint share its result or its error.
type CachedResolver struct {
	resolver Resolver
	cache    *CacheTable
	useCache bool
	family   int
	group    singleflight.Group
	logger   log.Logger
	metrics  *metrics.Registry
}

// CachedResolverOptions configures a CachedResolver.
type CachedResolverOptions struct {
	// Resolver is the underlying resolver; nil selects the system resolver.
	Resolver Resolver

	// UseCache enables the DNS cache and lookup coalescing.
	UseCache bool

	// TTL bounds cached answers; zero caches forever.
	TTL time.Duration

	// Family restricts answers to one address family; FamilyAny allows both.
	Family int

	Logger  log.Logger
	Metrics *metrics.Registry
}

// NewCachedResolver creates a caching, coalescing resolver.
func NewCachedResolver(opts CachedResolverOptions) *CachedResolver {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewDefaultResolver()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &CachedResolver{
		resolver: resolver,
		cache:    NewCacheTable(opts.TTL),
		useCache: opts.UseCache,
		family:   opts.Family,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// UseCache reports whether DNS caching is enabled.
func (r *CachedResolver) UseCache() bool {
	return r.useCache
}

// Family returns the configured address family filter.
func (r *CachedResolver) Family() int {
	return r.family
}

// Cache exposes the cache table for eviction control.
func (r *CachedResolver) Cache() *CacheTable {
	return r.cache
}

// ResolveHost answers the addresses for host:port. Literal IP addresses are
// returned synthetically without consulting the resolver. With caching
// enabled, an unexpired cached answer is returned in its current rotation;
// otherwise the lookup goes through the single-flight gate so concurrent
// callers coalesce onto one resolver invocation. A failed lookup is broadcast
// to all coalesced callers and leaves no cache entry behind.
func (r *CachedResolver) ResolveHost(ctx context.Context, host string, port int, trace *conn.Trace) ([]AddrRecord, error) {
	if IsIPAddress(host) {
		return []AddrRecord{IPRecord(host, port, r.family)}, nil
	}

	if !r.useCache {
		trace.OnDNSResolveHostStart(host)
		r.metrics.DNSLookup()
		addrs, err := r.resolver.Resolve(ctx, host, port, r.family)
		if err != nil {
			return nil, err
		}
		trace.OnDNSResolveHostEnd(host)
		return addrs, nil
	}

	key := HostPortKey{Host: host, Port: port}

	if r.cache.Contains(key) && !r.cache.Expired(key) {
		trace.OnDNSCacheHit(host)
		r.metrics.DNSCacheHit()
		if addrs := r.cache.NextAddrs(key); addrs != nil {
			return addrs, nil
		}
		// Entry was evicted between the check and the read; fall through to a
		// fresh lookup.
	}

	// The leader flag is set only when this caller's closure actually runs;
	// singleflight's shared return marks the leader too, which would
	// double-count it.
	leader := false
	result, err, _ := r.group.Do(key.String(), func() (interface{}, error) {
		leader = true
		trace.OnDNSCacheMiss(host)
		r.metrics.DNSCacheMiss()

		trace.OnDNSResolveHostStart(host)
		r.metrics.DNSLookup()
		addrs, err := r.resolver.Resolve(ctx, host, port, r.family)
		if err != nil {
			return nil, err
		}
		trace.OnDNSResolveHostEnd(host)

		r.cache.Add(key, addrs)
		r.logger.WithFields(map[string]interface{}{
			"host":    host,
			"records": len(addrs),
		}).Debug("DNS cache updated")
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	if !leader {
		// This caller joined an in-flight lookup rather than starting one.
		trace.OnDNSCacheHit(host)
		r.metrics.DNSCacheHit()
	}

	// Each caller takes its own rotation so successive dials balance across
	// the answer set.
	if addrs := r.cache.NextAddrs(key); addrs != nil {
		return addrs, nil
	}
	return result.([]AddrRecord), nil
}
