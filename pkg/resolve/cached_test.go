package resolve

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hawser/pkg/conn"
	"hawser/pkg/helper/errors"
)

type stubResolver struct {
	mu      sync.Mutex
	calls   atomic.Int64
	entered chan struct{}
	gate    chan struct{}
	answers []AddrRecord
	err     error
}

func (r *stubResolver) Resolve(ctx context.Context, host string, port int, family int) ([]AddrRecord, error) {
	r.calls.Add(1)
	if r.entered != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([]AddrRecord, len(r.answers))
	copy(out, r.answers)
	return out, nil
}

func twoAnswers() []AddrRecord {
	return []AddrRecord{
		{Hostname: "slow.test", Host: "10.0.0.1", Port: 443, Family: FamilyIPv4},
		{Hostname: "slow.test", Host: "10.0.0.2", Port: 443, Family: FamilyIPv4},
	}
}

func TestResolveHostLiteralIPBypassesResolver(t *testing.T) {
	stub := &stubResolver{}
	r := NewCachedResolver(CachedResolverOptions{Resolver: stub, UseCache: true, Family: FamilyIPv4})

	addrs, err := r.ResolveHost(context.Background(), "10.1.2.3", 8080, nil)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, AddrRecord{Hostname: "10.1.2.3", Host: "10.1.2.3", Port: 8080, Family: FamilyIPv4}, addrs[0])
	assert.Equal(t, int64(0), stub.calls.Load(), "literal IPs must not hit the resolver")
}

func TestResolveHostCachesAnswers(t *testing.T) {
	stub := &stubResolver{answers: twoAnswers()}
	r := NewCachedResolver(CachedResolverOptions{Resolver: stub, UseCache: true})

	var hits, misses atomic.Int64
	trace := &conn.Trace{
		DNSCacheHit:  func(string) { hits.Add(1) },
		DNSCacheMiss: func(string) { misses.Add(1) },
	}

	first, err := r.ResolveHost(context.Background(), "slow.test", 443, trace)
	require.NoError(t, err)
	second, err := r.ResolveHost(context.Background(), "slow.test", 443, trace)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stub.calls.Load(), "second lookup must come from the cache")
	assert.Equal(t, int64(1), misses.Load())
	assert.Equal(t, int64(1), hits.Load())

	// Same answer set, rotated by one.
	assert.Equal(t, "10.0.0.1", first[0].Host)
	assert.Equal(t, "10.0.0.2", second[0].Host)
}

func TestResolveHostSingleFlight(t *testing.T) {
	stub := &stubResolver{
		answers: twoAnswers(),
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	r := NewCachedResolver(CachedResolverOptions{Resolver: stub, UseCache: true})

	const callers = 3
	results := make([][]AddrRecord, callers)
	errs := make([]error, callers)

	var done sync.WaitGroup
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			results[i], errs[i] = r.ResolveHost(context.Background(), "slow.test", 443, nil)
		}(i)
	}

	// Wait for the leader to reach the resolver, give the followers time to
	// pile onto the in-flight lookup, then let it finish.
	<-stub.entered
	time.Sleep(50 * time.Millisecond)
	close(stub.gate)
	done.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2, "every caller receives the full answer set")
	}
	assert.Equal(t, int64(1), stub.calls.Load(), "coalesced lookups must invoke the resolver once")

	// Three reads of a two-record rotation: offsets 0, 1 and 2, so the first
	// element is 10.0.0.1 twice and 10.0.0.2 once, in some order.
	firsts := map[string]int{}
	for i := 0; i < callers; i++ {
		firsts[results[i][0].Host]++
	}
	assert.Equal(t, map[string]int{"10.0.0.1": 2, "10.0.0.2": 1}, firsts)
}

func TestResolveHostFailureLeavesNoState(t *testing.T) {
	stub := &stubResolver{err: errors.New("boom")}
	r := NewCachedResolver(CachedResolverOptions{Resolver: stub, UseCache: true})

	_, err := r.ResolveHost(context.Background(), "down.test", 443, nil)
	require.Error(t, err)
	assert.False(t, r.Cache().Contains(HostPortKey{Host: "down.test", Port: 443}),
		"a failed lookup must not be cached")

	// The next call retries the resolver rather than replaying the failure.
	stub.mu.Lock()
	stub.err = nil
	stub.answers = twoAnswers()
	stub.mu.Unlock()

	addrs, err := r.ResolveHost(context.Background(), "down.test", 443, nil)
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestResolveHostCacheDisabled(t *testing.T) {
	stub := &stubResolver{answers: twoAnswers()}
	r := NewCachedResolver(CachedResolverOptions{Resolver: stub, UseCache: false})

	var starts, ends atomic.Int64
	trace := &conn.Trace{
		DNSResolveHostStart: func(string) { starts.Add(1) },
		DNSResolveHostEnd:   func(string) { ends.Add(1) },
	}

	for i := 0; i < 3; i++ {
		addrs, err := r.ResolveHost(context.Background(), "slow.test", 443, trace)
		require.NoError(t, err)
		assert.Len(t, addrs, 2)
	}

	assert.Equal(t, int64(3), stub.calls.Load(), "cache disabled means one resolver call per lookup")
	assert.Equal(t, int64(3), starts.Load())
	assert.Equal(t, int64(3), ends.Load())
	assert.Equal(t, 0, r.Cache().Len())
}

func TestDefaultResolverFamilyFilter(t *testing.T) {
	r := NewDefaultResolver()
	addrs, err := r.Resolve(context.Background(), "localhost", 80, FamilyIPv4)
	if err != nil {
		t.Skipf("localhost did not resolve to IPv4: %v", err)
	}
	for _, rec := range addrs {
		assert.Equal(t, FamilyIPv4, rec.Family)
		assert.Equal(t, "localhost", rec.Hostname)
		assert.Equal(t, 80, rec.Port)
	}
}
