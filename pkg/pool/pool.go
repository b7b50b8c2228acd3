// Package pool implements the connection pool: per-endpoint idle lists with
// LIFO reuse, global and per-endpoint concurrency limits with FIFO waiter
// queues, and a background reaper that retires connections past their
// keep-alive budget.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hawser/pkg/conn"
	"hawser/pkg/helper/log"
	"hawser/pkg/metrics"
)

// DefaultKeepAlive is the idle budget applied when the config leaves
// KeepAliveTimeout at zero.
const DefaultKeepAlive = 15 * time.Second

// reaper deadlines at or above this are rounded up to whole seconds so that
// pools sharing a process wake together.
const coalesceThreshold = 5 * time.Second

// DialFunc establishes a new connection for a request. The pool calls it with
// the acquiring goroutine's context; cancelling the acquire cancels the dial.
type DialFunc func(ctx context.Context, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (conn.Protocol, error)

// Config configures a Pool.
type Config struct {
	// KeepAliveTimeout is how long an idle connection may wait for reuse.
	// Zero selects DefaultKeepAlive. Must stay zero when ForceClose is set.
	KeepAliveTimeout time.Duration

	// ForceClose discards every connection on release instead of pooling it.
	ForceClose bool

	// Limit caps simultaneous connections across all endpoints. Zero means
	// unlimited.
	Limit int

	// LimitPerHost caps simultaneous connections per endpoint key. Zero means
	// unlimited.
	LimitPerHost int

	Logger  log.Logger
	Metrics *metrics.Registry
}

type idleEntry struct {
	proto    conn.Protocol
	released time.Time
}

type waiter struct {
	ch    chan struct{}
	woken bool
}

// Pool owns all pooled protocols. A single mutex guards the bookkeeping; it
// is never held across a dial, a protocol close, or a trace hook.
type Pool struct {
	mu              sync.Mutex
	closed          bool
	idle            map[conn.Key][]idleEntry
	acquired        map[conn.Protocol]struct{}
	acquiredPerHost map[conn.Key]map[conn.Protocol]struct{}
	waiters         map[conn.Key][]*waiter

	keepAlive    time.Duration
	forceClose   bool
	limit        int
	limitPerHost int

	dial DialFunc

	wake chan struct{}
	wg   sync.WaitGroup

	logger  log.Logger
	metrics *metrics.Registry
}

// New creates a pool and starts its reaper.
func New(cfg Config, dial DialFunc) *Pool {
	keepAlive := cfg.KeepAliveTimeout
	if keepAlive == 0 && !cfg.ForceClose {
		keepAlive = DefaultKeepAlive
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	p := &Pool{
		idle:            make(map[conn.Key][]idleEntry),
		acquired:        make(map[conn.Protocol]struct{}),
		acquiredPerHost: make(map[conn.Key]map[conn.Protocol]struct{}),
		waiters:         make(map[conn.Key][]*waiter),
		keepAlive:       keepAlive,
		forceClose:      cfg.ForceClose,
		limit:           cfg.Limit,
		limitPerHost:    cfg.LimitPerHost,
		dial:            dial,
		wake:            make(chan struct{}, 1),
		logger:          logger,
		metrics:         cfg.Metrics,
	}

	p.wg.Add(1)
	go p.reaper()

	return p
}

// Limit returns the total simultaneous-connection cap, zero for unlimited.
func (p *Pool) Limit() int { return p.limit }

// LimitPerHost returns the per-endpoint cap, zero for unlimited.
func (p *Pool) LimitPerHost() int { return p.limitPerHost }

// ForceClose reports whether every release discards its connection.
func (p *Pool) ForceClose() bool { return p.forceClose }

// KeepAliveTimeout returns the idle budget.
func (p *Pool) KeepAliveTimeout() time.Duration { return p.keepAlive }

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Available returns how many more connections may be opened for the key right
// now. Zero or negative means an acquire must wait.
func (p *Pool) Available(key conn.Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked(key)
}

func (p *Pool) availableLocked(key conn.Key) int {
	switch {
	case p.limit > 0:
		available := p.limit - len(p.acquired)
		if p.limitPerHost > 0 {
			if perHost, ok := p.acquiredPerHost[key]; ok {
				if perHostAvail := p.limitPerHost - len(perHost); perHostAvail < available {
					available = perHostAvail
				}
			}
		}
		return available
	case p.limitPerHost > 0:
		if perHost, ok := p.acquiredPerHost[key]; ok {
			return p.limitPerHost - len(perHost)
		}
		// Nothing acquired for this key yet; the first acquire proceeds and
		// makes the key visible to the arithmetic above.
		return 1
	default:
		// No limits at all: never block.
		return 1
	}
}

// Acquire returns a handle for the key, reusing an idle connection when one
// is healthy and dialing otherwise. When the key is at its limit, or other
// acquirers are already queued for it, the caller waits its turn in FIFO
// order.
func (p *Pool) Acquire(ctx context.Context, key conn.Key, req conn.Request, trace *conn.Trace, timeout conn.Timeout) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, conn.ErrConnectorClosed
	}

	// Wait when no slot is free, or when waiters already queue for this key:
	// a fresh acquire must not overtake a waiter about to be woken.
	if p.availableLocked(key) <= 0 || len(p.waiters[key]) > 0 {
		w := &waiter{ch: make(chan struct{})}
		p.waiters[key] = append(p.waiters[key], w)
		p.mu.Unlock()

		p.metrics.AcquireQueued()
		trace.OnConnQueuedStart()

		select {
		case <-w.ch:
		case <-ctx.Done():
			p.mu.Lock()
			p.removeWaiterLocked(key, w)
			if w.woken {
				// The slot was handed to us after cancellation; pass it on so
				// it is not lost.
				p.wakeOneLocked()
			}
			p.mu.Unlock()
			p.metrics.AcquireDequeued()
			return nil, ctx.Err()
		}

		p.metrics.AcquireDequeued()
		trace.OnConnQueuedEnd()

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, conn.ErrConnectorClosed
		}
	}

	proto, stale := p.popIdleLocked(key)
	if proto != nil {
		p.acquireLocked(key, proto)
		p.mu.Unlock()
		p.closeStale(stale, "disconnected")
		p.metrics.AcquireReused()
		trace.OnConnReused()
		return newHandle(p, key, proto), nil
	}

	// Reserve the slot with a placeholder while the dial is in flight so the
	// limits stay honest.
	ph := newPlaceholder()
	p.acquireLocked(key, ph)
	p.mu.Unlock()
	p.closeStale(stale, "disconnected")

	trace.OnConnCreateStart()
	start := time.Now()
	proto, err := p.dial(ctx, req, trace, timeout)

	p.mu.Lock()
	p.releaseAcquiredLockedNoWake(key, ph)
	if err != nil {
		if !p.closed {
			p.wakeOneLocked()
		}
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = proto.Close()
		return nil, conn.ErrConnectorClosed
	}
	p.acquireLocked(key, proto)
	p.mu.Unlock()

	p.metrics.AcquireCreated()
	p.metrics.DialSucceeded(time.Since(start).Seconds())
	trace.OnConnCreateEnd()
	return newHandle(p, key, proto), nil
}

func (p *Pool) acquireLocked(key conn.Key, proto conn.Protocol) {
	p.acquired[proto] = struct{}{}
	perHost, ok := p.acquiredPerHost[key]
	if !ok {
		perHost = make(map[conn.Protocol]struct{})
		p.acquiredPerHost[key] = perHost
	}
	perHost[proto] = struct{}{}
	p.metrics.SetAcquired(len(p.acquired))
}

// releaseAcquiredLockedNoWake removes the protocol from both acquired sets
// without waking a waiter.
func (p *Pool) releaseAcquiredLockedNoWake(key conn.Key, proto conn.Protocol) {
	delete(p.acquired, proto)
	if perHost, ok := p.acquiredPerHost[key]; ok {
		delete(perHost, proto)
		if len(perHost) == 0 {
			delete(p.acquiredPerHost, key)
		}
	}
	p.metrics.SetAcquired(len(p.acquired))
}

// popIdleLocked pops entries off the key's idle stack until a healthy one is
// found. Dead or expired entries are returned for closing outside the lock.
func (p *Pool) popIdleLocked(key conn.Key) (conn.Protocol, []conn.Protocol) {
	entries, ok := p.idle[key]
	if !ok {
		return nil, nil
	}

	var stale []conn.Protocol
	now := time.Now()
	for len(entries) > 0 {
		entry := entries[len(entries)-1]
		entries = entries[:len(entries)-1]

		if !entry.proto.IsConnected() || now.Sub(entry.released) > p.keepAlive {
			stale = append(stale, entry.proto)
			continue
		}

		if len(entries) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = entries
		}
		p.metrics.SetIdle(p.idleCountLocked())
		return entry.proto, stale
	}

	delete(p.idle, key)
	p.metrics.SetIdle(p.idleCountLocked())
	return nil, stale
}

func (p *Pool) idleCountLocked() int {
	n := 0
	for _, entries := range p.idle {
		n += len(entries)
	}
	return n
}

func (p *Pool) closeStale(stale []conn.Protocol, reason string) {
	for _, proto := range stale {
		if err := proto.Close(); err != nil {
			p.logger.WithError(err).Debug("Error closing stale connection")
		}
		p.metrics.ConnClosed(reason)
	}
}

// Release returns a leased protocol to the pool. Handles call this; it is not
// part of the public surface. A freed slot wakes at most one waiter, chosen
// by scanning keys in randomized order so no endpoint is systematically
// favored.
func (p *Pool) release(key conn.Key, proto conn.Protocol, shouldClose bool) {
	p.mu.Lock()
	if p.closed {
		// Pooled protocols are disposed of by Close.
		p.mu.Unlock()
		return
	}

	p.releaseAcquiredLockedNoWake(key, proto)
	p.wakeOneLocked()

	if p.forceClose || shouldClose || proto.ShouldClose() {
		p.mu.Unlock()
		p.pulseWake()
		// Not returned to the idle list; dispose of it here. Handle.Close
		// does not close it a second time.
		if err := proto.Close(); err != nil {
			p.logger.WithError(err).Debug("Error closing discarded connection")
		}
		p.metrics.ConnClosed("discarded")
		return
	}

	p.idle[key] = append(p.idle[key], idleEntry{proto: proto, released: time.Now()})
	p.metrics.SetIdle(p.idleCountLocked())
	p.mu.Unlock()
}

func (p *Pool) removeWaiterLocked(key conn.Key, w *waiter) {
	queue, ok := p.waiters[key]
	if !ok {
		return
	}
	for i, candidate := range queue {
		if candidate == w {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(p.waiters, key)
	} else {
		p.waiters[key] = queue
	}
}

// wakeOneLocked scans waiter queues in randomized key order and wakes the
// first head waiter whose key has a free slot. At most one waiter is woken.
func (p *Pool) wakeOneLocked() {
	if len(p.waiters) == 0 {
		return
	}

	keys := make([]conn.Key, 0, len(p.waiters))
	for key := range p.waiters {
		keys = append(keys, key)
	}
	rand.Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})

	for _, key := range keys {
		if p.availableLocked(key) < 1 {
			continue
		}
		queue := p.waiters[key]
		for len(queue) > 0 {
			w := queue[0]
			queue = queue[1:]
			if len(queue) == 0 {
				delete(p.waiters, key)
			} else {
				p.waiters[key] = queue
			}
			if !w.woken {
				w.woken = true
				close(w.ch)
				return
			}
		}
	}
}

func (p *Pool) pulseWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// CloseIdleConnections drops and closes every idle connection immediately,
// regardless of remaining keep-alive budget. Leased connections are not
// affected.
func (p *Pool) CloseIdleConnections() {
	p.mu.Lock()
	var toClose []conn.Protocol
	for _, entries := range p.idle {
		for _, entry := range entries {
			toClose = append(toClose, entry.proto)
		}
	}
	p.idle = make(map[conn.Key][]idleEntry)
	p.metrics.SetIdle(0)
	p.mu.Unlock()

	p.closeStale(toClose, "discarded")
}

// Close transitions the pool to its terminal state: waiting acquirers fail
// with ErrConnectorClosed, the reaper closes every idle connection and
// exits, and Close returns once it has.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	// Wake everything still queued; each woken acquirer observes the closed
	// flag and fails.
	for _, queue := range p.waiters {
		for _, w := range queue {
			if !w.woken {
				w.woken = true
				close(w.ch)
			}
		}
	}
	p.waiters = make(map[conn.Key][]*waiter)
	p.mu.Unlock()

	p.pulseWake()
	p.wg.Wait()
	return nil
}

// Stats returns a point-in-time snapshot of the pool counters.
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	waiters := 0
	for _, queue := range p.waiters {
		waiters += len(queue)
	}

	return map[string]interface{}{
		"idle_connections":     p.idleCountLocked(),
		"acquired_connections": len(p.acquired),
		"endpoints":            len(p.idle),
		"waiters":              waiters,
		"limit":                p.limit,
		"limit_per_host":       p.limitPerHost,
		"closed":               p.closed,
	}
}

// reaper periodically retires idle connections past the keep-alive budget.
// Release pulses it when a discarded connection needs sweeping; Close pulses
// it for the final sweep.
func (p *Pool) reaper() {
	defer p.wg.Done()

	for {
		delay := p.keepAlive
		if delay <= 0 {
			// force_close mode: releases pulse the wake signal directly.
			delay = time.Hour
		}
		when := time.Now().Add(delay)
		if delay >= coalesceThreshold {
			if rounded := when.Truncate(time.Second); rounded.Before(when) {
				when = rounded.Add(time.Second)
			}
		}

		timer := time.NewTimer(time.Until(when))
		select {
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
		// Collapse pulses that arrived during the sweep window.
		select {
		case <-p.wake:
		default:
		}

		closed := p.sweep()
		if closed {
			return
		}
	}
}

// sweep partitions each idle list into survivors and expired entries, closes
// the expired ones concurrently, and reports whether the pool is closed (in
// which case everything idle is closed).
func (p *Pool) sweep() bool {
	p.mu.Lock()
	closed := p.closed
	deadline := time.Now().Add(-p.keepAlive)

	var toClose []conn.Protocol
	survivors := make(map[conn.Key][]idleEntry, len(p.idle))
	for key, entries := range p.idle {
		var alive []idleEntry
		for _, entry := range entries {
			switch {
			case closed || !entry.proto.IsConnected() || entry.released.Before(deadline):
				toClose = append(toClose, entry.proto)
			default:
				alive = append(alive, entry)
			}
		}
		if len(alive) > 0 {
			survivors[key] = alive
		}
	}
	p.idle = survivors
	p.metrics.SetIdle(p.idleCountLocked())
	p.mu.Unlock()

	if len(toClose) > 0 {
		var g errgroup.Group
		for _, proto := range toClose {
			g.Go(proto.Close)
			p.metrics.ConnClosed("expired")
		}
		if err := g.Wait(); err != nil {
			p.logger.Error("Error while cleaning up connection", err)
		}
	}

	return closed
}
