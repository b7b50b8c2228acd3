package pool

import (
	"net"
	"sync"

	"hawser/pkg/conn"
)

// Handle is the lease a caller holds on a pooled protocol. Exactly one of
// Release or Close takes effect; subsequent calls are no-ops. Release
// callbacks fire once, before the protocol is handed back.
type Handle struct {
	pool  *Pool
	key   conn.Key
	proto conn.Protocol

	mu        sync.Mutex
	released  bool
	callbacks []func()
}

func newHandle(p *Pool, key conn.Key, proto conn.Protocol) *Handle {
	return &Handle{
		pool:  p,
		key:   key,
		proto: proto,
	}
}

// Key returns the pool bucket the lease belongs to.
func (h *Handle) Key() conn.Key {
	return h.key
}

// Protocol returns the leased protocol.
func (h *Handle) Protocol() conn.Protocol {
	return h.proto
}

// Transport returns the leased protocol's raw connection.
func (h *Handle) Transport() net.Conn {
	return h.proto.Transport()
}

// AddReleaseCallback registers a function invoked exactly once on the first
// of Release or Close.
func (h *Handle) AddReleaseCallback(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, fn)
}

// takeCallbacks flips the released flag and returns the callbacks to run, or
// nil when the handle was already released.
func (h *Handle) takeCallbacks() ([]func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, false
	}
	h.released = true
	callbacks := h.callbacks
	h.callbacks = nil
	return callbacks, true
}

func runCallbacks(callbacks []func()) {
	for _, fn := range callbacks {
		func() {
			// A failing callback must not keep the protocol from being
			// released.
			defer func() { _ = recover() }()
			fn()
		}()
	}
}

// Release hands the protocol back to the pool. It returns to the idle list
// unless the protocol reported it should close.
func (h *Handle) Release() {
	callbacks, first := h.takeCallbacks()
	if !first {
		return
	}
	runCallbacks(callbacks)
	h.pool.release(h.key, h.proto, h.proto.ShouldClose())
}

// Close discards the lease and closes the protocol. Safe to call after
// Release; the protocol is closed at most once by this handle and the pool
// together.
func (h *Handle) Close() error {
	callbacks, first := h.takeCallbacks()
	if !first {
		return nil
	}
	runCallbacks(callbacks)
	h.pool.release(h.key, h.proto, true)
	// An open pool closes the discarded protocol itself (logging any error);
	// only a closed pool leaves it connected for the handle to close.
	if !h.proto.IsConnected() {
		return nil
	}
	return h.proto.Close()
}

// Closed reports whether the lease has ended or the underlying transport
// dropped.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	return released || !h.proto.IsConnected()
}
