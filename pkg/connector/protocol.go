package connector

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"hawser/pkg/conn"
)

// transportProtocol is the default Protocol implementation: a thin stateful
// wrapper around a net.Conn. HTTP clients embedding hawser typically supply
// their own response-handler factory instead.
type transportProtocol struct {
	id string

	mu         sync.Mutex
	transport  net.Conn
	closed     bool
	forceClose bool
}

// NewTransportProtocol wraps an established connection into a Protocol. Each
// protocol carries a unique id surfaced in logs and stats.
func NewTransportProtocol(c net.Conn) conn.Protocol {
	return &transportProtocol{
		id:        uuid.NewString(),
		transport: c,
	}
}

func (p *transportProtocol) ID() string {
	return p.id
}

func (p *transportProtocol) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *transportProtocol) ShouldClose() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forceClose
}

func (p *transportProtocol) ForceClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceClose = true
}

func (p *transportProtocol) Transport() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport
}

func (p *transportProtocol) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	transport := p.transport
	p.mu.Unlock()

	if transport == nil {
		return nil
	}
	return transport.Close()
}
