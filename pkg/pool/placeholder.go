package pool

import "net"

// placeholder reserves a slot in the acquired sets while a dial is in flight.
// It counts against the limits like a real connection but is never handed to
// a caller; the dialed protocol replaces it under the same lock.
type placeholder struct{}

func newPlaceholder() *placeholder {
	return &placeholder{}
}

func (*placeholder) IsConnected() bool   { return false }
func (*placeholder) ShouldClose() bool   { return true }
func (*placeholder) ForceClose()         {}
func (*placeholder) Transport() net.Conn { return nil }
func (*placeholder) Close() error        { return nil }
