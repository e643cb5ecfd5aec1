package stack

import "net/netip"

// Socket is the non-blocking UDP transport contract the stack drives. A
// concrete implementation lives in internal/netio; this package only
// depends on the interface so it can be exercised against a fake socket in
// tests.
type Socket interface {
	// LocalAddr reports the address the socket is bound to.
	LocalAddr() netip.AddrPort

	// Receive returns the next queued datagram without blocking. ok is
	// false when nothing is currently available.
	Receive() (data []byte, from netip.AddrPort, ok bool)

	// Send writes one datagram to addr. Implementations return
	// ErrWouldBlock (wrapped) when the kernel send buffer is full; any
	// other error is treated as fatal by the caller.
	Send(data []byte, addr netip.AddrPort) error

	// Close releases the socket.
	Close() error
}
