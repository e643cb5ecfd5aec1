package stack_test

import (
	"net/netip"

	"github.com/goraet/goraet/internal/stack"
)

// fakeSocket is an in-memory Socket pairing two stacks directly, without
// touching a real kernel socket, so the dispatch/service pipeline can be
// exercised deterministically.
type fakeSocket struct {
	local netip.AddrPort
	peer  *fakeSocket
	inbox [][]byte
	block map[string]bool // destination address string -> currently blocked
}

func newFakeSocket(addr string) *fakeSocket {
	ap := netip.MustParseAddrPort(addr)
	return &fakeSocket{local: ap, block: make(map[string]bool)}
}

func (f *fakeSocket) LocalAddr() netip.AddrPort { return f.local }

func (f *fakeSocket) Receive() ([]byte, netip.AddrPort, bool) {
	if len(f.inbox) == 0 {
		return nil, netip.AddrPort{}, false
	}

	d := f.inbox[0]
	f.inbox = f.inbox[1:]

	return d, f.peer.local, true
}

func (f *fakeSocket) Send(data []byte, addr netip.AddrPort) error {
	if f.block[addr.String()] {
		return stack.ErrWouldBlock
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	f.peer.inbox = append(f.peer.inbox, cp)

	return nil
}

func (f *fakeSocket) Close() error { return nil }

var _ stack.Socket = (*fakeSocket)(nil)
