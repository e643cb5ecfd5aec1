//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/goraet/goraet/internal/stack"
	"github.com/goraet/goraet/internal/wire"
)

// writeTimeout bounds how long Send waits for the kernel socket buffer to
// drain before reporting backpressure to the caller. A short deadline is
// what turns an ordinary blocking net.UDPConn into the non-blocking
// Socket the stack expects: a write that can't complete immediately comes
// back as stack.ErrWouldBlock instead of stalling the service loop.
const writeTimeout = 20 * time.Millisecond

// UDPSocket implements stack.Socket over a UDP datagram socket. Receive
// never blocks — it polls with an immediate read deadline — and Send
// reports stack.ErrWouldBlock rather than stalling when the kernel send
// buffer is full.
type UDPSocket struct {
	conn  *net.UDPConn
	local netip.AddrPort

	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ stack.Socket = (*UDPSocket)(nil)

// NewUDPSocket binds a UDP socket at local and returns it wrapped as a
// stack.Socket. Supports both IPv4 and IPv6 depending on local's address
// family.
func NewUDPSocket(local netip.AddrPort, logger *slog.Logger) (*UDPSocket, error) {
	network := "udp4"
	if local.Addr().Is6() && !local.Addr().Is4In6() {
		network = "udp6"
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setReuseAddr(c)
		},
	}

	pc, err := lc.ListenPacket(context.Background(), network, local.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", local, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen udp %s: %w", local, ErrUnexpectedConnType)
	}

	bound, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("listen udp %s: %w", local, ErrUnexpectedConnType)
	}

	return &UDPSocket{
		conn:  conn,
		local: bound.AddrPort(),
		logger: logger.With(
			slog.String("component", "netio.udpsocket"),
			slog.String("local", bound.AddrPort().String()),
		),
	}, nil
}

// setReuseAddr sets SO_REUSEADDR so a restarted daemon can rebind its
// socket before the previous one has fully closed.
func setReuseAddr(c syscall.RawConn) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	if sockErr != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
	}

	return nil
}

// LocalAddr returns the bound local address.
func (s *UDPSocket) LocalAddr() netip.AddrPort {
	return s.local
}

// Receive performs one non-blocking read. ok is false when nothing was
// waiting (the common case on a polled socket) or the read failed; errors
// other than a plain timeout are logged since they may indicate a socket
// in a bad state.
func (s *UDPSocket) Receive() ([]byte, netip.AddrPort, bool) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return nil, netip.AddrPort{}, false
	}

	bufp, _ := wire.PacketPool.Get().(*[]byte)
	n, from, err := s.conn.ReadFromUDPAddrPort(*bufp)
	if err != nil {
		wire.PacketPool.Put(bufp)

		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			s.logger.Warn("udp receive error", slog.String("error", err.Error()))
		}

		return nil, netip.AddrPort{}, false
	}

	data := make([]byte, n)
	copy(data, (*bufp)[:n])
	wire.PacketPool.Put(bufp)

	return data, from, true
}

// Send writes data to addr, reporting stack.ErrWouldBlock if the socket
// send buffer does not drain within writeTimeout.
func (s *UDPSocket) Send(data []byte, addr netip.AddrPort) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", addr, ErrSocketClosed)
	}
	s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := s.conn.WriteToUDPAddrPort(data, addr); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return stack.ErrWouldBlock
		}

		return fmt.Errorf("send to %s: %w", addr, err)
	}

	return nil
}

// Close closes the underlying socket.
func (s *UDPSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close udp socket: %w", err)
	}

	return nil
}
