package netio_test

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/goraet/goraet/internal/netio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUDPSocketSendReceive(t *testing.T) {
	t.Parallel()

	a, err := netio.NewUDPSocket(netip.MustParseAddrPort("127.0.0.1:0"), discardLogger())
	if err != nil {
		t.Fatalf("NewUDPSocket(a) error: %v", err)
	}
	defer a.Close()

	b, err := netio.NewUDPSocket(netip.MustParseAddrPort("127.0.0.1:0"), discardLogger())
	if err != nil {
		t.Fatalf("NewUDPSocket(b) error: %v", err)
	}
	defer b.Close()

	if a.LocalAddr().Port() == 0 {
		t.Fatal("LocalAddr() returned port 0 after bind")
	}

	payload := []byte("hello")
	if err := a.Send(payload, b.LocalAddr()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	var (
		data []byte
		from netip.AddrPort
		ok   bool
	)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, from, ok = b.Receive()
		if ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if !ok {
		t.Fatal("Receive() never produced the sent datagram")
	}

	if string(data) != "hello" {
		t.Errorf("Receive() data = %q, want %q", data, "hello")
	}

	if from.Addr() != a.LocalAddr().Addr() {
		t.Errorf("Receive() from addr = %s, want %s", from.Addr(), a.LocalAddr().Addr())
	}
}

func TestUDPSocketReceiveEmptyIsNonBlocking(t *testing.T) {
	t.Parallel()

	s, err := netio.NewUDPSocket(netip.MustParseAddrPort("127.0.0.1:0"), discardLogger())
	if err != nil {
		t.Fatalf("NewUDPSocket() error: %v", err)
	}
	defer s.Close()

	start := time.Now()
	_, _, ok := s.Receive()
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Receive() on empty socket returned ok=true")
	}

	if elapsed > 500*time.Millisecond {
		t.Errorf("Receive() took %v on an empty socket, want near-instant", elapsed)
	}
}

func TestUDPSocketSendAfterClose(t *testing.T) {
	t.Parallel()

	s, err := netio.NewUDPSocket(netip.MustParseAddrPort("127.0.0.1:0"), discardLogger())
	if err != nil {
		t.Fatalf("NewUDPSocket() error: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	dst := netip.MustParseAddrPort("127.0.0.1:1")
	if err := s.Send([]byte("x"), dst); err == nil {
		t.Fatal("Send() after Close() returned nil error")
	}
}
