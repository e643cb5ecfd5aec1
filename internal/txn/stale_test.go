package txn_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/txn"
	"github.com/goraet/goraet/internal/wire"
)

func TestStalerEmitsOneNackThenDone(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ha := netip.MustParseAddrPort("127.0.0.1:7531")

	remote := estate.New(2, "bob", ha)
	s := txn.NewStaler(remote, wire.TxnKindAlive, 9, 4)

	out := s.Process(now)
	if !out.Done || len(out.Sends) != 1 {
		t.Fatalf("first Process = %+v, want Done with one nack", out)
	}

	nack := out.Sends[0]
	if nack.Header.PK != wire.PacketKindNack || nack.Header.TK != wire.TxnKindAlive {
		t.Fatalf("nack header = %+v, want Nack/Alive", nack.Header)
	}

	if nack.Header.TI != 9 || nack.Header.SI != 4 {
		t.Fatalf("nack ti/si = %d/%d, want 9/4 (echoed from the orphaned packet)", nack.Header.TI, nack.Header.SI)
	}

	if out := s.Process(now); len(out.Sends) != 0 || !out.Done {
		t.Fatalf("second Process = %+v, want Done with no further sends", out)
	}
}

func TestStalerReceiveIsNoOp(t *testing.T) {
	ha := netip.MustParseAddrPort("127.0.0.1:7531")
	remote := estate.New(2, "bob", ha)
	s := txn.NewStaler(remote, wire.TxnKindJoin, 1, 0)

	out := s.Receive(wire.PacketKindNack, 0, nil)
	if out.Done || len(out.Sends) != 0 {
		t.Fatalf("Receive = %+v, want empty Outcome", out)
	}
}
