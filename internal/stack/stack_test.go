package stack_test

import (
	"net/netip"
	"testing"
	"time"

	"golang.org/x/crypto/nacl/sign"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/stack"
)

func pump(t *testing.T, now time.Time, stacks ...*stack.Stack) {
	t.Helper()

	for range 4 {
		for _, s := range stacks {
			s.ServiceAll(now)
		}
	}
}

func TestJoinHappyPath(t *testing.T) {
	apA := netip.MustParseAddrPort("127.0.0.1:7530")
	apB := netip.MustParseAddrPort("127.0.0.1:7531")

	sockA := newFakeSocket(apA.String())
	sockB := newFakeSocket(apB.String())
	sockA.peer, sockB.peer = sockB, sockA

	stA := stack.New(estate.New(1, "alice", apA), sockA)
	stB := stack.New(estate.New(2, "bob", apB), sockB)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := stA.Join(apB, now); err != nil {
		t.Fatalf("Join: %v", err)
	}

	pump(t, now, stA, stB)

	if got := stA.PendingTransactions(); got != 0 {
		t.Fatalf("stA pending transactions = %d, want 0", got)
	}

	if got := stB.PendingTransactions(); got != 0 {
		t.Fatalf("stB pending transactions = %d, want 0", got)
	}

	if got := stB.Registry().Len(); got != 1 {
		t.Fatalf("stB registry len = %d, want 1 (alice bootstrapped)", got)
	}
}

func TestStaleSessionRejected(t *testing.T) {
	apA := netip.MustParseAddrPort("127.0.0.1:7532")
	apB := netip.MustParseAddrPort("127.0.0.1:7533")

	sockA := newFakeSocket(apA.String())
	sockB := newFakeSocket(apB.String())
	sockA.peer, sockB.peer = sockB, sockA

	localA := estate.New(10, "carol", apA)
	localB := estate.New(20, "dave", apB)

	stA := stack.New(localA, sockA)
	stB := stack.New(localB, sockB)

	// Pre-populate each side's registry with the other, as if join had
	// already completed, so we can drive allow/alive traffic directly.
	remoteOfA := estate.New(20, "dave", apB)
	remoteOfA.SID = 5
	if err := stA.AddRemote(remoteOfA); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	remoteOfB := estate.New(10, "carol", apA)
	remoteOfB.RSID = 9 // already observed a higher sid than the replay below
	if err := stB.AddRemote(remoteOfB); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := stA.Allow(20, now); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	pump(t, now, stA, stB)

	if got := stB.Stat("stale_sid_attempt"); got == 0 {
		t.Fatalf("stB stale_sid_attempt = 0, want > 0 (hello carries a stale sid)")
	}
}

func TestRemoveRemoteCancelsTransactions(t *testing.T) {
	apA := netip.MustParseAddrPort("127.0.0.1:7534")
	sockA := newFakeSocket(apA.String())
	sockA.peer = newFakeSocket("127.0.0.1:7535")

	stA := stack.New(estate.New(1, "erin", apA), sockA)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	remote := estate.New(99, "frank", sockA.peer.local)
	if err := stA.AddRemote(remote); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	if err := stA.Allow(99, now); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	if got := stA.PendingTransactions(); got != 1 {
		t.Fatalf("pending transactions = %d, want 1", got)
	}

	if err := stA.RemoveRemote(99); err != nil {
		t.Fatalf("RemoveRemote: %v", err)
	}

	if got := stA.PendingTransactions(); got != 0 {
		t.Fatalf("pending transactions after removal = %d, want 0", got)
	}

	if got := stA.Registry().Len(); got != 0 {
		t.Fatalf("registry len after removal = %d, want 0", got)
	}
}

// TestJoinAllowAliveCompletesWithSessionKey drives the full join -> allow
// -> alive cascade across two stacks with real signing keypairs, the
// scenario in which an Allow handshake must leave both sides with a
// matching session key before an Alive probe can pack/verify at all.
func TestJoinAllowAliveCompletesWithSessionKey(t *testing.T) {
	apA := netip.MustParseAddrPort("127.0.0.1:7540")
	apB := netip.MustParseAddrPort("127.0.0.1:7541")

	sockA := newFakeSocket(apA.String())
	sockB := newFakeSocket(apB.String())
	sockA.peer, sockB.peer = sockB, sockA

	localA := estate.New(1, "judy", apA)
	localB := estate.New(2, "kevin", apB)

	signPubA, signPrivA, err := sign.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	signPubB, signPrivB, err := sign.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	localA.SignPublic, localA.SignPrivate = signPubA, signPrivA
	localB.SignPublic, localB.SignPrivate = signPubB, signPrivB

	stA := stack.New(localA, sockA)
	stB := stack.New(localB, sockB)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := stA.Join(apB, now); err != nil {
		t.Fatalf("Join: %v", err)
	}

	pump(t, now, stA, stB)

	if err := stA.Allow(0, now); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	pump(t, now, stA, stB)

	remoteOfB, ok := stA.Registry().FetchByUID(0)
	if !ok {
		t.Fatal("stA has no remote at uid 0 after join")
	}

	if remoteOfB.SessionKey == nil {
		t.Fatal("Allow did not leave a session key on stA's remote")
	}

	if err := stA.Alive(0, now); err != nil {
		t.Fatalf("Alive: %v", err)
	}

	pump(t, now, stA, stB)

	if got := stA.Stat("alive_complete"); got < 1 {
		t.Fatalf("stA alive_complete = %d, want >= 1", got)
	}

	if got := stA.PendingTransactions(); got != 0 {
		t.Fatalf("stA pending transactions = %d, want 0", got)
	}

	if got := stB.PendingTransactions(); got != 0 {
		t.Fatalf("stB pending transactions = %d, want 0", got)
	}
}

func TestTransmitRejectsNilBody(t *testing.T) {
	ap := netip.MustParseAddrPort("127.0.0.1:7536")
	sock := newFakeSocket(ap.String())
	sock.peer = newFakeSocket("127.0.0.1:7537")

	st := stack.New(estate.New(1, "grace", ap), sock)

	if err := st.Transmit(nil, 0, false, false); err != stack.ErrInvalidTransmitBody {
		t.Fatalf("Transmit(nil) error = %v, want ErrInvalidTransmitBody", err)
	}

	if got := st.Stat("invalid_transmit_body"); got != 1 {
		t.Fatalf("invalid_transmit_body stat = %d, want 1", got)
	}
}

func TestBackpressurePreservesPerDestinationOrder(t *testing.T) {
	apA := netip.MustParseAddrPort("127.0.0.1:7538")
	apB := netip.MustParseAddrPort("127.0.0.1:7539")

	sockA := newFakeSocket(apA.String())
	sockB := newFakeSocket(apB.String())
	sockA.peer, sockB.peer = sockB, sockA
	sockA.block[apB.String()] = true

	// Message packets are signed and coated, so both need key material
	// before the Messenger can pack anything for the socket to refuse.
	localA := estate.New(1, "heidi", apA)

	_, signPrivA, err := sign.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	localA.SignPrivate = signPrivA

	stA := stack.New(localA, sockA)

	remote := estate.New(2, "ivan", apB)
	remote.SessionKey = new([32]byte)
	if err := stA.AddRemote(remote); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := stA.Transmit(map[string]any{"n": 1}, 2, false, false); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	if err := stA.Transmit(map[string]any{"n": 2}, 2, false, false); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	stA.ServiceAllTx(now)

	if got := stA.Stat("tx_would_block"); got == 0 {
		t.Fatalf("tx_would_block = 0, want > 0")
	}

	if got := len(sockB.inbox); got != 0 {
		t.Fatalf("sockB received %d datagrams while blocked, want 0", got)
	}

	sockA.block[apB.String()] = false
	stA.ServiceAllTx(now)

	if got := len(sockB.inbox); got != 2 {
		t.Fatalf("sockB received %d datagrams after unblock, want 2", got)
	}
}
