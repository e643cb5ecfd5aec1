package txn_test

import (
	"net/netip"
	"testing"
	"time"

	"golang.org/x/crypto/nacl/sign"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/txn"
	"github.com/goraet/goraet/internal/wire"
)

func newSignedEstate(t *testing.T, uid uint32, name string, ha netip.AddrPort) *estate.Estate {
	t.Helper()

	signPub, _, err := sign.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	re := estate.New(uid, name, ha)
	re.SignPublic = signPub

	return re
}

// TestAllowHandshakeNegotiatesSessionKey drives a full hello -> cookie ->
// initiate -> ack exchange between an Allower and an Allowent and checks
// that both sides end up with the same non-nil session key, and that each
// side's estate learned the other's permanent sign-verify key.
func TestAllowHandshakeNegotiatesSessionKey(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	haA := netip.MustParseAddrPort("127.0.0.1:7530")
	haB := netip.MustParseAddrPort("127.0.0.1:7531")

	localA := newSignedEstate(t, 1, "alice", haA)
	localB := newSignedEstate(t, 2, "bob", haB)

	bobAtA := estate.New(2, "bob", haB)
	aliceAtB := estate.New(1, "alice", haA)

	allower := txn.NewAllower(bobAtA, localA, 5, time.Second, now)

	out := allower.Process(now)
	if len(out.Sends) != 1 {
		t.Fatalf("Allower.Process: got %d sends, want 1", len(out.Sends))
	}

	hello := out.Sends[0]
	if hello.Header.PK != wire.PacketKindHello {
		t.Fatalf("hello pk = %v, want Hello", hello.Header.PK)
	}

	allowent, ok := txn.NewAllowentFromHello(aliceAtB, localB, hello.Header.TI, hello.BodyMap, time.Second, now)
	if !ok {
		t.Fatal("NewAllowentFromHello: ok = false")
	}

	cookie := allowent.CookieSend()
	if cookie.Header.PK != wire.PacketKindCookie {
		t.Fatalf("cookie pk = %v, want Cookie", cookie.Header.PK)
	}

	cookieOut := allower.Receive(cookie.Header.PK, cookie.Header.SI, cookie.BodyMap)
	if len(cookieOut.Sends) != 1 || cookieOut.Sends[0].Header.PK != wire.PacketKindInitiate {
		t.Fatalf("Allower.Receive(cookie) sends = %+v, want one initiate", cookieOut.Sends)
	}

	initiate := cookieOut.Sends[0]

	ackOut := allowent.Receive(initiate.Header.PK, initiate.Header.SI, initiate.BodyMap)
	if !ackOut.Done || len(ackOut.Sends) != 1 || ackOut.Sends[0].Header.PK != wire.PacketKindAck {
		t.Fatalf("Allowent.Receive(initiate) = %+v, want Done with one ack", ackOut)
	}

	ack := ackOut.Sends[0]

	finalOut := allower.Receive(ack.Header.PK, ack.Header.SI, ack.BodyMap)
	if !finalOut.Done || finalOut.Failed {
		t.Fatalf("Allower.Receive(ack) = %+v, want Done without Failed", finalOut)
	}

	if bobAtA.SessionKey == nil || aliceAtB.SessionKey == nil {
		t.Fatal("SessionKey not recorded on one or both sides")
	}

	if *bobAtA.SessionKey != *aliceAtB.SessionKey {
		t.Fatalf("session keys differ: allower=%x allowent=%x", *bobAtA.SessionKey, *aliceAtB.SessionKey)
	}

	if bobAtA.SignPublic == nil || *bobAtA.SignPublic != *localB.SignPublic {
		t.Fatal("Allower side did not record the correspondent's permanent sign key")
	}

	if aliceAtB.SignPublic == nil || *aliceAtB.SignPublic != *localA.SignPublic {
		t.Fatal("Allowent side did not record the initiator's permanent sign key")
	}
}

func TestNewAllowentFromHelloRejectsMalformedBody(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ha := netip.MustParseAddrPort("127.0.0.1:7531")

	remote := estate.New(1, "alice", ha)
	local := newSignedEstate(t, 2, "bob", ha)

	if _, ok := txn.NewAllowentFromHello(remote, local, 1, map[string]any{}, time.Second, now); ok {
		t.Fatal("expected ok = false for a hello body missing pubhex")
	}

	if remote.SessionKey != nil {
		t.Fatal("SessionKey must stay nil when the hello body is rejected")
	}
}

func TestAllowerTimeoutFailsAfterRetransmits(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ha := netip.MustParseAddrPort("127.0.0.1:7531")

	remote := estate.New(1, "alice", ha)
	local := newSignedEstate(t, 2, "bob", ha)

	a := txn.NewAllower(remote, local, 1, time.Second, now)
	a.Process(now)

	later := now
	for i := 0; i < 3; i++ {
		later = later.Add(2 * time.Second)

		out := a.Process(later)
		if out.Done {
			t.Fatalf("retry %d: Process = %+v, want not Done yet", i, out)
		}
	}

	later = later.Add(2 * time.Second)

	out := a.Process(later)
	if !out.Done || !out.Failed {
		t.Fatalf("final Process = %+v, want Done and Failed", out)
	}
}
