package wire_test

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"

	"github.com/goraet/goraet/internal/wire"
)

func TestRoundTripPlain(t *testing.T) {
	h := wire.Header{
		SE: 1, DE: 2, SI: 7, TI: 3,
		TK: wire.TxnKindJoin, PK: wire.PacketKindRequest,
		BK: wire.BodyKindRaw, FK: wire.FootKindNone, CK: wire.CoatKindNone,
	}

	raw, err := wire.Pack(h, []byte("hello"), wire.CryptoKeys{})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	pkt, err := wire.ParseOuter(raw)
	if err != nil {
		t.Fatalf("ParseOuter: %v", err)
	}

	if pkt.Header != h {
		t.Fatalf("header round-trip mismatch: got %+v, want %+v", pkt.Header, h)
	}

	if _, err := wire.ParseInner(pkt, wire.CryptoKeys{}); err != nil {
		t.Fatalf("ParseInner: %v", err)
	}

	if !bytes.Equal(pkt.Body, []byte("hello")) {
		t.Fatalf("body = %q, want %q", pkt.Body, "hello")
	}
}

func TestRoundTripJSON(t *testing.T) {
	h := wire.Header{SE: 1, DE: 2, SI: 1, TI: 1, TK: wire.TxnKindMessage, PK: wire.PacketKindMessage, BK: wire.BodyKindJSON}

	body, err := wire.EncodeMappingBody(wire.BodyKindJSON, map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("EncodeMappingBody: %v", err)
	}

	raw, err := wire.Pack(h, body, wire.CryptoKeys{})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	pkt, err := wire.ParseOuter(raw)
	if err != nil {
		t.Fatalf("ParseOuter: %v", err)
	}

	m, err := wire.ParseInner(pkt, wire.CryptoKeys{})
	if err != nil {
		t.Fatalf("ParseInner: %v", err)
	}

	if m["k"] != "v" {
		t.Fatalf("decoded map = %v", m)
	}
}

func TestRoundTripCoatAndFoot(t *testing.T) {
	aPub, aPriv, err := box.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	bPub, bPriv, err := box.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	aSignPub, aSignPriv, err := sign.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	h := wire.Header{
		SE: 10, DE: 20, SI: 5, TI: 9,
		TK: wire.TxnKindAlive, PK: wire.PacketKindRequest,
		BK: wire.BodyKindRaw, FK: wire.FootKindNaclSig, CK: wire.CoatKindNaclBox,
	}

	packKeys := wire.CryptoKeys{
		PeerBoxPublic: bPub,
		MyBoxPrivate:  aPriv,
		MySignPrivate: aSignPriv,
	}

	raw, err := wire.Pack(h, []byte("ping"), packKeys)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	pkt, err := wire.ParseOuter(raw)
	if err != nil {
		t.Fatalf("ParseOuter: %v", err)
	}

	parseKeys := wire.CryptoKeys{
		PeerBoxPublic:  aPub,
		MyBoxPrivate:   bPriv,
		PeerSignPublic: aSignPub,
	}

	if _, err := wire.ParseInner(pkt, parseKeys); err != nil {
		t.Fatalf("ParseInner: %v", err)
	}

	if !bytes.Equal(pkt.Body, []byte("ping")) {
		t.Fatalf("body = %q, want %q", pkt.Body, "ping")
	}
}

func TestParseOuterRejectsShortPacket(t *testing.T) {
	if _, err := wire.ParseOuter([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short packet")
	}
}

func TestMsgpackUnsupported(t *testing.T) {
	_, err := wire.EncodeMappingBody(wire.BodyKindMsgpack, map[string]any{"a": 1})
	if err != wire.ErrBodyKindUnsupported {
		t.Fatalf("err = %v, want ErrBodyKindUnsupported", err)
	}
}
