package keep

import (
	"encoding/hex"
	"fmt"
	"net/netip"

	"github.com/goraet/goraet/internal/estate"
)

// RemoteDataFrom projects a remote Estate into the keep record its owning
// stack persists after a completed Allow handshake. Unlike the local
// estate's safe half (see cmd/goraetd's safeFromLocal), a remote's record
// never carries SignHex/PriHex: this build's Estate only ever learns a
// remote's public box/sign halves, never its private ones.
func RemoteDataFrom(re *estate.Estate) RemoteData {
	ld := LocalData{
		UID:  re.UID,
		Name: re.Name,
		SID:  re.SID,
	}

	if re.HA.IsValid() {
		ld.Host = re.HA.Addr().String()
		ld.Port = re.HA.Port()
	}

	safe := SafeData{
		Acceptance: re.Acceptance,
		Auto:       re.Auto,
	}

	if re.SignPublic != nil {
		safe.VerHex = hex.EncodeToString(re.SignPublic[:])
	}

	if re.BoxPublic != nil {
		safe.PubHex = hex.EncodeToString(re.BoxPublic[:])
	}

	return RemoteData{Local: ld, Safe: safe}
}

// RemoteFromData rehydrates a keep record into a remote Estate, the
// inverse of RemoteDataFrom. Returns an error if a present key hex string
// fails to decode; an absent one (VerHex/PubHex empty, meaning the
// handshake that would have learned it never completed before the record
// was dumped) simply leaves the corresponding Estate field nil.
func RemoteFromData(d RemoteData) (*estate.Estate, error) {
	ha, err := netip.ParseAddr(d.Local.Host)
	if err != nil {
		return nil, fmt.Errorf("parse remote host %q: %w", d.Local.Host, err)
	}

	re := estate.New(d.Local.UID, d.Local.Name, netip.AddrPortFrom(ha, d.Local.Port))
	re.SID = d.Local.SID
	re.Acceptance = d.Safe.Acceptance
	re.Auto = d.Safe.Auto

	if d.Safe.VerHex != "" {
		signPub, err := decodeHex32(d.Safe.VerHex)
		if err != nil {
			return nil, fmt.Errorf("decode remote sign-public: %w", err)
		}

		re.SignPublic = signPub
	}

	if d.Safe.PubHex != "" {
		boxPub, err := decodeHex32(d.Safe.PubHex)
		if err != nil {
			return nil, fmt.Errorf("decode remote box-public: %w", err)
		}

		re.BoxPublic = boxPub
	}

	return re, nil
}

// decodeHex32 decodes a hex string into a fixed 32-byte array, the shape
// nacl/box and nacl/sign public keys share.
func decodeHex32(s string) (*[32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex decode: %w", err)
	}

	if len(raw) != 32 {
		return nil, fmt.Errorf("key has %d bytes, want 32", len(raw))
	}

	var out [32]byte
	copy(out[:], raw)

	return &out, nil
}
