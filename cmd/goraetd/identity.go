package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/keep"
)

// errKeyLength indicates a stored key hex string decoded to the wrong
// byte length for its key type.
var errKeyLength = errors.New("unexpected key length")

// loadOrCreateLocal returns the estate this daemon runs as, loading it
// from k if a valid record exists, or generating a fresh identity and
// persisting it otherwise. The daemon's own uid is drawn from a random
// 32-bit value rather than Registry.NextEid, since NextEid sequences
// remote ids starting from 1 and the local identity needs to survive
// across a reconciliation that renumbers remotes.
func loadOrCreateLocal(k keep.Keep, local netip.AddrPort, name string, logger *slog.Logger) (*estate.Estate, error) {
	ld, safe, ok, err := k.LoadLocalData()
	if err != nil {
		return nil, fmt.Errorf("load local keep: %w", err)
	}

	if ok && k.VerifyLocalData(ld) && keep.VerifySafeData(safe) {
		re, rerr := localFromKeep(ld, safe, local)
		if rerr == nil {
			logger.Info("loaded local identity from keep",
				slog.Uint64("uid", uint64(re.UID)),
				slog.String("name", re.Name),
			)

			return re, nil
		}

		logger.Warn("stored local identity failed to decode, generating a new one",
			slog.String("error", rerr.Error()),
		)
	}

	re, safe, gerr := generateLocal(local, name)
	if gerr != nil {
		return nil, fmt.Errorf("generate local identity: %w", gerr)
	}

	if derr := k.DumpLocal(localToKeep(re), safe); derr != nil {
		return nil, fmt.Errorf("dump local keep: %w", derr)
	}

	logger.Info("generated new local identity",
		slog.Uint64("uid", uint64(re.UID)),
		slog.String("name", re.Name),
	)

	return re, nil
}

// generateLocal creates a fresh estate with a random uid and freshly
// generated nacl box/sign keypairs.
func generateLocal(local netip.AddrPort, name string) (*estate.Estate, keep.SafeData, error) {
	var uidBytes [4]byte
	if _, err := rand.Read(uidBytes[:]); err != nil {
		return nil, keep.SafeData{}, fmt.Errorf("generate uid: %w", err)
	}

	uid := uint32(uidBytes[0])<<24 | uint32(uidBytes[1])<<16 | uint32(uidBytes[2])<<8 | uint32(uidBytes[3])
	if uid == 0 {
		uid = 1
	}

	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, keep.SafeData{}, fmt.Errorf("generate box keypair: %w", err)
	}

	signPub, signPriv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, keep.SafeData{}, fmt.Errorf("generate sign keypair: %w", err)
	}

	re := estate.New(uid, name, local)
	re.BoxPublic = boxPub
	re.BoxPrivate = boxPriv
	re.SignPublic = signPub
	re.SignPrivate = signPriv

	safe := keep.SafeData{
		SignHex:    hex.EncodeToString(signPriv[:]),
		PriHex:     hex.EncodeToString(boxPriv[:]),
		VerHex:     hex.EncodeToString(signPub[:]),
		PubHex:     hex.EncodeToString(boxPub[:]),
		Acceptance: estate.AcceptanceAccepted,
		Auto:       true,
	}

	return re, safe, nil
}

// localFromKeep rehydrates a stored local identity's plain and key
// material back into an Estate.
func localFromKeep(ld keep.LocalData, safe keep.SafeData, fallback netip.AddrPort) (*estate.Estate, error) {
	ha := fallback
	if ld.Host != "" {
		if addr, err := netip.ParseAddr(ld.Host); err == nil {
			ha = netip.AddrPortFrom(addr, ld.Port)
		}
	}

	signPriv, err := decodeHex64(safe.SignHex)
	if err != nil {
		return nil, fmt.Errorf("decode sign private key: %w", err)
	}

	boxPriv, err := decodeHex32(safe.PriHex)
	if err != nil {
		return nil, fmt.Errorf("decode box private key: %w", err)
	}

	signPub, err := decodeHex32(safe.VerHex)
	if err != nil {
		return nil, fmt.Errorf("decode sign public key: %w", err)
	}

	boxPub, err := decodeHex32(safe.PubHex)
	if err != nil {
		return nil, fmt.Errorf("decode box public key: %w", err)
	}

	re := estate.New(ld.UID, ld.Name, ha)
	re.SID = ld.SID
	re.SignPrivate = signPriv
	re.BoxPrivate = boxPriv
	re.SignPublic = signPub
	re.BoxPublic = boxPub

	return re, nil
}

// decodeHex32 decodes a hex string into a fixed 32-byte array, the shape
// nacl/box keys and nacl/sign public keys share.
func decodeHex32(s string) (*[32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex decode: %w", err)
	}

	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 32", errKeyLength, len(raw))
	}

	var out [32]byte
	copy(out[:], raw)

	return &out, nil
}

// decodeHex64 decodes a hex string into a fixed 64-byte array, the shape
// of a nacl/sign private key.
func decodeHex64(s string) (*[64]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex decode: %w", err)
	}

	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: got %d bytes, want 64", errKeyLength, len(raw))
	}

	var out [64]byte
	copy(out[:], raw)

	return &out, nil
}

// localToKeep projects an Estate into the plain LocalData half a Keep
// persists.
func localToKeep(re *estate.Estate) keep.LocalData {
	return keep.LocalData{
		UID:  re.UID,
		Name: re.Name,
		Host: re.HA.Addr().String(),
		Port: re.HA.Port(),
		SID:  re.SID,
	}
}

// safeFromLocal projects the local estate's own keypairs into the
// hex-encoded SafeData half a Keep persists. Only meaningful for the
// local estate: a remote's Estate never carries its own private halves,
// so there is nothing to dump for remotes beyond the plain identity keep
// already provides.
func safeFromLocal(re *estate.Estate) keep.SafeData {
	return keep.SafeData{
		SignHex:    hex.EncodeToString(re.SignPrivate[:]),
		PriHex:     hex.EncodeToString(re.BoxPrivate[:]),
		VerHex:     hex.EncodeToString(re.SignPublic[:]),
		PubHex:     hex.EncodeToString(re.BoxPublic[:]),
		Acceptance: re.Acceptance,
		Auto:       re.Auto,
	}
}
