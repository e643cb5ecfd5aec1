package wire

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/sign"
)

// coatEncrypt seals plain under the peer's box public key using a freshly
// generated nonce, returning nonce‖ciphertext.
func coatEncrypt(plain []byte, peerPub, myPriv *[32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plain)+box.Overhead)
	copy(out, nonce[:])
	out = box.Seal(out, plain, &nonce, peerPub, myPriv)

	return out, nil
}

// coatDecrypt reverses coatEncrypt.
func coatDecrypt(coated []byte, peerPub, myPriv *[32]byte) ([]byte, error) {
	if len(coated) < NonceSize {
		return nil, ErrCoatTooShort
	}

	var nonce [NonceSize]byte
	copy(nonce[:], coated[:NonceSize])

	plain, ok := box.Open(nil, coated[NonceSize:], &nonce, peerPub, myPriv)
	if !ok {
		return nil, ErrCoatInvalid
	}

	return plain, nil
}

// coatEncryptShared seals plain under a precomputed nacl box shared key
// (see PrecomputeShared), the Allow-negotiated session key path used by
// alive/message exchanges once a handshake has completed.
func coatEncryptShared(plain []byte, shared *[32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plain)+box.Overhead)
	copy(out, nonce[:])
	out = box.SealAfterPrecomputation(out, plain, &nonce, shared)

	return out, nil
}

// coatDecryptShared reverses coatEncryptShared.
func coatDecryptShared(coated []byte, shared *[32]byte) ([]byte, error) {
	if len(coated) < NonceSize {
		return nil, ErrCoatTooShort
	}

	var nonce [NonceSize]byte
	copy(nonce[:], coated[:NonceSize])

	plain, ok := box.OpenAfterPrecomputation(nil, coated[NonceSize:], &nonce, shared)
	if !ok {
		return nil, ErrCoatInvalid
	}

	return plain, nil
}

// PrecomputeShared derives the nacl box shared key for a (peer public, our
// private) keypair, the session key Allow negotiates from each side's
// ephemeral box keypair.
func PrecomputeShared(peerPub, myPriv *[32]byte) *[32]byte {
	var shared [32]byte
	box.Precompute(&shared, peerPub, myPriv)

	return &shared
}

// footSign computes a detached nacl/sign signature over data.
//
// golang.org/x/crypto/nacl/sign only exposes an attach-and-return-signed-
// message API (Sign prepends the 64-byte signature to a copy of the
// message). To keep the wire layout's documented header‖coat‖body‖foot
// ordering (signature trailing, not leading), this detaches the signature
// by running Sign once and keeping only its first FootSize bytes.
func footSign(data []byte, priv *[64]byte) []byte {
	signed := sign.Sign(nil, data, priv)
	return signed[:FootSize]
}

// footVerify checks a detached signature over data against pub.
func footVerify(data, foot []byte, pub *[32]byte) bool {
	candidate := make([]byte, 0, len(foot)+len(data))
	candidate = append(candidate, foot...)
	candidate = append(candidate, data...)

	_, ok := sign.Open(nil, candidate, pub)

	return ok
}
