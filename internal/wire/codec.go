package wire

import (
	"encoding/json"
	"fmt"
	"sync"
)

// PacketPool recycles MaxPacketSize buffers for outer-header decoding and
// packing, following the sync.Pool buffer-reuse idiom (pool stores a
// pointer to a slice header to avoid boxing the backing array on every
// Get/Put).
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}

// CryptoKeys bundles the key material needed to coat/uncoat and
// sign/verify a packet. Any field may be nil when the corresponding kind
// is CoatKindNone / FootKindNone.
type CryptoKeys struct {
	PeerBoxPublic  *[32]byte // coat: peer's box public key, used when Shared is nil
	MyBoxPrivate   *[32]byte // coat: our box private key, used when Shared is nil
	Shared         *[32]byte // coat: Allow-negotiated session key, preferred over PeerBoxPublic/MyBoxPrivate when set
	MySignPrivate  *[64]byte // foot: our signing private key
	PeerSignPublic *[32]byte // foot verify: peer's signing public key
}

// encodeBody renders body per bk. Only BodyKindRaw and BodyKindJSON are
// supported; BodyKindMsgpack is a negotiable wire value this build cannot
// encode (see DESIGN.md).
func encodeBody(bk BodyKind, body map[string]any, raw []byte) ([]byte, error) {
	switch bk {
	case BodyKindRaw:
		return raw, nil
	case BodyKindJSON:
		out, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}

		return out, nil
	case BodyKindMsgpack:
		return nil, ErrBodyKindUnsupported
	default:
		return nil, ErrBodyKindUnsupported
	}
}

// decodeBody is the inverse of encodeBody for the mapping-bearing kinds.
func decodeBody(bk BodyKind, raw []byte) (map[string]any, []byte, error) {
	switch bk {
	case BodyKindRaw:
		return nil, raw, nil
	case BodyKindJSON:
		var m map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, nil, fmt.Errorf("decode json body: %w", err)
			}
		}

		return m, raw, nil
	case BodyKindMsgpack:
		return nil, nil, ErrBodyKindUnsupported
	default:
		return nil, nil, ErrBodyKindUnsupported
	}
}

// Pack builds the full wire representation of a packet: header ‖
// coat-wrapped body ‖ foot. body is the raw (already body-kind-encoded)
// payload; callers building a mapping-bearing body should call
// EncodeMappingBody first.
func Pack(h Header, body []byte, keys CryptoKeys) ([]byte, error) {
	payload := body

	if h.CK == CoatKindNaclBox {
		var (
			coated []byte
			err    error
		)

		switch {
		case keys.Shared != nil:
			coated, err = coatEncryptShared(payload, keys.Shared)
		case keys.PeerBoxPublic != nil && keys.MyBoxPrivate != nil:
			coated, err = coatEncrypt(payload, keys.PeerBoxPublic, keys.MyBoxPrivate)
		default:
			return nil, fmt.Errorf("coat requested but keys missing: %w", ErrCoatInvalid)
		}

		if err != nil {
			return nil, err
		}

		payload = coated
	}

	out := make([]byte, HeaderSize+len(payload))
	encodeHeader(h, len(payload), out[:HeaderSize])
	copy(out[HeaderSize:], payload)

	if h.FK == FootKindNaclSig {
		if keys.MySignPrivate == nil {
			return nil, fmt.Errorf("foot requested but signing key missing: %w", ErrSignatureInvalid)
		}

		foot := footSign(out, keys.MySignPrivate)
		out = append(out, foot...)
	}

	return out, nil
}

// EncodeMappingBody encodes a keyed-mapping payload for the given body
// kind, for use before Pack.
func EncodeMappingBody(bk BodyKind, body map[string]any) ([]byte, error) {
	return encodeBody(bk, body, nil)
}

// ParseOuter decodes only the outer header from raw, the cheap
// no-cryptography stage that must run before any peer/session validation.
// It does not verify the foot or decrypt the coat.
func ParseOuter(raw []byte) (*Packet, error) {
	if len(raw) < HeaderSize {
		return nil, ErrPacketTooShort
	}

	h, bodyLen, err := decodeHeader(raw[:HeaderSize])
	if err != nil {
		return nil, err
	}

	footLen := 0
	if h.FK == FootKindNaclSig {
		footLen = FootSize
	}

	want := HeaderSize + bodyLen + footLen
	if len(raw) != want {
		return nil, fmt.Errorf("have %d bytes, header declares %d: %w", len(raw), want, ErrBodyLenMismatch)
	}

	return &Packet{Header: h, raw: raw}, nil
}

// ParseInner completes validation of a packet already passed through
// ParseOuter: verifies the foot (if present), decrypts the coat (if
// present), and decodes the body. Only called after the transaction has
// authenticated the sender.
func ParseInner(p *Packet, keys CryptoKeys) (map[string]any, error) {
	raw := p.raw
	footLen := 0

	if p.Header.FK == FootKindNaclSig {
		footLen = FootSize

		if len(raw) < footLen {
			return nil, ErrFootMissing
		}

		signed := raw[:len(raw)-footLen]
		foot := raw[len(raw)-footLen:]

		if keys.PeerSignPublic == nil || !footVerify(signed, foot, keys.PeerSignPublic) {
			return nil, ErrSignatureInvalid
		}
	}

	payload := raw[HeaderSize : len(raw)-footLen]

	if p.Header.CK == CoatKindNaclBox {
		var (
			plain []byte
			err   error
		)

		switch {
		case keys.Shared != nil:
			plain, err = coatDecryptShared(payload, keys.Shared)
		case keys.PeerBoxPublic != nil && keys.MyBoxPrivate != nil:
			plain, err = coatDecrypt(payload, keys.PeerBoxPublic, keys.MyBoxPrivate)
		default:
			return nil, ErrCoatInvalid
		}

		if err != nil {
			return nil, err
		}

		payload = plain
	}

	m, body, err := decodeBody(p.Header.BK, payload)
	if err != nil {
		return nil, err
	}

	p.Body = body

	return m, nil
}
