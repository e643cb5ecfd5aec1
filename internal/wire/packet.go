// Package wire implements the packet framing and parsing pipeline: the
// outer header (routing fields, no cryptography), the coat (encrypted
// envelope), the body (application payload), and the foot (signature
// trailer).
//
// Layout on the wire is header ∥ coat-wrapped-body ∥ foot, matching the
// two-stage validation split required by the transaction engine:
// parseOuter only ever touches the header, parseInner is the only stage
// allowed to do cryptographic work.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed outer-header size in bytes: version(1) +
// flags(1) + tk(1) + pk(1) + se(4) + de(4) + si(4) + ti(4) + bodyLen(4).
const HeaderSize = 24

// Version is the wire format version this build produces and accepts.
const Version uint8 = 1

// MaxPacketSize bounds a single datagram, matching one UDP max-packet unit
// as referenced by the stack's bufcnt configuration knob.
const MaxPacketSize = 2048

// FootSize is the detached nacl/sign signature length.
const FootSize = 64

// NonceSize is the nacl/box nonce length carried at the front of a coated body.
const NonceSize = 24

// HeaderKind enumerates outer-header encodings. Only one is defined in this
// build; the field exists so the wire format can negotiate future revisions
// without breaking parseOuter's cheap-validation contract.
type HeaderKind uint8

// HeaderKindBasic is the only header encoding this build produces.
const HeaderKindBasic HeaderKind = 0

// BodyKind enumerates how the body segment is encoded.
type BodyKind uint8

const (
	// BodyKindRaw carries the body as opaque bytes, uninterpreted.
	BodyKindRaw BodyKind = iota
	// BodyKindJSON carries a JSON-encoded keyed mapping.
	BodyKindJSON
	// BodyKindMsgpack is accepted as a wire value for peer-compatibility
	// negotiation; this build has no msgpack codec (see DESIGN.md) and
	// returns ErrBodyKindUnsupported for it.
	BodyKindMsgpack
)

// FootKind enumerates the trailing integrity/signature scheme.
type FootKind uint8

const (
	// FootKindNone carries no signature trailer.
	FootKindNone FootKind = iota
	// FootKindNaclSig signs header‖body with a detached nacl/sign signature.
	FootKindNaclSig
)

// CoatKind enumerates the body encryption envelope.
type CoatKind uint8

const (
	// CoatKindNone carries the body in the clear.
	CoatKindNone CoatKind = iota
	// CoatKindNaclBox encrypts the body with nacl/box, nonce prepended.
	CoatKindNaclBox
)

// Transaction kinds, shared with the internal/txn package.
type TxnKind uint8

const (
	TxnKindJoin TxnKind = iota
	TxnKindAllow
	TxnKindAlive
	TxnKindMessage
	TxnKindStale
)

// String renders a TxnKind for logs.
func (k TxnKind) String() string {
	switch k {
	case TxnKindJoin:
		return "join"
	case TxnKindAllow:
		return "allow"
	case TxnKindAlive:
		return "alive"
	case TxnKindMessage:
		return "message"
	case TxnKindStale:
		return "stale"
	default:
		return "unknown"
	}
}

// PacketKind enumerates the per-transaction-kind packet roles (request,
// response, ack, hello, cookie, initiate, nack, ...). The concrete values
// a given TxnKind accepts are enumerated in the internal/txn package; wire
// only needs an opaque ordinal to route.
type PacketKind uint8

const (
	PacketKindRequest PacketKind = iota
	PacketKindResponse
	PacketKindAck
	PacketKindHello
	PacketKindCookie
	PacketKindInitiate
	PacketKindMessage
	PacketKindNack
)

// Header carries every routing field the transaction dispatcher needs
// before any cryptographic work is permitted.
type Header struct {
	Version HeaderKind
	SE      uint32 // source estate uid
	DE      uint32 // destination estate uid
	SI      uint32 // session id
	TI      uint32 // transaction id
	TK      TxnKind
	PK      PacketKind
	CF      bool // correspondent flag
	BF      bool // broadcast flag
	BK      BodyKind
	FK      FootKind
	CK      CoatKind
}

// Packet is the fully parsed, immutable unit the transaction engine
// operates on: the outer header plus the decoded body (only valid after
// parseInner has run).
type Packet struct {
	Header Header
	Body   []byte // decoded application payload; nil until parseInner
	raw    []byte // full wire bytes, retained for signature/coat handling
}

// Raw returns the packet's full wire bytes as received.
func (p *Packet) Raw() []byte { return p.raw }

var (
	// ErrPacketTooShort signals a datagram too small to contain a header.
	ErrPacketTooShort = errors.New("parsing_outer_error: packet shorter than header")
	// ErrUnsupportedVersion signals a header version this build cannot parse.
	ErrUnsupportedVersion = errors.New("parsing_outer_error: unsupported header version")
	// ErrBodyLenMismatch signals a header bodyLen field inconsistent with
	// the datagram's actual remaining length.
	ErrBodyLenMismatch = errors.New("parsing_outer_error: body length mismatch")
	// ErrBodyKindUnsupported signals bk=msgpack, for which this build has
	// no codec (see DESIGN.md "msgpack body kind").
	ErrBodyKindUnsupported = errors.New("parsing_inner_error: unsupported body kind")
	// ErrFootMissing signals fk=nacl-sig but the datagram is shorter than
	// header+foot.
	ErrFootMissing = errors.New("parsing_inner_error: signature trailer missing")
	// ErrSignatureInvalid signals a foot that failed nacl/sign verification.
	ErrSignatureInvalid = errors.New("parsing_inner_error: signature verification failed")
	// ErrCoatInvalid signals a coat that failed nacl/box decryption.
	ErrCoatInvalid = errors.New("parsing_inner_error: coat decryption failed")
	// ErrCoatTooShort signals a coated body shorter than one nonce.
	ErrCoatTooShort = errors.New("parsing_inner_error: coated body shorter than nonce")
)

func flagByte(h Header) byte {
	var b byte

	if h.CF {
		b |= 1 << 0
	}

	if h.BF {
		b |= 1 << 1
	}

	b |= byte(h.BK&0x3) << 2
	b |= byte(h.FK&0x1) << 4
	b |= byte(h.CK&0x1) << 5

	return b
}

func parseFlagByte(b byte, h *Header) {
	h.CF = b&(1<<0) != 0
	h.BF = b&(1<<1) != 0
	h.BK = BodyKind((b >> 2) & 0x3)
	h.FK = FootKind((b >> 4) & 0x1)
	h.CK = CoatKind((b >> 5) & 0x1)
}

// encodeHeader writes h and bodyLen into buf[:HeaderSize]. buf must be at
// least HeaderSize bytes.
func encodeHeader(h Header, bodyLen int, buf []byte) {
	buf[0] = Version
	buf[1] = flagByte(h)
	buf[2] = byte(h.TK)
	buf[3] = byte(h.PK)
	binary.BigEndian.PutUint32(buf[4:8], h.SE)
	binary.BigEndian.PutUint32(buf[8:12], h.DE)
	binary.BigEndian.PutUint32(buf[12:16], h.SI)
	binary.BigEndian.PutUint32(buf[16:20], h.TI)
	binary.BigEndian.PutUint32(buf[20:24], uint32(bodyLen)) //nolint:gosec // bounded by MaxPacketSize
}

// decodeHeader reads buf[:HeaderSize] into h, returning the declared body length.
func decodeHeader(buf []byte) (Header, int, error) {
	if buf[0] != Version {
		return Header{}, 0, fmt.Errorf("version %d: %w", buf[0], ErrUnsupportedVersion)
	}

	var h Header

	parseFlagByte(buf[1], &h)
	h.TK = TxnKind(buf[2])
	h.PK = PacketKind(buf[3])
	h.SE = binary.BigEndian.Uint32(buf[4:8])
	h.DE = binary.BigEndian.Uint32(buf[8:12])
	h.SI = binary.BigEndian.Uint32(buf[12:16])
	h.TI = binary.BigEndian.Uint32(buf[16:20])
	bodyLen := binary.BigEndian.Uint32(buf[20:24])

	return h, int(bodyLen), nil
}
