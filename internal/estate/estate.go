// Package estate implements the in-memory peer record (local or remote):
// identity, address, session-id discipline, cryptographic key material,
// and the set of transaction indexes currently bound to a remote.
package estate

import (
	"net/netip"
)

// Acceptance is the trust state a remote estate holds at the local stack.
type Acceptance uint8

const (
	// AcceptancePending means the remote has not yet been accepted or rejected.
	AcceptancePending Acceptance = iota
	// AcceptanceAccepted means the remote may open allow/alive/message transactions.
	AcceptanceAccepted
	// AcceptanceRejected means the remote is refused further transactions.
	AcceptanceRejected
)

// String renders an Acceptance for logs.
func (a Acceptance) String() string {
	switch a {
	case AcceptancePending:
		return "pending"
	case AcceptanceAccepted:
		return "accepted"
	case AcceptanceRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Index is the transaction routing key: (role, kind, peer key, tid). PeerKey
// is the remote's uid once known, or its host-address string during
// bootstrap.
type Index struct {
	Initiator bool
	Kind      uint8 // wire.TxnKind, kept as uint8 to avoid an import cycle
	PeerKey   string
	TID       uint32
}

// Estate is a peer record: local (the stack's own identity) or remote.
type Estate struct {
	UID  uint32
	Name string
	HA   netip.AddrPort

	SID  uint32 // outbound session id
	RSID uint32 // last accepted inbound session id from this peer

	// Box (encryption) and sign (authentication) key material. Remotes
	// carry the peer's public halves; the local estate carries both
	// halves of its own keypairs.
	SignPublic  *[32]byte
	SignPrivate *[64]byte
	BoxPublic   *[32]byte
	BoxPrivate  *[32]byte

	// Remote-only fields; zero values on the local estate.
	Acceptance Acceptance
	Period     float64
	Offset     float64
	Auto       bool

	// SessionKey is the nacl box shared secret negotiated by the Allow
	// handshake (box.Precompute of the two sides' ephemeral keypairs). Nil
	// until Allow completes; alive/message exchanges coat under this
	// instead of a per-message key agreement.
	SessionKey *[32]byte

	Indexes map[Index]struct{}
}

// New returns an Estate with an initialized index set.
func New(uid uint32, name string, ha netip.AddrPort) *Estate {
	return &Estate{
		UID:     uid,
		Name:    name,
		HA:      ha,
		Indexes: make(map[Index]struct{}),
	}
}

// ValidRsid reports whether an inbound session id si is acceptable given
// the remote's current rsid: si must not be stale. si == 0 is only valid
// for join traffic, checked by the caller, not here.
func (e *Estate) ValidRsid(si uint32) bool {
	if si == 0 {
		return false
	}

	return si >= e.RSID
}

// BumpRsid advances rsid to si if si is newer, reporting whether the
// session id moved (a fresh session from the peer) — in which case any
// in-flight correspondent transactions at the old sid become stale and
// must be discarded lazily by the caller.
func (e *Estate) BumpRsid(si uint32) bool {
	if si <= e.RSID {
		return false
	}

	e.RSID = si

	return true
}

// NextSID advances and returns the next outbound session id. si=0 is
// reserved for join traffic and is skipped.
func (e *Estate) NextSID() uint32 {
	e.SID++
	if e.SID == 0 {
		e.SID = 1
	}

	return e.SID
}

// UIDKey renders uid as the fixed-width hex peer key transaction indexes
// use once a remote's identity is known, as opposed to its name/address
// during bootstrap.
func UIDKey(uid uint32) string {
	const hextable = "0123456789abcdef"

	buf := [8]byte{}
	for i := 7; i >= 0; i-- {
		buf[i] = hextable[uid&0xf]
		uid >>= 4
	}

	return string(buf[:])
}

// AddIndex registers a transaction index as bound to this estate.
func (e *Estate) AddIndex(idx Index) {
	e.Indexes[idx] = struct{}{}
}

// RemoveIndex unregisters a transaction index.
func (e *Estate) RemoveIndex(idx Index) {
	delete(e.Indexes, idx)
}
