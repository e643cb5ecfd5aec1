// Package txn implements the transaction dispatch engine's five
// transaction kinds (join, allow, alive, message, stale) as tagged-union
// finite state machines.
//
// Rather than an inheritance hierarchy, each kind is modelled as its own
// small pure state machine built on the shared table-driven engine in
// fsm.go, wrapped by a per-kind type that satisfies the common
// Transaction interface the stack drives.
package txn

import (
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/wire"
)

// Send is one outbound packet a transaction wants the stack to enqueue.
type Send struct {
	Header  wire.Header
	BodyMap map[string]any // used when Header.BK == BodyKindJSON
	BodyRaw []byte         // used when Header.BK == BodyKindRaw
}

// Outcome is returned by every Transaction method: packets to send, and a
// lifecycle signal for the stack (Done means "remove me from the
// transaction table"; Deliver is non-nil application payload for rxMsgs).
type Outcome struct {
	Sends   []Send
	Done    bool
	Failed  bool
	Deliver map[string]any
}

// Transaction is the shared interface every transaction kind satisfies.
type Transaction interface {
	Kind() wire.TxnKind
	Initiator() bool
	Index() estate.Index
	Remote() *estate.Estate
	Deadline() time.Time
	Process(now time.Time) Outcome
	Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome
	Cancel() Outcome
}

// base carries the fields every transaction kind needs regardless of its
// specific state machine: role, remote binding, transaction id, session
// id, and deadline. Embedded by each concrete kind.
type base struct {
	initiator bool
	remote    *estate.Estate
	tid       uint32
	sid       uint32
	deadline  time.Time
	timeout   time.Duration
}

func (b *base) Initiator() bool        { return b.initiator }
func (b *base) Deadline() time.Time    { return b.deadline }
func (b *base) Remote() *estate.Estate { return b.remote }

func (b *base) index(kind uint8) estate.Index {
	peerKey := b.remote.Name
	if b.remote.UID != 0 {
		peerKey = estate.UIDKey(b.remote.UID)
	}

	return estate.Index{Initiator: b.initiator, Kind: kind, PeerKey: peerKey, TID: b.tid}
}

func (b *base) retouch(now time.Time) {
	b.deadline = now.Add(b.timeout)
}

func (b *base) expired(now time.Time) bool {
	return now.After(b.deadline)
}
