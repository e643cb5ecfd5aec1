package txn

import (
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/wire"
)

// Staler emits one nack and terminates. It is
// spawned when a packet's index is not found in stack.transactions and
// cf==true — the peer believes we initiated a transaction that does not
// exist locally.
type Staler struct {
	base
	kind wire.TxnKind
	sent bool
}

// NewStaler creates a Staler addressed back to whoever sent the orphaned
// packet, echoing its transaction id and kind so the sender can match the
// nack to the transaction it believes is still live.
func NewStaler(remote *estate.Estate, kind wire.TxnKind, tid, si uint32) *Staler {
	return &Staler{base: base{initiator: false, remote: remote, tid: tid, sid: si}, kind: kind}
}

func (s *Staler) Kind() wire.TxnKind  { return wire.TxnKindStale }
func (s *Staler) Index() estate.Index { return s.index(uint8(wire.TxnKindStale)) }

// Process emits the nack on the first tick and then terminates.
func (s *Staler) Process(now time.Time) Outcome {
	if s.sent {
		return Outcome{Done: true}
	}

	s.sent = true

	nack := Send{Header: wire.Header{
		SE: 0, DE: s.remote.UID, SI: s.sid, TI: s.tid,
		TK: s.kind, PK: wire.PacketKindNack, CF: true,
		BK: wire.BodyKindJSON, FK: wire.FootKindNone, CK: wire.CoatKindNone,
	}, BodyMap: map[string]any{"tid": s.tid}}

	return Outcome{Sends: []Send{nack}, Done: true}
}

// Receive is a no-op; a Staler does not expect replies.
func (s *Staler) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	return Outcome{}
}

// Cancel terminates without emitting anything further.
func (s *Staler) Cancel() Outcome {
	return Outcome{Done: true}
}
