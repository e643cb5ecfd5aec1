package txn

import (
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/wire"
)

type aliveState uint8

const (
	aliveStateInit aliveState = iota
	aliveStateSentRequest
	aliveStateSentResponse
	aliveStateDone
	aliveStateFailed
)

type aliveEvent uint8

const (
	aliveEventStart aliveEvent = iota
	aliveEventRecvRequest
	aliveEventRecvResponse
	aliveEventRecvAck
	aliveEventTimeout
)

// aliverTable: a single-round liveness probe gated by session key.
var aliverTable = table[aliveState, aliveEvent]{
	{aliveStateInit, aliveEventStart}:               {aliveStateSentRequest},
	{aliveStateSentRequest, aliveEventRecvResponse}: {aliveStateDone},
	{aliveStateSentRequest, aliveEventTimeout}:      {aliveStateFailed},
}

var aliventTable = table[aliveState, aliveEvent]{
	{aliveStateInit, aliveEventRecvRequest}:     {aliveStateSentResponse},
	{aliveStateSentResponse, aliveEventTimeout}: {aliveStateFailed},
}

// aliveSend builds an alive-kind packet. cf mirrors allowSend's convention:
// true for the correspondent's response, false for the initiator's request.
func aliveSend(remote *estate.Estate, tid uint32, pk wire.PacketKind, cf bool) Send {
	return Send{Header: wire.Header{
		SE: 0, DE: remote.UID, SI: remote.SID, TI: tid,
		TK: wire.TxnKindAlive, PK: pk, CF: cf,
		BK: wire.BodyKindRaw, FK: wire.FootKindNaclSig, CK: wire.CoatKindNaclBox,
	}}
}

// Aliver is the initiator half of a liveness probe.
type Aliver struct {
	base
	state aliveState
}

// NewAliver creates an Aliver; its first Process call emits the probe
// request.
// Callers must have already completed an allow exchange for remote; this
// build does not re-verify that here, leaving session-key enforcement to
// the stack's dispatch layer.
func NewAliver(remote *estate.Estate, tid uint32, timeout time.Duration, now time.Time) *Aliver {
	a := &Aliver{base: base{initiator: true, remote: remote, tid: tid, timeout: timeout}, state: aliveStateInit}
	a.retouch(now)

	return a
}

func (a *Aliver) Kind() wire.TxnKind  { return wire.TxnKindAlive }
func (a *Aliver) Index() estate.Index { return a.index(uint8(wire.TxnKindAlive)) }

func (a *Aliver) Process(now time.Time) Outcome {
	switch a.state {
	case aliveStateDone, aliveStateFailed:
		return Outcome{Done: true, Failed: a.state == aliveStateFailed}
	case aliveStateInit:
		ns, _ := apply(aliverTable, a.state, aliveEventStart)
		a.state = ns
		a.retouch(now)

		return Outcome{Sends: []Send{aliveSend(a.remote, a.tid, wire.PacketKindRequest, false)}}
	}

	if a.expired(now) {
		a.state = aliveStateFailed
		return Outcome{Done: true, Failed: true}
	}

	return Outcome{}
}

func (a *Aliver) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	if pk != wire.PacketKindResponse {
		return Outcome{}
	}

	ns, ok := apply(aliverTable, a.state, aliveEventRecvResponse)
	if !ok {
		return Outcome{}
	}

	a.state = ns

	return Outcome{Done: true}
}

func (a *Aliver) Cancel() Outcome {
	a.state = aliveStateFailed
	return Outcome{Done: true, Failed: true}
}

// Alivent is the correspondent half of a liveness probe.
type Alivent struct {
	base
	state aliveState
}

// NewAliventFromRequest spawns an Alivent reacting to an inbound probe;
// the caller sends its ResponseSend.
func NewAliventFromRequest(remote *estate.Estate, tid uint32, timeout time.Duration, now time.Time) *Alivent {
	al := &Alivent{base: base{initiator: false, remote: remote, tid: tid, timeout: timeout}, state: aliveStateInit}
	al.retouch(now)

	ns, _ := apply(aliventTable, al.state, aliveEventRecvRequest)
	al.state = ns

	return al
}

func (al *Alivent) Kind() wire.TxnKind  { return wire.TxnKindAlive }
func (al *Alivent) Index() estate.Index { return al.index(uint8(wire.TxnKindAlive)) }

func (al *Alivent) ResponseSend() Send {
	return aliveSend(al.remote, al.tid, wire.PacketKindResponse, true)
}

func (al *Alivent) Process(now time.Time) Outcome {
	return Outcome{Done: true}
}

func (al *Alivent) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	return Outcome{}
}

func (al *Alivent) Cancel() Outcome {
	return Outcome{Done: true}
}
