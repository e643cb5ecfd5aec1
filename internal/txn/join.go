package txn

import (
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/wire"
)

type joinState uint8

const (
	joinStateInit joinState = iota
	joinStateSentRequest
	joinStateSentResponse
	joinStateDone
	joinStateFailed
)

type joinEvent uint8

const (
	joinEventStart joinEvent = iota
	joinEventRecvRequest
	joinEventRecvAccept
	joinEventRecvAck
	joinEventRecvNack
	joinEventTimeout
)

// joinerTable implements the initiator side: init → sent-request →
// {received-accept → done | received-nack → failed | timeout → failed}.
var joinerTable = table[joinState, joinEvent]{
	{joinStateInit, joinEventStart}:             {joinStateSentRequest},
	{joinStateSentRequest, joinEventRecvAccept}: {joinStateDone},
	{joinStateSentRequest, joinEventRecvNack}:   {joinStateFailed},
	{joinStateSentRequest, joinEventTimeout}:    {joinStateFailed},
}

// joinentTable implements the correspondent side: init → sent-response →
// {received-ack → done | timeout → failed}.
var joinentTable = table[joinState, joinEvent]{
	{joinStateInit, joinEventRecvRequest}:     {joinStateSentResponse},
	{joinStateSentResponse, joinEventRecvAck}: {joinStateDone},
	{joinStateSentResponse, joinEventTimeout}: {joinStateFailed},
}

const joinRetransmits = 3

// Joiner is the initiator half of the join transaction kind.
type Joiner struct {
	base
	state   joinState
	retries int
}

// NewJoiner creates a Joiner bound to remote; its first Process call
// emits the initial request.
func NewJoiner(remote *estate.Estate, tid uint32, timeout time.Duration, now time.Time) *Joiner {
	j := &Joiner{base: base{initiator: true, remote: remote, tid: tid, sid: 0, timeout: timeout}, state: joinStateInit}
	j.retouch(now)

	return j
}

func (j *Joiner) Kind() wire.TxnKind  { return wire.TxnKindJoin }
func (j *Joiner) Index() estate.Index { return j.index(uint8(wire.TxnKindJoin)) }

func (j *Joiner) requestSend() Send {
	return Send{Header: wire.Header{
		SE: 0, DE: j.remote.UID, SI: 0, TI: j.tid,
		TK: wire.TxnKindJoin, PK: wire.PacketKindRequest,
		BK: wire.BodyKindJSON, FK: wire.FootKindNone, CK: wire.CoatKindNone,
	}, BodyMap: map[string]any{"tid": j.tid}}
}

// Process drives retransmission and timeout handling; join may retransmit
// a bounded number of times before failing.
func (j *Joiner) Process(now time.Time) Outcome {
	if j.state == joinStateInit {
		ns, _ := apply(joinerTable, j.state, joinEventStart)
		j.state = ns
		j.retouch(now)

		return Outcome{Sends: []Send{j.requestSend()}}
	}

	if j.state == joinStateDone || j.state == joinStateFailed {
		return Outcome{Done: true, Failed: j.state == joinStateFailed}
	}

	if !j.expired(now) {
		return Outcome{}
	}

	if j.state == joinStateSentRequest && j.retries < joinRetransmits {
		j.retries++
		j.retouch(now)

		return Outcome{Sends: []Send{j.requestSend()}}
	}

	ns, _ := apply(joinerTable, j.state, joinEventTimeout)
	j.state = ns

	return Outcome{Done: true, Failed: true}
}

// Receive dispatches an inbound packet kind to the FSM.
func (j *Joiner) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	var ev joinEvent

	switch pk {
	case wire.PacketKindResponse:
		ev = joinEventRecvAccept
	case wire.PacketKindNack:
		ev = joinEventRecvNack
	default:
		return Outcome{}
	}

	ns, ok := apply(joinerTable, j.state, ev)
	if !ok {
		return Outcome{}
	}

	j.state = ns

	if ns == joinStateDone {
		ack := Send{Header: wire.Header{
			SE: 0, DE: j.remote.UID, SI: si, TI: j.tid,
			TK: wire.TxnKindJoin, PK: wire.PacketKindAck,
			BK: wire.BodyKindJSON, FK: wire.FootKindNone, CK: wire.CoatKindNone,
		}, BodyMap: map[string]any{"tid": j.tid}}

		return Outcome{Sends: []Send{ack}, Done: true}
	}

	return Outcome{Done: true, Failed: true}
}

// Cancel terminates the transaction without a nack (join has no
// retraction packet in this build's vocabulary).
func (j *Joiner) Cancel() Outcome {
	j.state = joinStateFailed
	return Outcome{Done: true, Failed: true}
}

// Joinent is the correspondent half of the join transaction kind.
type Joinent struct {
	base
	state joinState
}

// NewJoinent creates a Joinent spawned by an inbound join request; the
// caller sends its ResponseSend.
func NewJoinent(remote *estate.Estate, tid uint32, timeout time.Duration, now time.Time) *Joinent {
	je := &Joinent{base: base{initiator: false, remote: remote, tid: tid, timeout: timeout}, state: joinStateInit}
	je.retouch(now)

	return je
}

func (je *Joinent) Kind() wire.TxnKind  { return wire.TxnKindJoin }
func (je *Joinent) Index() estate.Index { return je.index(uint8(wire.TxnKindJoin)) }

func (je *Joinent) ResponseSend(accept bool) Send {
	pk := wire.PacketKindResponse
	if !accept {
		pk = wire.PacketKindNack
	}

	return Send{Header: wire.Header{
		SE: 0, DE: je.remote.UID, SI: 0, TI: je.tid,
		TK: wire.TxnKindJoin, PK: pk, CF: true,
		BK: wire.BodyKindJSON, FK: wire.FootKindNone, CK: wire.CoatKindNone,
	}, BodyMap: map[string]any{"tid": je.tid}}
}

func (je *Joinent) Process(now time.Time) Outcome {
	if je.state == joinStateDone || je.state == joinStateFailed {
		return Outcome{Done: true, Failed: je.state == joinStateFailed}
	}

	if !je.expired(now) {
		return Outcome{}
	}

	je.state = joinStateFailed

	return Outcome{Done: true, Failed: true}
}

func (je *Joinent) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	if pk != wire.PacketKindAck {
		return Outcome{}
	}

	ns, ok := apply(joinentTable, je.state, joinEventRecvAck)
	if !ok {
		return Outcome{}
	}

	je.state = ns

	return Outcome{Done: true}
}

func (je *Joinent) Cancel() Outcome {
	je.state = joinStateFailed
	return Outcome{Done: true, Failed: true}
}

// NewJoinentFromRequest transitions a fresh Joinent straight from init to
// sent-response, mirroring the dispatcher spawning it in reaction to an
// inbound join request.
func NewJoinentFromRequest(remote *estate.Estate, tid uint32, timeout time.Duration, now time.Time) *Joinent {
	je := NewJoinent(remote, tid, timeout, now)
	ns, _ := apply(joinentTable, je.state, joinEventRecvRequest)
	je.state = ns

	return je
}
