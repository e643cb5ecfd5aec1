package txn

import (
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/wire"
)

type msgState uint8

const (
	msgStateInit msgState = iota
	msgStateSent
	msgStateDone
	msgStateFailed
)

type msgEvent uint8

const (
	msgEventStart msgEvent = iota
	msgEventRecvMessage
	msgEventRecvAck
	msgEventTimeout
)

var messengerTable = table[msgState, msgEvent]{
	{msgStateInit, msgEventStart}:   {msgStateSent},
	{msgStateSent, msgEventRecvAck}: {msgStateDone},
	{msgStateSent, msgEventTimeout}: {msgStateFailed},
}

var messengentTable = table[msgState, msgEvent]{
	{msgStateInit, msgEventRecvMessage}: {msgStateDone},
}

const messageRetransmits = 3

// Messenger is the initiator half of an application-message transaction.
// Wait controls ack discipline: when
// false, the transaction completes as soon as the message is sent rather
// than waiting for an ack.
type Messenger struct {
	base
	state   msgState
	body    map[string]any
	bcst    bool
	wait    bool
	retries int
}

// NewMessenger creates a Messenger carrying body to remote.
func NewMessenger(remote *estate.Estate, tid uint32, body map[string]any, bcst, wait bool, timeout time.Duration, now time.Time) *Messenger {
	m := &Messenger{base: base{initiator: true, remote: remote, tid: tid, timeout: timeout}, state: msgStateInit, body: body, bcst: bcst, wait: wait}
	m.retouch(now)

	return m
}

func (m *Messenger) Kind() wire.TxnKind  { return wire.TxnKindMessage }
func (m *Messenger) Index() estate.Index { return m.index(uint8(wire.TxnKindMessage)) }

func (m *Messenger) send() Send {
	h := wire.Header{
		SE: 0, DE: m.remote.UID, SI: m.remote.SID, TI: m.tid,
		TK: wire.TxnKindMessage, PK: wire.PacketKindMessage,
		BK: wire.BodyKindJSON, FK: wire.FootKindNaclSig, CK: wire.CoatKindNaclBox,
		BF: m.bcst,
	}

	return Send{Header: h, BodyMap: m.body}
}

func (m *Messenger) Process(now time.Time) Outcome {
	switch m.state {
	case msgStateInit:
		ns, _ := apply(messengerTable, m.state, msgEventStart)
		m.state = ns
		m.retouch(now)

		out := Outcome{Sends: []Send{m.send()}}
		if !m.wait {
			out.Done = true
		}

		return out
	case msgStateDone, msgStateFailed:
		return Outcome{Done: true, Failed: m.state == msgStateFailed}
	}

	if !m.expired(now) {
		return Outcome{}
	}

	if m.retries < messageRetransmits {
		m.retries++
		m.retouch(now)

		return Outcome{Sends: []Send{m.send()}}
	}

	m.state = msgStateFailed

	return Outcome{Done: true, Failed: true}
}

func (m *Messenger) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	if pk != wire.PacketKindAck {
		return Outcome{}
	}

	ns, ok := apply(messengerTable, m.state, msgEventRecvAck)
	if !ok {
		return Outcome{}
	}

	m.state = ns

	return Outcome{Done: true}
}

func (m *Messenger) Cancel() Outcome {
	m.state = msgStateFailed
	return Outcome{Done: true, Failed: true}
}

// Messengent is the correspondent half of an application-message
// transaction. It holds the received payload and builds the ack; the
// stack sends that ack and queues the payload on rxMsgs.
type Messengent struct {
	base
	state msgState
	body  map[string]any
}

// NewMessengentFromMessage spawns a Messengent reacting to an inbound
// message, already in its done state; the caller sends its AckSend.
func NewMessengentFromMessage(remote *estate.Estate, tid uint32, body map[string]any, timeout time.Duration, now time.Time) *Messengent {
	me := &Messengent{base: base{initiator: false, remote: remote, tid: tid, timeout: timeout}, state: msgStateInit, body: body}
	me.retouch(now)

	ns, _ := apply(messengentTable, me.state, msgEventRecvMessage)
	me.state = ns

	return me
}

func (me *Messengent) Kind() wire.TxnKind  { return wire.TxnKindMessage }
func (me *Messengent) Index() estate.Index { return me.index(uint8(wire.TxnKindMessage)) }

// AckSend is the ack packet sent on delivery.
func (me *Messengent) AckSend() Send {
	return Send{Header: wire.Header{
		SE: 0, DE: me.remote.UID, SI: me.remote.SID, TI: me.tid,
		TK: wire.TxnKindMessage, PK: wire.PacketKindAck, CF: true,
		BK: wire.BodyKindRaw, FK: wire.FootKindNone, CK: wire.CoatKindNone,
	}}
}

func (me *Messengent) Process(now time.Time) Outcome {
	return Outcome{Done: true}
}

func (me *Messengent) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	return Outcome{}
}

func (me *Messengent) Cancel() Outcome {
	return Outcome{Done: true}
}
