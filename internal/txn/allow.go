package txn

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/wire"
)

type allowState uint8

const (
	allowStateInit allowState = iota
	allowStateSentHello
	allowStateSentCookie
	allowStateSentInitiate
	allowStateSentAck
	allowStateDone
	allowStateFailed
)

type allowEvent uint8

const (
	allowEventStart allowEvent = iota
	allowEventRecvHello
	allowEventRecvCookie
	allowEventRecvInitiate
	allowEventRecvAck
	allowEventTimeout
)

// allowerTable: hello → cookie → initiate → ack (initiator side), the
// three-round handshake for session key agreement.
var allowerTable = table[allowState, allowEvent]{
	{allowStateInit, allowEventStart}:           {allowStateSentHello},
	{allowStateSentHello, allowEventRecvCookie}: {allowStateSentInitiate},
	{allowStateSentInitiate, allowEventRecvAck}: {allowStateDone},
	{allowStateSentHello, allowEventTimeout}:    {allowStateFailed},
	{allowStateSentInitiate, allowEventTimeout}: {allowStateFailed},
}

// allowentTable mirrors the initiator sequence from the correspondent side.
var allowentTable = table[allowState, allowEvent]{
	{allowStateInit, allowEventRecvHello}:          {allowStateSentCookie},
	{allowStateSentCookie, allowEventRecvInitiate}: {allowStateSentAck},
	{allowStateSentCookie, allowEventTimeout}:      {allowStateFailed},
}

const allowRetransmits = 3

// allowSend builds an allow-kind packet carrying body as a JSON mapping. cf
// marks whether the sender is playing the correspondent role (cookie, ack)
// or the initiator role (hello, initiate) in this exchange — it must match
// the role of whichever side calls this helper so the peer's transaction
// index lookup (Initiator == cf) resolves back to the right transaction.
func allowSend(remote *estate.Estate, tid uint32, pk wire.PacketKind, cf bool, body map[string]any) Send {
	return Send{Header: wire.Header{
		SE: 0, DE: remote.UID, SI: remote.SID, TI: tid,
		TK: wire.TxnKindAllow, PK: pk, CF: cf,
		BK: wire.BodyKindJSON, FK: wire.FootKindNone, CK: wire.CoatKindNone,
	}, BodyMap: body}
}

// keyBody is the {pubhex, verhex} mapping hello/cookie exchange to let each
// side learn the other's ephemeral box public key (for session-key
// derivation) and permanent sign-verify public key (for later foot
// verification). Absent/malformed fields leave the corresponding Estate
// field untouched.
func keyBody(ephPub *[32]byte, signPub *[32]byte) map[string]any {
	body := map[string]any{"pubhex": hex.EncodeToString(ephPub[:])}
	if signPub != nil {
		body["verhex"] = hex.EncodeToString(signPub[:])
	}

	return body
}

// parseKeyBody extracts the ephemeral box public key and (if present)
// permanent sign-verify public key from a hello/cookie body. ok is false if
// pubhex is missing or malformed.
func parseKeyBody(body map[string]any) (ephPub *[32]byte, signPub *[32]byte, ok bool) {
	pubhex, _ := body["pubhex"].(string)

	raw, err := hex.DecodeString(pubhex)
	if err != nil || len(raw) != 32 {
		return nil, nil, false
	}

	ephPub = new([32]byte)
	copy(ephPub[:], raw)

	if verhex, has := body["verhex"].(string); has {
		if rawVer, verr := hex.DecodeString(verhex); verr == nil && len(rawVer) == 32 {
			signPub = new([32]byte)
			copy(signPub[:], rawVer)
		}
	}

	return ephPub, signPub, true
}

// Allower is the initiator half of session-key agreement.
type Allower struct {
	base
	state   allowState
	retries int
	local   *estate.Estate
	ephPub  *[32]byte
	ephPriv *[32]byte
}

// NewAllower creates an Allower bound to local's identity, generates a
// fresh ephemeral box keypair for this session; its first Process call
// emits the hello.
func NewAllower(remote, local *estate.Estate, tid uint32, timeout time.Duration, now time.Time) *Allower {
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		// crypto/rand failing is not a recoverable condition this
		// transaction can do anything about; surface it as an
		// immediate failure rather than proceeding with a nil key.
		a := &Allower{base: base{initiator: true, remote: remote, tid: tid, timeout: timeout}, state: allowStateFailed}
		a.retouch(now)

		return a
	}

	a := &Allower{
		base:    base{initiator: true, remote: remote, tid: tid, timeout: timeout},
		state:   allowStateInit,
		local:   local,
		ephPub:  ephPub,
		ephPriv: ephPriv,
	}
	a.retouch(now)

	return a
}

func (a *Allower) Kind() wire.TxnKind  { return wire.TxnKindAllow }
func (a *Allower) Index() estate.Index { return a.index(uint8(wire.TxnKindAllow)) }

// helloSend is the first packet an Allower sends: its ephemeral box public
// key and permanent sign-verify public key.
func (a *Allower) helloSend() Send {
	return allowSend(a.remote, a.tid, wire.PacketKindHello, false, keyBody(a.ephPub, a.local.SignPublic))
}

func (a *Allower) Process(now time.Time) Outcome {
	if a.state == allowStateInit {
		a.state = allowStateSentHello
		return Outcome{Sends: []Send{a.helloSend()}}
	}

	if a.state == allowStateDone || a.state == allowStateFailed {
		return Outcome{Done: true, Failed: a.state == allowStateFailed}
	}

	if !a.expired(now) {
		return Outcome{}
	}

	if a.retries < allowRetransmits && (a.state == allowStateSentHello || a.state == allowStateSentInitiate) {
		a.retries++
		a.retouch(now)

		if a.state == allowStateSentInitiate {
			return Outcome{Sends: []Send{allowSend(a.remote, a.tid, wire.PacketKindInitiate, false, nil)}}
		}

		return Outcome{Sends: []Send{a.helloSend()}}
	}

	a.state = allowStateFailed

	return Outcome{Done: true, Failed: true}
}

func (a *Allower) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	var ev allowEvent

	switch pk {
	case wire.PacketKindCookie:
		ev = allowEventRecvCookie
	case wire.PacketKindAck:
		ev = allowEventRecvAck
	default:
		return Outcome{}
	}

	ns, ok := apply(allowerTable, a.state, ev)
	if !ok {
		return Outcome{}
	}

	if ev == allowEventRecvCookie {
		peerEphPub, peerSignPub, ok := parseKeyBody(body)
		if !ok {
			return Outcome{}
		}

		a.remote.SessionKey = wire.PrecomputeShared(peerEphPub, a.ephPriv)
		a.remote.BoxPublic = peerEphPub
		if peerSignPub != nil {
			a.remote.SignPublic = peerSignPub
		}
	}

	a.state = ns
	a.retries = 0
	a.retouch(time.Now())

	switch ns {
	case allowStateSentInitiate:
		return Outcome{Sends: []Send{allowSend(a.remote, a.tid, wire.PacketKindInitiate, false, nil)}}
	case allowStateDone:
		return Outcome{Done: true}
	default:
		return Outcome{}
	}
}

func (a *Allower) Cancel() Outcome {
	a.state = allowStateFailed
	return Outcome{Done: true, Failed: true}
}

// Allowent is the correspondent half of session-key agreement.
type Allowent struct {
	base
	state   allowState
	local   *estate.Estate
	ephPub  *[32]byte
	ephPriv *[32]byte
}

// NewAllowentFromHello spawns an Allowent reacting to an inbound hello,
// generating its own ephemeral box keypair, recording the initiator's
// ephemeral/permanent public keys from body; the caller sends its
// CookieSend. ok is false if body's key material was missing or malformed, or
// key generation failed, in which case the caller should treat this as a
// stale/invalid attempt rather than registering the transaction.
func NewAllowentFromHello(remote, local *estate.Estate, tid uint32, body map[string]any, timeout time.Duration, now time.Time) (*Allowent, bool) {
	peerEphPub, peerSignPub, ok := parseKeyBody(body)
	if !ok {
		return nil, false
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, false
	}

	remote.SessionKey = wire.PrecomputeShared(peerEphPub, ephPriv)
	remote.BoxPublic = peerEphPub
	if peerSignPub != nil {
		remote.SignPublic = peerSignPub
	}

	ae := &Allowent{
		base:    base{initiator: false, remote: remote, tid: tid, timeout: timeout},
		local:   local,
		ephPub:  ephPub,
		ephPriv: ephPriv,
	}
	ae.retouch(now)

	ns, _ := apply(allowentTable, allowStateInit, allowEventRecvHello)
	ae.state = ns

	return ae, true
}

func (ae *Allowent) Kind() wire.TxnKind  { return wire.TxnKindAllow }
func (ae *Allowent) Index() estate.Index { return ae.index(uint8(wire.TxnKindAllow)) }

// CookieSend is the cookie packet sent on entry into sent-cookie, carrying
// this side's ephemeral box public key and permanent sign-verify key.
func (ae *Allowent) CookieSend() Send {
	return allowSend(ae.remote, ae.tid, wire.PacketKindCookie, true, keyBody(ae.ephPub, ae.local.SignPublic))
}

func (ae *Allowent) Process(now time.Time) Outcome {
	if ae.state == allowStateSentAck {
		return Outcome{Done: true}
	}

	if !ae.expired(now) {
		return Outcome{}
	}

	ae.state = allowStateFailed

	return Outcome{Done: true, Failed: true}
}

func (ae *Allowent) Receive(pk wire.PacketKind, si uint32, body map[string]any) Outcome {
	if pk != wire.PacketKindInitiate {
		return Outcome{}
	}

	ns, ok := apply(allowentTable, ae.state, allowEventRecvInitiate)
	if !ok {
		return Outcome{}
	}

	ae.state = ns

	return Outcome{Sends: []Send{allowSend(ae.remote, ae.tid, wire.PacketKindAck, true, nil)}, Done: true}
}

func (ae *Allowent) Cancel() Outcome {
	ae.state = allowStateFailed
	return Outcome{Done: true, Failed: true}
}
