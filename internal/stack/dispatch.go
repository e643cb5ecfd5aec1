package stack

import (
	"net/netip"
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/txn"
	"github.com/goraet/goraet/internal/wire"
)

// processRx runs one inbound datagram through the two-stage parse and
// dispatch pipeline: ParseOuter, session-id discipline, transaction
// lookup, and — when no transaction matches — the reply path that spawns
// a correspondent transaction or a Staler nack.
func (s *Stack) processRx(raw []byte, from netip.AddrPort, now time.Time) {
	pkt, err := wire.ParseOuter(raw)
	if err != nil {
		s.IncStat("parsing_outer_error")
		return
	}

	h := pkt.Header

	if h.SI == 0 && h.TK != wire.TxnKindJoin {
		s.IncStat("invalid_sid_attempt")
		return
	}

	remote, known := s.registry.FetchByUID(h.SE)
	if !known {
		remote, known = s.registry.FetchByHa(from)
	}

	if known && h.SI != 0 && !h.CF {
		if !remote.ValidRsid(h.SI) {
			s.IncStat("stale_sid_attempt")
			return
		}

		remote.BumpRsid(h.SI)
	}

	peerKey := from.String()
	if known {
		peerKey = remote.Name
		if remote.UID != 0 {
			peerKey = estate.UIDKey(remote.UID)
		}
	}

	idx := estate.Index{Initiator: h.CF, Kind: uint8(h.TK), PeerKey: peerKey, TID: h.TI}

	if tr, ok := s.transactions.Get(idx); ok {
		keys := s.cryptoKeysFor(tr.Remote())

		body, err := wire.ParseInner(pkt, keys)
		if err != nil {
			s.IncStat("parsing_inner_error")
			return
		}

		out := tr.Receive(h.PK, h.SI, body)
		s.applyOutcome(tr, idx, out)

		return
	}

	if h.CF {
		if !known {
			s.IncStat("invalid_remote_eid")
			return
		}

		st := txn.NewStaler(remote, h.TK, h.TI, h.SI)
		s.register(st)

		out := st.Process(now)
		s.applyOutcome(st, st.Index(), out)

		return
	}

	s.reply(h, pkt, remote, known, from, now)
}

// reply spawns the correspondent half of a transaction kind in response to
// an inbound packet no existing transaction claimed, and sends its first
// reply packet.
func (s *Stack) reply(h wire.Header, pkt *wire.Packet, remote *estate.Estate, known bool, from netip.AddrPort, now time.Time) {
	switch h.TK {
	case wire.TxnKindJoin:
		s.replyJoin(h, pkt, remote, known, from, now)
	case wire.TxnKindAllow:
		s.replyAllow(h, pkt, remote, known, now)
	case wire.TxnKindAlive:
		s.replyAlive(h, remote, known, now)
	case wire.TxnKindMessage:
		s.replyMessage(h, pkt, remote, known, now)
	default:
		s.IncStat("stale_packet")
	}
}

func (s *Stack) replyJoin(h wire.Header, pkt *wire.Packet, remote *estate.Estate, known bool, from netip.AddrPort, now time.Time) {
	if h.PK != wire.PacketKindRequest {
		s.IncStat("stale_packet")
		return
	}

	body, err := wire.ParseInner(pkt, wire.CryptoKeys{})
	if err != nil {
		s.IncStat("parsing_inner_error")
		return
	}

	if !known {
		name := from.String()
		if n, ok := body["name"].(string); ok && n != "" {
			name = n
		}

		remote = estate.New(0, name, from)
		if err := s.registry.AddRemote(remote); err != nil {
			s.IncStat("invalid_join_attempt")
			return
		}
	}

	je := txn.NewJoinentFromRequest(remote, h.TI, s.timeout, now)
	s.register(je)
	s.enqueueSend(remote, je.ResponseSend(true), wire.CryptoKeys{})
}

func (s *Stack) replyAllow(h wire.Header, pkt *wire.Packet, remote *estate.Estate, known bool, now time.Time) {
	if !known {
		s.IncStat("invalid_remote_eid")
		return
	}

	if h.PK != wire.PacketKindHello {
		s.IncStat("stale_packet")
		return
	}

	body, err := wire.ParseInner(pkt, wire.CryptoKeys{})
	if err != nil {
		s.IncStat("parsing_inner_error")
		return
	}

	ae, ok := txn.NewAllowentFromHello(remote, s.registry.Local, h.TI, body, s.timeout, now)
	if !ok {
		s.IncStat("invalid_allow_attempt")
		return
	}

	s.register(ae)
	s.enqueueSend(remote, ae.CookieSend(), wire.CryptoKeys{})
}

func (s *Stack) replyAlive(h wire.Header, remote *estate.Estate, known bool, now time.Time) {
	if !known {
		s.IncStat("invalid_remote_eid")
		return
	}

	if h.PK != wire.PacketKindRequest {
		s.IncStat("stale_packet")
		return
	}

	al := txn.NewAliventFromRequest(remote, h.TI, s.timeout, now)
	s.register(al)
	s.enqueueSend(remote, al.ResponseSend(), s.cryptoKeysFor(remote))
}

func (s *Stack) replyMessage(h wire.Header, pkt *wire.Packet, remote *estate.Estate, known bool, now time.Time) {
	if !known {
		s.IncStat("invalid_remote_eid")
		return
	}

	if h.PK != wire.PacketKindMessage {
		s.IncStat("stale_packet")
		return
	}

	body, err := wire.ParseInner(pkt, s.cryptoKeysFor(remote))
	if err != nil {
		s.IncStat("parsing_inner_error")
		return
	}

	me := txn.NewMessengentFromMessage(remote, h.TI, body, s.timeout, now)
	s.register(me)
	s.enqueueSend(remote, me.AckSend(), wire.CryptoKeys{})

	if body != nil {
		s.rxMsgs.PushBack(body)
	}

	idx := me.Index()
	s.transactions.Delete(idx)
	remote.RemoveIndex(idx)
}
