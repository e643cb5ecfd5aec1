package stack

import (
	"errors"
	"net/netip"
	"time"

	"github.com/goraet/goraet/internal/txn"
)

// ServiceAllRx drains the socket into rxes and services every queued
// datagram.
func (s *Stack) ServiceAllRx(now time.Time) {
	s.drainSocket()
	s.serviceRxes(now)
}

// ServiceAllTx drains queued application messages into outbound
// transactions and services the outbound datagram queue under EAGAIN
// backpressure.
func (s *Stack) ServiceAllTx(now time.Time) {
	s.serviceTxMsgs(now)
	s.serviceTxes(now)
}

// ServiceAll runs one full rx/tx pass.
func (s *Stack) ServiceAll(now time.Time) {
	s.ServiceAllRx(now)
	s.ServiceAllTx(now)
}

// PopMessage removes and returns the oldest delivered application message,
// if any.
func (s *Stack) PopMessage() (map[string]any, bool) {
	return s.rxMsgs.PopFront()
}

// drainSocket reads up to bufcnt datagrams from the socket without
// blocking, copying each into rxes (the Socket's buffer is reused between
// Receive calls, so the copy is required).
func (s *Stack) drainSocket() {
	for i := 0; i < s.bufcnt; i++ {
		data, from, ok := s.socket.Receive()
		if !ok {
			return
		}

		cp := make([]byte, len(data))
		copy(cp, data)

		s.rxes.PushBack(rxDatagram{data: cp, from: from})
	}
}

func (s *Stack) serviceRxes(now time.Time) {
	for {
		d, ok := s.rxes.PopFront()
		if !ok {
			return
		}

		s.processRx(d.data, d.from, now)
	}
}

// serviceTxMsgs turns each queued application message into a Messenger
// transaction and drives its first Process tick, which produces the
// initial wire send.
func (s *Stack) serviceTxMsgs(now time.Time) {
	for {
		item, ok := s.txMsgs.PopFront()
		if !ok {
			return
		}

		remote, err := s.registry.RetrieveRemote(item.duid, netip.AddrPort{}, s.main)
		if err != nil {
			s.IncStat("invalid_destination")
			continue
		}

		m := txn.NewMessenger(remote, s.nextTID(), item.body, item.bcst, item.wait, s.timeout, now)
		s.register(m)

		out := m.Process(now)
		s.applyOutcome(m, m.Index(), out)
	}
}

// serviceTxes drains txes to the socket, honoring EAGAIN backpressure: once
// a destination blocks, every later packet to that same destination is
// deferred without attempting the socket call, so two packets to one peer
// can never be reordered by one of them racing ahead while the other sits
// in laters, grounded on
// original_source/raet/stacking.py::_handleOneTx's blocks/laters pair.
func (s *Stack) serviceTxes(now time.Time) {
	if len(s.laters) > 0 {
		s.txes.PushFrontAll(s.laters)
		s.laters = nil
	}

	clear(s.blocks)

	var deferred []txDatagram

	for {
		d, ok := s.txes.PopFront()
		if !ok {
			break
		}

		if _, blocked := s.blocks[d.to]; blocked {
			deferred = append(deferred, d)
			continue
		}

		if err := s.socket.Send(d.data, d.to); err != nil {
			if errors.Is(err, ErrWouldBlock) {
				s.blocks[d.to] = struct{}{}
				deferred = append(deferred, d)
				s.IncStat("tx_would_block")

				continue
			}

			s.IncStat("tx_error")

			continue
		}

		s.IncStat("tx_packets")
	}

	s.laters = deferred
}
