package stack

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/txn"
)

// Transmit enqueues body for delivery to duid (0 meaning "the default
// destination": the first remote in registry order if any exist, else a
// bootstrapped rendezvous remote) via a Messenger transaction serviced on
// the next ServiceAllTx pass.
//
// body must be non-nil: a nil mapping has no serializable JSON
// representation and is rejected at enqueue time rather than surfacing as
// a parsing_inner_error on the wire later.
func (s *Stack) Transmit(body map[string]any, duid uint32, bcst, wait bool) error {
	if body == nil {
		s.IncStat("invalid_transmit_body")
		return ErrInvalidTransmitBody
	}

	s.txMsgs.PushBack(txMsg{body: body, duid: duid, bcst: bcst, wait: wait})

	return nil
}

// Join spawns a Joiner transaction against the remote at ha, bootstrapping
// a pending (uid 0) remote if none is known at that address yet.
func (s *Stack) Join(ha netip.AddrPort, now time.Time) error {
	remote, known := s.registry.FetchByHa(ha)
	if !known {
		remote = estate.New(0, ha.String(), ha)
		if err := s.registry.AddRemote(remote); err != nil {
			return fmt.Errorf("join %s: %w", ha, err)
		}
	}

	j := txn.NewJoiner(remote, s.nextTID(), s.timeout, now)
	s.register(j)

	out := j.Process(now)
	s.applyOutcome(j, j.Index(), out)

	return nil
}

// Allow spawns an Allower transaction to negotiate a session key with an
// already-joined remote.
func (s *Stack) Allow(uid uint32, now time.Time) error {
	remote, ok := s.registry.FetchByUID(uid)
	if !ok {
		return fmt.Errorf("allow %d: %w", uid, estate.ErrUnknownRemote)
	}

	a := txn.NewAllower(remote, s.registry.Local, s.nextTID(), s.timeout, now)
	s.register(a)

	out := a.Process(now)
	s.applyOutcome(a, a.Index(), out)

	return nil
}

// Alive spawns an Aliver liveness probe against uid on demand, outside the
// periodic cascade Manage drives.
func (s *Stack) Alive(uid uint32, now time.Time) error {
	remote, ok := s.registry.FetchByUID(uid)
	if !ok {
		return fmt.Errorf("alive %d: %w", uid, estate.ErrUnknownRemote)
	}

	a := txn.NewAliver(remote, s.nextTID(), s.timeout, now)
	s.register(a)

	out := a.Process(now)
	s.applyOutcome(a, a.Index(), out)

	s.lastProbe[remote.UID] = now

	return nil
}
