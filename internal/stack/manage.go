package stack

import (
	"time"

	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/txn"
	"github.com/goraet/goraet/internal/wire"
)

// Manage drives every live transaction's timeout/retransmit logic for one
// tick, and — when cascade is set — considers spawning a fresh liveness
// probe (Aliver) for each accepted, auto-managed remote whose configured
// period has elapsed. immediate forces a probe regardless of elapsed time,
// used by callers reacting to an explicit liveness request rather than the
// periodic timer.
func (s *Stack) Manage(cascade, immediate bool, now time.Time) {
	// Snapshot before iterating: applyOutcome may delete finished
	// transactions from the live table, and mutating the table's
	// backing slices mid-Range would skip or repeat entries.
	live := s.transactions.Values()

	for _, tr := range live {
		out := tr.Process(now)
		s.applyOutcome(tr, tr.Index(), out)
	}

	if !cascade {
		return
	}

	for _, re := range s.registry.Values() {
		s.maybeProbe(re, immediate, now)
	}
}

// maybeProbe spawns an Aliver for re if it is accepted, auto-managed, has
// no in-flight liveness transaction of its own, and either immediate is
// set or its configured period has elapsed since the last probe.
func (s *Stack) maybeProbe(re *estate.Estate, immediate bool, now time.Time) {
	if re.Acceptance != estate.AcceptanceAccepted || !re.Auto {
		return
	}

	if s.hasLiveAliver(re) {
		return
	}

	period := time.Duration(re.Period * float64(time.Second))
	if period <= 0 {
		return
	}

	last, seen := s.lastProbe[re.UID]
	if !immediate && seen && now.Sub(last) < period {
		return
	}

	a := txn.NewAliver(re, s.nextTID(), s.timeout, now)
	s.register(a)

	out := a.Process(now)
	s.applyOutcome(a, a.Index(), out)

	s.lastProbe[re.UID] = now
}

func (s *Stack) hasLiveAliver(re *estate.Estate) bool {
	for idx := range re.Indexes {
		if idx.Initiator && idx.Kind == uint8(wire.TxnKindAlive) {
			return true
		}
	}

	return false
}
