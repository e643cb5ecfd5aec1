// Package stack implements the cooperative, single-threaded protocol
// coordinator: the four service queues (rxes, rxMsgs, txMsgs, txes), the
// remote registry, the transaction table, and the dispatch/reply logic
// that turns inbound datagrams into transaction events and outbound
// datagrams.
//
// Every exported method here runs to completion on the caller's goroutine;
// there is no internal locking because there is no internal concurrency —
// callers drive the stack by calling ServiceAll (or the ServiceAllRx/
// ServiceAllTx/Manage halves) from a single loop, the same shape the
// original RAET stack uses (original_source/raet/stacking.py). Goroutines
// belong only at the ambient edges: the Socket implementation's own
// kernel I/O, and the keep-file flush.
package stack

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/goraet/goraet/internal/deque"
	"github.com/goraet/goraet/internal/estate"
	"github.com/goraet/goraet/internal/keep"
	"github.com/goraet/goraet/internal/ordmap"
	"github.com/goraet/goraet/internal/txn"
	"github.com/goraet/goraet/internal/wire"
)

// MetricsSink receives stat increments as the stack runs. internal/metrics
// provides a Prometheus-backed implementation; tests may supply a no-op or
// recording fake.
type MetricsSink interface {
	IncStat(name string)
}

type noopMetrics struct{}

func (noopMetrics) IncStat(string) {}

type rxDatagram struct {
	data []byte
	from netip.AddrPort
}

type txDatagram struct {
	data []byte
	to   netip.AddrPort
}

type txMsg struct {
	body map[string]any
	duid uint32
	bcst bool
	wait bool
}

// Stack is the coordinator. Construct with New and drive it with ServiceAll
// (or its Rx/Tx/Manage halves) from one goroutine.
type Stack struct {
	registry *estate.Registry
	socket   Socket
	keep     keep.Keep
	logger   *slog.Logger
	metrics  MetricsSink

	rxes   deque.Deque[rxDatagram]
	rxMsgs deque.Deque[map[string]any]
	txMsgs deque.Deque[txMsg]
	txes   deque.Deque[txDatagram]

	// laters holds txes entries deferred by an EAGAIN on the previous
	// service pass, spliced back onto the front of txes at the start of
	// the next one so per-destination order is preserved.
	laters []txDatagram

	// blocks records destinations that hit EAGAIN earlier in the current
	// service pass; later packets to the same destination are deferred
	// to laters too, without attempting the socket call, so that packets
	// to one blocked peer never cut ahead of packets behind them for the
	// same peer.
	blocks map[netip.AddrPort]struct{}

	transactions *ordmap.Map[estate.Index, txn.Transaction]

	// lastProbe tracks when each remote's last liveness probe was sent,
	// so Manage's cascade only spawns a fresh Aliver once a remote's
	// configured period has elapsed.
	lastProbe map[uint32]time.Time

	stats map[string]int

	tid     uint32
	timeout time.Duration
	bufcnt  int
	main    bool
}

// Option configures a Stack at construction time.
type Option func(*Stack)

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(s *Stack) { s.logger = l } }

// WithMetrics installs a MetricsSink; without this option stats are still
// tracked internally (Stat/Stats remain queryable) but nothing is exported.
func WithMetrics(m MetricsSink) Option { return func(s *Stack) { s.metrics = m } }

// WithKeep installs persistent storage for local/remote estate data.
func WithKeep(k keep.Keep) Option { return func(s *Stack) { s.keep = k } }

// WithTimeout overrides the default per-transaction retransmit timeout.
func WithTimeout(d time.Duration) Option { return func(s *Stack) { s.timeout = d } }

// WithBufCount overrides the max datagrams drained from the socket per
// ServiceAllRx call.
func WithBufCount(n int) Option { return func(s *Stack) { s.bufcnt = n } }

// WithMain marks this stack as the rendezvous ("main") role, affecting the
// default bootstrap port used by transmit's implicit-destination rule.
func WithMain(main bool) Option { return func(s *Stack) { s.main = main } }

const defaultTimeout = 2 * time.Second
const defaultBufCount = 64

// New constructs a Stack bound to local and socket.
func New(local *estate.Estate, socket Socket, opts ...Option) *Stack {
	s := &Stack{
		registry:     estate.NewRegistry(local),
		socket:       socket,
		logger:       slog.Default(),
		metrics:      noopMetrics{},
		transactions: ordmap.New[estate.Index, txn.Transaction](),
		stats:        make(map[string]int),
		timeout:      defaultTimeout,
		bufcnt:       defaultBufCount,
		blocks:       make(map[netip.AddrPort]struct{}),
		lastProbe:    make(map[uint32]time.Time),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Local returns the stack's own estate.
func (s *Stack) Local() *estate.Estate { return s.registry.Local }

// Registry exposes the remote registry for read access (FetchByName,
// Range, Len, ...); mutation goes through AddRemote/RemoveRemote so the
// stack can keep the transaction table consistent.
func (s *Stack) Registry() *estate.Registry { return s.registry }

// IncStat increments a named counter.
func (s *Stack) IncStat(name string) {
	s.stats[name]++
	s.metrics.IncStat(name)
}

// Stat returns the current value of a named counter.
func (s *Stack) Stat(name string) int { return s.stats[name] }

// PendingTransactions reports how many transactions are currently live.
func (s *Stack) PendingTransactions() int { return s.transactions.Len() }

// PendingSends reports how many outbound datagrams are queued in txes,
// plus those deferred in laters by EAGAIN backpressure.
func (s *Stack) PendingSends() int { return s.txes.Len() + len(s.laters) }

// ClearStat zeroes a single counter.
func (s *Stack) ClearStat(name string) { delete(s.stats, name) }

// ClearStats zeroes every counter.
func (s *Stack) ClearStats() { s.stats = make(map[string]int) }

// nextTID returns the next transaction id this stack will use as an
// initiator. 0 is reserved (join requests carry si=0 but still need a
// nonzero tid to disambiguate retransmits from distinct attempts).
func (s *Stack) nextTID() uint32 {
	s.tid++
	if s.tid == 0 {
		s.tid = 1
	}

	return s.tid
}

// AddRemote registers re with the stack's registry.
func (s *Stack) AddRemote(re *estate.Estate) error {
	return s.registry.AddRemote(re)
}

// RemoveRemote deletes uid's remote and cancels every transaction bound to
// it, enqueueing whatever nack each cancellation produces. The stack, not
// the registry, owns the lifecycle of transactions bound to a remote.
func (s *Stack) RemoveRemote(uid uint32) error {
	re, err := s.registry.RemoveRemote(uid)
	if err != nil {
		return err
	}

	for idx := range re.Indexes {
		tr, ok := s.transactions.Get(idx)
		if !ok {
			continue
		}

		out := tr.Cancel()
		s.applyOutcome(tr, idx, out)
	}

	return nil
}

// register binds a freshly spawned transaction into the table and its
// remote's index set.
func (s *Stack) register(tr txn.Transaction) {
	idx := tr.Index()
	s.transactions.Set(idx, tr)
	tr.Remote().AddIndex(idx)
}

// applyOutcome enqueues every packet an Outcome produced, delivers any
// payload to rxMsgs, and — if the transaction is finished — removes it
// from both the transaction table and its remote's index set.
func (s *Stack) applyOutcome(tr txn.Transaction, idx estate.Index, out txn.Outcome) {
	keys := s.cryptoKeysFor(tr.Remote())

	for _, snd := range out.Sends {
		s.enqueueSend(tr.Remote(), snd, keys)
	}

	if out.Deliver != nil {
		s.rxMsgs.PushBack(out.Deliver)
	}

	if out.Done {
		if !out.Failed && tr.Kind() == wire.TxnKindAlive {
			s.IncStat("alive_complete")
		}

		if !out.Failed && tr.Kind() == wire.TxnKindAllow && s.keep != nil {
			if err := s.keep.DumpRemote(keep.RemoteDataFrom(tr.Remote())); err != nil {
				s.logger.Warn("failed to dump remote keep",
					slog.String("remote", tr.Remote().Name),
					slog.String("error", err.Error()),
				)
			}
		}

		s.transactions.Delete(idx)
		tr.Remote().RemoveIndex(idx)
	}
}

// cryptoKeysFor builds the key bundle for exchanges with remote from the
// local estate's keypairs and remote's known public halves. Either side
// may be nil (e.g. during join, before any key material is known), in
// which case Pack/ParseInner reject coat/foot kinds that need them.
func (s *Stack) cryptoKeysFor(remote *estate.Estate) wire.CryptoKeys {
	local := s.registry.Local

	keys := wire.CryptoKeys{MyBoxPrivate: local.BoxPrivate, MySignPrivate: local.SignPrivate}
	if remote != nil {
		keys.PeerBoxPublic = remote.BoxPublic
		keys.PeerSignPublic = remote.SignPublic
		keys.Shared = remote.SessionKey
	}

	return keys
}

// enqueueSend renders snd to wire bytes and appends it to txes addressed
// at remote's host-address. The transaction kinds build their headers with
// se left at the zero value, since a transaction only ever holds a pointer
// to the remote side of the exchange; the stack is the one place that
// knows its own identity, so it stamps se here before packing.
func (s *Stack) enqueueSend(remote *estate.Estate, snd txn.Send, keys wire.CryptoKeys) {
	snd.Header.SE = s.registry.Local.UID

	bodyBytes := snd.BodyRaw

	if snd.Header.BK != wire.BodyKindRaw {
		encoded, err := wire.EncodeMappingBody(snd.Header.BK, snd.BodyMap)
		if err != nil {
			s.IncStat("encode_error")
			return
		}

		bodyBytes = encoded
	}

	packed, err := wire.Pack(snd.Header, bodyBytes, keys)
	if err != nil {
		s.IncStat("pack_error")
		return
	}

	s.txes.PushBack(txDatagram{data: packed, to: remote.HA})
}
