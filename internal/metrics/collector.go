// Package raetmetrics exposes the stack's runtime counters and gauges to
// Prometheus.
package raetmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "goraet"
	subsystem = "stack"
)

const labelStat = "stat"

// -------------------------------------------------------------------------
// Collector — Prometheus stack metrics
// -------------------------------------------------------------------------

// Collector holds all stack Prometheus metrics.
//
//   - Stats is a single counter vector labeled by stat name, fed directly
//     by Stack.IncStat — new stat names the stack starts emitting need no
//     code change here.
//   - Remotes and Transactions are gauges sampled from the registry and
//     transaction table after each ServiceAll pass, as is PendingSends.
type Collector struct {
	// Stats counts named stack events (e.g., "stale_sid_attempt",
	// "tx_would_block", "parsing_inner_error") as reported through
	// Collector.IncStat, which satisfies stack.MetricsSink.
	Stats *prometheus.CounterVec

	// Remotes tracks the number of remotes currently registered.
	Remotes prometheus.Gauge

	// Transactions tracks the number of in-flight transactions.
	Transactions prometheus.Gauge

	// PendingSends tracks datagrams queued for transmission, including
	// those deferred by backpressure.
	PendingSends prometheus.Gauge
}

// NewCollector creates a Collector with all stack metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(c.Stats, c.Remotes, c.Transactions, c.PendingSends)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Stats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Total count of named stack events, by stat name.",
		}, []string{labelStat}),

		Remotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remotes",
			Help:      "Number of remotes currently registered with the stack.",
		}),

		Transactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transactions",
			Help:      "Number of transactions currently in flight.",
		}),

		PendingSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_sends",
			Help:      "Number of datagrams queued for transmission, including backpressure-deferred ones.",
		}),
	}
}

// IncStat increments the named stat counter by one. It satisfies
// stack.MetricsSink, letting a Collector be passed directly to
// stack.WithMetrics.
func (c *Collector) IncStat(name string) {
	c.Stats.WithLabelValues(name).Inc()
}

// SetRemotes sets the Remotes gauge to n.
func (c *Collector) SetRemotes(n int) {
	c.Remotes.Set(float64(n))
}

// SetTransactions sets the Transactions gauge to n.
func (c *Collector) SetTransactions(n int) {
	c.Transactions.Set(float64(n))
}

// SetPendingSends sets the PendingSends gauge to n.
func (c *Collector) SetPendingSends(n int) {
	c.PendingSends.Set(float64(n))
}
