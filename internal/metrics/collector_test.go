package raetmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	raetmetrics "github.com/goraet/goraet/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := raetmetrics.NewCollector(reg)

	if c.Stats == nil {
		t.Error("Stats is nil")
	}
	if c.Remotes == nil {
		t.Error("Remotes is nil")
	}
	if c.Transactions == nil {
		t.Error("Transactions is nil")
	}
	if c.PendingSends == nil {
		t.Error("PendingSends is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestIncStat(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := raetmetrics.NewCollector(reg)

	c.IncStat("stale_sid_attempt")
	c.IncStat("stale_sid_attempt")
	c.IncStat("tx_would_block")

	if v := counterValue(t, c.Stats, "stale_sid_attempt"); v != 2 {
		t.Errorf("stale_sid_attempt = %v, want 2", v)
	}

	if v := counterValue(t, c.Stats, "tx_would_block"); v != 1 {
		t.Errorf("tx_would_block = %v, want 1", v)
	}
}

func TestGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := raetmetrics.NewCollector(reg)

	c.SetRemotes(3)
	c.SetTransactions(5)
	c.SetPendingSends(7)

	if v := gaugeValue(t, c.Remotes); v != 3 {
		t.Errorf("Remotes = %v, want 3", v)
	}

	if v := gaugeValue(t, c.Transactions); v != 5 {
		t.Errorf("Transactions = %v, want 5", v)
	}

	if v := gaugeValue(t, c.PendingSends); v != 7 {
		t.Errorf("PendingSends = %v, want 7", v)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
