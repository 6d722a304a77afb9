package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	out := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += lp.GetName() + "=" + lp.GetValue() + ","
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestNewMetricsNilRegisterer(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordAttempt("success", "", 0.1)
	m.InFlight.Inc()
}

func TestRecordAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAttempt("success", "", 0.5)
	m.RecordAttempt("success", "", 1.2)
	m.RecordAttempt("retrying", "http", 0.3)

	got := gatherValue(t, reg, "herald_attempts_total")
	if len(got) != 2 {
		t.Fatalf("expected 2 label combinations, got %d: %v", len(got), got)
	}
	if got["class=,outcome=success,"] != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}

	lat := gatherValue(t, reg, "herald_delivery_latency_seconds")
	if lat[""] != 3 {
		t.Fatalf("expected 3 latency samples, got %v", lat)
	}
}

func TestEventsEmitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsEmittedTotal.WithLabelValues("order.created").Inc()
	m.EventsEmittedTotal.WithLabelValues("order.created").Inc()
	m.EventsEmittedTotal.WithLabelValues("order.cancelled").Inc()

	got := gatherValue(t, reg, "herald_events_emitted_total")
	if got["kind=order.created,"] != 2 || got["kind=order.cancelled,"] != 1 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestRecordSweepAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSweep("ok", 7)
	m.RecordSweep("skipped", 0)
	m.InFlight.Set(4)

	sweeps := gatherValue(t, reg, "herald_sweeps_total")
	if sweeps["result=ok,"] != 1 || sweeps["result=skipped,"] != 1 {
		t.Fatalf("unexpected sweeps: %v", sweeps)
	}
	inflight := gatherValue(t, reg, "herald_deliveries_in_flight")
	if inflight[""] != 4 {
		t.Fatalf("expected gauge 4, got %v", inflight)
	}
}
