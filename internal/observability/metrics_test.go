package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunsStarted.WithLabelValues("chat").Inc()
	m.EventsDecoded.WithLabelValues("model", "delta").Add(3)
	m.EventsDropped.Inc()

	if got := testutil.ToFloat64(m.RunsStarted.WithLabelValues("chat")); got != 1 {
		t.Errorf("runs started = %v", got)
	}
	if got := testutil.ToFloat64(m.EventsDecoded.WithLabelValues("model", "delta")); got != 3 {
		t.Errorf("events decoded = %v", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 1 {
		t.Errorf("events dropped = %v", got)
	}
}

func TestNewSeparateRegistries(t *testing.T) {
	// Two instances on distinct registries must not collide.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.EventsDropped.Inc()
	if got := testutil.ToFloat64(b.EventsDropped); got != 0 {
		t.Errorf("registries shared state: %v", got)
	}
}
