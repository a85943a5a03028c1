package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_IsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.EventEmitted("locker_state_changed")
	b.EventEmitted("locker_state_changed")
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened("/ws/lockers")
	m.ConnectionClosed("/ws/lockers")
	m.ConnectRejected("unknown_namespace")
	m.FrameDropped()
	m.ObserveBroadcast(0.001)
	m.EventEmitted("help_requested")
	m.SetStored(3)
	m.Evicted("capacity", 1)
	m.Admission("admitted")
	m.SetLocksHeld(2)
	m.ObserveHTTP("GET", "/v1/health", "200", 0.01)
}

func TestGather_ReportsCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ConnectionOpened("/ws/help")
	m.Admission("locked")
	m.SetStored(7)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"lockerd_ws_connections",
		"lockerd_admission_decisions_total",
		"lockerd_events_stored",
	} {
		if !names[want] {
			t.Errorf("missing metric family %q (got %v)", want, names)
		}
	}
}
