package prometheus_test

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dbufcache/pkg/dbuf"
	dbufprom "github.com/marmos91/dbufcache/pkg/dbuf/metrics/prometheus"
)

func TestObserveHoldCountsHitsAndMisses(t *testing.T) {
	reg := prom.NewRegistry()
	m := dbufprom.New(reg)

	m.ObserveHold(true)
	m.ObserveHold(true)
	m.ObserveHold(false)

	require.Equal(t, 2.0, counterValue(t, reg, "dbuf_holds_total", "hit", "true"))
	require.Equal(t, 1.0, counterValue(t, reg, "dbuf_holds_total", "hit", "false"))
}

func TestObserveDirtyWritesLostAccumulates(t *testing.T) {
	reg := prom.NewRegistry()
	m := dbufprom.New(reg)

	m.ObserveDirtyWritesLost(100)
	m.ObserveDirtyWritesLost(50)

	require.Equal(t, 150.0, counterValue(t, reg, "dbuf_dirty_writes_lost_bytes_total", "", ""))
}

func TestObserveStateTransitionAndSyncWriteDoNotPanic(t *testing.T) {
	reg := prom.NewRegistry()
	m := dbufprom.New(reg)

	m.ObserveStateTransition(dbuf.StateUncached, dbuf.StateCached)
	m.ObserveRelease()
	m.ObserveResolve(5 * time.Millisecond)
	m.ObserveSyncWrite(4096, 2*time.Millisecond)
	m.ObserveDirty(1)

	require.Equal(t, 1.0, counterValue(t, reg, "dbuf_state_transitions_total", "to", dbuf.StateCached.String()))
}

// counterValue gathers name from reg and returns the counter value for the
// metric whose label (if non-empty) matches, failing the test if absent.
func counterValue(t *testing.T, reg *prom.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if label == "" || hasLabel(metric, label, value) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s (label %s=%s) not found", name, label, value)
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
