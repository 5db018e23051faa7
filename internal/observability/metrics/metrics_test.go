package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("created")
	m.ObserveBooking("created")
	m.ObserveConflict("PROVIDER")
	m.ObserveInvariantViolation()
	m.ObserveOffer("accepted")
	m.ObserveRiskRecompute(0.01)
	m.ObserveBatchItem("recurrence", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflictsTotal.WithLabelValues("PROVIDER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invariantViolations))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("created")
	m.ObserveConflict("RESOURCE")
	m.ObserveInvariantViolation()
	m.ObserveOffer("declined")
	m.ObserveRiskRecompute(0.2)
	m.ObserveBatchItem("risk-decay", "failed")
}
