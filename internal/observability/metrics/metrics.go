package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the scheduling core.
// A nil *SchedulingMetrics is valid and records nothing.
type SchedulingMetrics struct {
	bookingsTotal       *prometheus.CounterVec
	conflictsTotal      *prometheus.CounterVec
	invariantViolations prometheus.Counter
	offersTotal         *prometheus.CounterVec
	riskRecompute       prometheus.Histogram
	batchItemsTotal     *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking and reschedule attempts by result",
		}, []string{"result"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "conflicts_total",
			Help:      "Detected conflicts by dimension",
		}, []string{"dimension"}),
		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "invariant_violations_total",
			Help:      "Overlaps rejected by the store after passing the conflict detector",
		}),
		offersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "waitlist_offers_total",
			Help:      "Waitlist offers by outcome",
		}, []string{"outcome"}),
		riskRecompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduling",
			Name:      "risk_recompute_seconds",
			Help:      "Latency of a single patient risk recomputation",
			Buckets:   prometheus.DefBuckets,
		}),
		batchItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "batch_items_total",
			Help:      "Items processed by batch jobs",
		}, []string{"job", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.conflictsTotal, m.invariantViolations, m.offersTotal, m.riskRecompute, m.batchItemsTotal)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(dimension string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(dimension).Inc()
}

func (m *SchedulingMetrics) ObserveInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
}

func (m *SchedulingMetrics) ObserveOffer(outcome string) {
	if m == nil {
		return
	}
	m.offersTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveRiskRecompute(seconds float64) {
	if m == nil {
		return
	}
	m.riskRecompute.Observe(seconds)
}

func (m *SchedulingMetrics) ObserveBatchItem(job, result string) {
	if m == nil {
		return
	}
	m.batchItemsTotal.WithLabelValues(job, result).Inc()
}
