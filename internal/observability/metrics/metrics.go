package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters for the booking, cancellation, payment
// and generation flows. All methods are safe on a nil receiver.
type SchedulingMetrics struct {
	bookings      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	payments      *prometheus.CounterVec
	txConflicts   *prometheus.CounterVec
	slotsCreated  prometheus.Counter
	txDuration    *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "cancellations_total",
			Help:      "Cancellation requests by outcome",
		}, []string{"outcome"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "payments_reconciled_total",
			Help:      "Payment events processed by the reconciler, by outcome",
		}, []string{"outcome"}),
		txConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "tx_conflicts_total",
			Help:      "Optimistic transaction aborts that triggered a retry",
		}, []string{"operation"}),
		slotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slots_created_total",
			Help:      "Slots newly created by the generator",
		}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "tx_duration_seconds",
			Help:      "Wall time of transactional operations including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.cancellations, m.payments, m.txConflicts, m.slotsCreated, m.txDuration)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObservePayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTxConflict(operation string) {
	if m == nil {
		return
	}
	m.txConflicts.WithLabelValues(operation).Inc()
}

func (m *SchedulingMetrics) AddSlotsCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsCreated.Add(float64(n))
}

func (m *SchedulingMetrics) ObserveTxDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(seconds)
}
