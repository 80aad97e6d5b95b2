package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("ok")
	m.ObserveBooking("ok")
	m.ObserveBooking("slot-not-open")
	m.ObserveTxConflict("book_slot")
	m.AddSlotsCreated(8)
	m.AddSlotsCreated(0)
	m.ObserveTxDuration("book_slot", 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("slot-not-open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txConflicts.WithLabelValues("book_slot")))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.slotsCreated))
}

func TestSchedulingMetricsNilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("ok")
	m.ObserveCancellation("ok")
	m.ObservePayment("confirmed")
	m.ObserveTxConflict("cancel")
	m.AddSlotsCreated(3)
	m.ObserveTxDuration("cancel", 0.1)
}
