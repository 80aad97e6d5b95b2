package scheduling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
)

func TestCancelUnpaidAppointmentReleasesSlot(t *testing.T) {
	repo, svc, slot, apptID := bookedFixture(t)

	require.NoError(t, svc.CancelAppointment(context.Background(), patient("p1"), apptID))

	s, _ := repo.Slot(slot.ID)
	assert.Equal(t, SlotOpen, s.Status)
	assert.Nil(t, s.PatientID)

	appt, _ := repo.Appointment(apptID)
	assert.Equal(t, StatusCancelled, appt.Status)
	assert.False(t, appt.RefundRequested)
	assert.Empty(t, appt.RefundStatus)
	require.NotNil(t, appt.CancelledAt)
	assert.True(t, appt.RebookingBanned())

	assert.Equal(t, []string{EventAppointmentRequested, EventAppointmentCancelled}, eventTypes(repo))
}

func TestCancelIsIdempotent(t *testing.T) {
	repo, svc, _, apptID := bookedFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.CancelAppointment(ctx, patient("p1"), apptID))
	events := len(repo.Events())
	require.NoError(t, svc.CancelAppointment(ctx, patient("p1"), apptID))
	assert.Len(t, repo.Events(), events)

	appt, _ := repo.Appointment(apptID)
	appt.Status = StatusCompleted
	repo.PutAppointment(appt)
	require.NoError(t, svc.CancelAppointment(ctx, patient("p1"), apptID))
	appt, _ = repo.Appointment(apptID)
	assert.Equal(t, StatusCompleted, appt.Status)
}

func TestCancelErrors(t *testing.T) {
	_, svc, _, apptID := bookedFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.CancelAppointment(ctx, auth.Identity{}, apptID), ErrUnauthenticated)
	assert.ErrorIs(t, svc.CancelAppointment(ctx, patient("p1"), "nope"), ErrAppointmentNotFound)

	err := svc.CancelAppointment(ctx, patient("p2"), apptID)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, KindPermissionDenied, KindOf(err))
}

func TestCancelAfterPaymentKeepsSlotBooked(t *testing.T) {
	repo, svc, slot, apptID := bookedFixture(t)
	ctx := context.Background()

	res, err := svc.ReconcilePayment(ctx, approvedEvent(apptID, "p1"))
	require.NoError(t, err)
	require.True(t, res.SlotBooked)

	require.NoError(t, svc.CancelAppointment(ctx, patient("p1"), apptID))

	s, _ := repo.Slot(slot.ID)
	assert.Equal(t, SlotBooked, s.Status)
	assert.True(t, s.HeldBy("p1"))

	appt, _ := repo.Appointment(apptID)
	assert.Equal(t, StatusCancelled, appt.Status)
	assert.True(t, appt.RefundRequested)
	assert.Equal(t, RefundPending, appt.RefundStatus)
	assert.Equal(t, 1, countEvents(repo, EventRefundRequested))
}

func TestCancelDetectsPaymentRecord(t *testing.T) {
	repo, svc, slot, apptID := bookedFixture(t)
	ctx := context.Background()

	_, _, err := svc.RecordPayment(ctx, PaymentEvent{
		AppointmentIDHint: apptID,
		PatientID:         "p1",
		Provider:          "paypal",
		Status:            "approved",
		Amount:            25000,
		OrderID:           "ORDER-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.CancelAppointment(ctx, patient("p1"), apptID))

	appt, _ := repo.Appointment(apptID)
	assert.True(t, appt.RefundRequested)
	assert.Equal(t, RefundPending, appt.RefundStatus)

	// Payment was never reconciled, so the slot was still only requested.
	s, _ := repo.Slot(slot.ID)
	assert.Equal(t, SlotOpen, s.Status)
}

func TestCancelLeavesSlotHeldByOthers(t *testing.T) {
	repo, svc, slot, apptID := bookedFixture(t)

	s, _ := repo.Slot(slot.ID)
	s.PatientID = strPtr("p9")
	repo.PutSlot(s)

	require.NoError(t, svc.CancelAppointment(context.Background(), patient("p1"), apptID))

	s, _ = repo.Slot(slot.ID)
	assert.Equal(t, SlotRequested, s.Status)
	assert.True(t, s.HeldBy("p9"))
}

func TestCancelWithMissingSlot(t *testing.T) {
	repo := NewMemoryRepository()
	repo.PutAppointment(Appointment{ID: "orphan_p1", SlotID: "gone", PatientID: "p1", Status: StatusRequested})
	svc := newTestService(t, repo)

	require.NoError(t, svc.CancelAppointment(context.Background(), patient("p1"), "orphan_p1"))
	appt, _ := repo.Appointment("orphan_p1")
	assert.Equal(t, StatusCancelled, appt.Status)
}
