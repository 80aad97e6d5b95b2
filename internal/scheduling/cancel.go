package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
)

// CancelAppointment cancels the caller's appointment and releases its slot
// unless payment already promoted it to booked. Cancelling a terminal
// appointment is a successful no-op.
func (s *Service) CancelAppointment(ctx context.Context, caller auth.Identity, appointmentID string) error {
	if caller.UserID == "" {
		return ErrUnauthenticated
	}
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return invalidArgument("missing-appointment-id", "appointmentId is required")
	}

	outcome := "cancelled"
	err := s.runTx(ctx, "cancel_appointment", func(ctx context.Context, tx Tx) error {
		now := s.now()

		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.PatientID != caller.UserID {
			return ErrNotOwner
		}
		if appt.Status.Terminal() {
			outcome = "noop"
			return nil
		}

		slot, err := tx.GetSlot(ctx, appt.SlotID)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return err
		}

		wasPaid := appt.Status == StatusConfirmed || appt.HasPaymentLink()
		if !wasPaid {
			wasPaid, err = tx.HasApprovedPayment(ctx, appt.ID, appt.PatientID)
			if err != nil {
				return err
			}
		}

		released := false
		if slot != nil && slot.HeldBy(caller.UserID) && slot.Status != SlotBooked {
			slot.Status = SlotOpen
			slot.PatientID = nil
			slot.UpdatedAt = now
			if err := tx.SaveSlot(ctx, slot); err != nil {
				return err
			}
			released = true
		}

		prevStatus := appt.Status
		appt.Status = StatusCancelled
		appt.CancelledAt = timePtr(now)
		appt.UpdatedAt = now
		appt.RebookBlocked = boolPtr(true)
		if wasPaid {
			appt.RefundRequested = true
			appt.RefundStatus = RefundPending
			outcome = "refund-requested"
		} else {
			outcome = "cancelled"
		}
		if err := tx.SaveAppointment(ctx, appt); err != nil {
			return err
		}

		payload := map[string]any{
			"slot_id":         appt.SlotID,
			"previous_status": prevStatus,
			"slot_released":   released,
			"was_paid":        wasPaid,
		}
		if err := tx.InsertEvent(ctx, newEvent(EventAppointmentCancelled, appt.ID, payload, s.logger, now)); err != nil {
			return err
		}
		if wasPaid {
			return tx.InsertEvent(ctx, newEvent(EventRefundRequested, appt.ID, map[string]any{
				"refund_status": RefundPending,
				"payment_id":    appt.PaymentID,
			}, s.logger, now))
		}
		return nil
	})

	if err != nil {
		s.metrics.ObserveCancellation(outcomeOf(err))
		return err
	}
	s.metrics.ObserveCancellation(outcome)
	s.logger.Info("appointment cancel handled", "appointment_id", appointmentID, "outcome", outcome)
	return nil
}
