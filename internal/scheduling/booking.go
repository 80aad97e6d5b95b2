package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
)

// BookSlot claims an open slot for the caller and returns the appointment id.
// Concurrent callers for the same slot are linearized by the transaction: the
// first committer wins and everyone else sees ErrSlotNotOpen on retry.
func (s *Service) BookSlot(ctx context.Context, caller auth.Identity, slotID string) (string, error) {
	if caller.UserID == "" {
		return "", ErrUnauthenticated
	}
	slotID = strings.TrimSpace(slotID)
	if slotID == "" {
		return "", invalidArgument("missing-slot-id", "slotId is required")
	}

	patientID := caller.UserID
	name := s.patientName(ctx, patientID)

	var appointmentID string
	err := s.runTx(ctx, "book_slot", func(ctx context.Context, tx Tx) error {
		now := s.now()

		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.StartTime.Sub(now) < s.cfg.BookingLeadTime {
			return ErrLeadTimeTooShort
		}
		if slot.Status != SlotOpen {
			return ErrSlotNotOpen
		}

		id := AppointmentID(slot.ID, patientID)
		prev, err := tx.GetAppointment(ctx, id)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		if prev != nil {
			if prev.Status != StatusCancelled {
				return ErrAppointmentExists
			}
			if prev.RebookingBanned() {
				return ErrRebookNotAllowed
			}
		}

		slot.Status = SlotRequested
		slot.PatientID = strPtr(patientID)
		slot.UpdatedAt = now
		if err := tx.SaveSlot(ctx, slot); err != nil {
			return err
		}

		appt := &Appointment{
			ID:          id,
			SlotID:      slot.ID,
			PatientID:   patientID,
			DoctorID:    slot.DoctorID,
			DoctorName:  slot.DoctorName,
			Specialty:   slot.Specialty,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			Status:      StatusRequested,
			PatientName: name,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.SaveAppointment(ctx, appt); err != nil {
			return err
		}

		payload := map[string]any{
			"slot_id":    slot.ID,
			"patient_id": patientID,
			"start_time": slot.StartTime,
			"rebooked":   prev != nil,
		}
		appointmentID = id
		return tx.InsertEvent(ctx, newEvent(EventAppointmentRequested, id, payload, s.logger, now))
	})

	s.metrics.ObserveBooking(outcomeOf(err))
	if err != nil {
		return "", err
	}

	s.logger.Info("slot booked", "slot_id", slotID, "appointment_id", appointmentID, "patient_id", patientID)
	return appointmentID, nil
}
