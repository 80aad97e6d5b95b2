package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
)

const (
	defaultSlotListLimit = 100
	maxSlotListLimit     = 500
)

func (s *Service) GetAvailability(ctx context.Context, caller auth.Identity, doctorID string) (AvailabilityTemplate, error) {
	if caller.UserID == "" {
		return AvailabilityTemplate{}, ErrUnauthenticated
	}
	doctor, err := s.repo.GetDoctor(ctx, strings.TrimSpace(doctorID))
	if err != nil {
		return AvailabilityTemplate{}, err
	}
	return doctor.Availability(), nil
}

// PutAvailability replaces the doctor's weekly template.
func (s *Service) PutAvailability(ctx context.Context, caller auth.Identity, tmpl AvailabilityTemplate) error {
	if caller.UserID == "" {
		return ErrUnauthenticated
	}
	tmpl.DoctorID = strings.TrimSpace(tmpl.DoctorID)
	if tmpl.DoctorID == "" {
		return invalidArgument("missing-doctor-id", "doctorId is required")
	}
	if !caller.IsAdmin() && !(caller.Role == auth.RoleDoctor && caller.UserID == tmpl.DoctorID) {
		return ErrNotAllowed
	}
	if err := ValidateTemplate(tmpl); err != nil {
		return err
	}
	if err := s.repo.SaveAvailability(ctx, tmpl); err != nil {
		return fmt.Errorf("save availability: %w", err)
	}
	s.logger.Info("availability updated", "doctor_id", tmpl.DoctorID, "timezone", tmpl.Timezone, "slot_minutes", tmpl.SlotMinutes)
	return nil
}

// ListOpenSlots returns future open slots ordered by start.
func (s *Service) ListOpenSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	now := s.now()
	if q.From.IsZero() || q.From.Before(now) {
		q.From = now
	}
	if !q.To.IsZero() && q.To.Before(q.From) {
		return nil, invalidArgument("invalid-date-range", "to is before from")
	}
	if q.Limit <= 0 {
		q.Limit = defaultSlotListLimit
	}
	if q.Limit > maxSlotListLimit {
		q.Limit = maxSlotListLimit
	}
	slots, err := s.repo.ListOpenSlots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

func (s *Service) ListMyAppointments(ctx context.Context, caller auth.Identity, limit, offset int) ([]Appointment, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	appts, err := s.repo.ListAppointmentsByPatient(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

func (s *Service) ListSpecialties(ctx context.Context, caller auth.Identity) ([]string, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	specialties, err := s.repo.ListSpecialties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	return specialties, nil
}

// ListDoctors returns active doctors sorted by name, optionally narrowed to
// one specialty.
func (s *Service) ListDoctors(ctx context.Context, caller auth.Identity, specialty string) ([]Doctor, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	doctors, err := s.repo.ListDoctors(ctx, strings.TrimSpace(specialty))
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// ListMyApprovedPayments returns the caller's approved payment records, newest first.
func (s *Service) ListMyApprovedPayments(ctx context.Context, caller auth.Identity) ([]PaymentRecord, error) {
	if caller.UserID == "" {
		return nil, ErrUnauthenticated
	}
	payments, err := s.repo.ListApprovedPayments(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list approved payments: %w", err)
	}
	return payments, nil
}

// AllowRebooking lifts the rebooking ban on a cancelled appointment so the
// patient may book the same slot again.
func (s *Service) AllowRebooking(ctx context.Context, caller auth.Identity, appointmentID string) error {
	if caller.UserID == "" {
		return ErrUnauthenticated
	}
	if !caller.IsStaff() {
		return ErrNotAllowed
	}
	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return invalidArgument("missing-appointment-id", "appointmentId is required")
	}

	return s.runTx(ctx, "allow_rebooking", func(ctx context.Context, tx Tx) error {
		now := s.now()
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status != StatusCancelled {
			return ErrAppointmentNotCancelled
		}
		if !appt.RebookingBanned() {
			return nil
		}
		appt.RebookBlocked = boolPtr(false)
		appt.UpdatedAt = now
		if err := tx.SaveAppointment(ctx, appt); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, newEvent(EventRebookAllowed, appt.ID, map[string]any{
			"allowed_by": caller.UserID,
			"role":       caller.Role,
		}, s.logger, now))
	})
}
