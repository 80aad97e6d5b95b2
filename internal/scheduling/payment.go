package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// PaymentEvent is one payment status signal from a provider.
type PaymentEvent struct {
	AppointmentIDHint string `json:"appointmentIdHint"`
	PatientID         string `json:"patientId"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	OrderID           string `json:"orderId"`
}

type ReconcileOutcome string

const (
	OutcomeIgnored    ReconcileOutcome = "ignored"
	OutcomeUnresolved ReconcileOutcome = "unresolved"
	OutcomeConfirmed  ReconcileOutcome = "confirmed"
	// OutcomeCancelled means the payment landed on an already cancelled appointment.
	OutcomeCancelled ReconcileOutcome = "cancelled"
	// OutcomeCompleted means the appointment already took place; only the
	// payment linkage is recorded.
	OutcomeCompleted ReconcileOutcome = "completed"
)

type ReconcileResult struct {
	Outcome       ReconcileOutcome `json:"outcome"`
	AppointmentID string           `json:"appointmentId,omitempty"`
	SlotBooked    bool             `json:"slotBooked"`
}

func (s *Service) AcceptsProvider(provider string) bool {
	_, ok := s.providers[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

// RecordPayment stores the provider's view of a payment keyed by provider and
// order id. It does not touch appointments or slots.
func (s *Service) RecordPayment(ctx context.Context, ev PaymentEvent) (PaymentRecord, bool, error) {
	provider := strings.ToLower(strings.TrimSpace(ev.Provider))
	if provider == "" {
		return PaymentRecord{}, false, invalidArgument("missing-provider", "provider is required")
	}
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(ev.Status)))
	if status != PaymentApproved && status != PaymentFailed {
		return PaymentRecord{}, false, invalidArgument("invalid-payment-status", "status %q is not approved or failed", ev.Status)
	}

	// Without a provider order id the record is keyed by its own generated
	// id, so every such event is a first sight.
	id := uuid.New()
	orderID := strings.TrimSpace(ev.OrderID)
	if orderID == "" {
		orderID = id.String()
	}

	rec, created, err := s.repo.UpsertPaymentRecord(ctx, PaymentRecord{
		ID:             id,
		PatientID:      ev.PatientID,
		AppointmentRef: ev.AppointmentIDHint,
		Provider:       provider,
		OrderID:        orderID,
		Amount:         ev.Amount,
		Status:         status,
	})
	if err != nil {
		return PaymentRecord{}, false, err
	}
	return rec, created, nil
}

// ReconcilePayment applies an approved payment to the referenced appointment
// and its slot. Failed or foreign events are ignored. Events that cannot be
// matched to an appointment are logged and dropped; they are not retried.
// Applying the same event twice leaves the same end state.
func (s *Service) ReconcilePayment(ctx context.Context, ev PaymentEvent) (ReconcileResult, error) {
	log := s.logger.With("appointment_hint", ev.AppointmentIDHint, "patient_id", ev.PatientID, "provider", ev.Provider)

	if !s.AcceptsProvider(ev.Provider) {
		log.Debug("payment event from foreign provider ignored")
		s.metrics.ObservePayment(string(OutcomeIgnored))
		return ReconcileResult{Outcome: OutcomeIgnored}, nil
	}
	if PaymentStatus(strings.ToLower(strings.TrimSpace(ev.Status))) != PaymentApproved {
		log.Debug("non-approved payment event ignored", "status", ev.Status)
		s.metrics.ObservePayment(string(OutcomeIgnored))
		return ReconcileResult{Outcome: OutcomeIgnored}, nil
	}

	hint := strings.TrimSpace(ev.AppointmentIDHint)
	name := s.patientName(ctx, ev.PatientID)

	var res ReconcileResult
	err := s.runTx(ctx, "reconcile_payment", func(ctx context.Context, tx Tx) error {
		res = ReconcileResult{}
		now := s.now()

		appt, err := s.resolveAppointment(ctx, tx, hint, ev.PatientID)
		if err != nil {
			return err
		}
		if appt == nil {
			res.Outcome = OutcomeUnresolved
			return nil
		}
		res.AppointmentID = appt.ID

		slot, err := tx.GetSlot(ctx, appt.SlotID)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return err
		}

		prevStatus := appt.Status
		cancelled := appt.Status == StatusCancelled
		terminal := appt.Status.Terminal()

		appt.Paid = true
		appt.PaymentStatus = string(PaymentApproved)
		if ev.PatientID != "" {
			appt.PaidBy = ev.PatientID
		}
		if ev.OrderID != "" {
			appt.PaymentID = ev.OrderID
		}
		if appt.PatientName == "" && name != "" {
			appt.PatientName = name
		}
		appt.UpdatedAt = now

		raiseRefund := false
		switch {
		case cancelled:
			res.Outcome = OutcomeCancelled
			if !appt.RefundRequested {
				appt.RefundRequested = true
				appt.RefundStatus = RefundPending
				raiseRefund = true
			}
		case terminal:
			res.Outcome = OutcomeCompleted
		default:
			res.Outcome = OutcomeConfirmed
			appt.Status = StatusConfirmed
			if appt.ConfirmedAt == nil {
				appt.ConfirmedAt = timePtr(now)
			}
			appt.RefundRequested = false
			appt.RefundStatus = ""
		}
		if err := tx.SaveAppointment(ctx, appt); err != nil {
			return err
		}

		if !terminal && slot != nil && promotable(slot, ev.PatientID) {
			slot.Status = SlotBooked
			slot.UpdatedAt = now
			if err := tx.SaveSlot(ctx, slot); err != nil {
				return err
			}
			res.SlotBooked = true
			if err := tx.InsertEvent(ctx, newEvent(EventSlotBooked, appt.ID, map[string]any{
				"slot_id": slot.ID,
			}, s.logger, now)); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"provider":   strings.ToLower(ev.Provider),
			"payment_id": ev.OrderID,
			"paid_by":    ev.PatientID,
			"amount":     ev.Amount,
		}
		switch {
		case raiseRefund:
			return tx.InsertEvent(ctx, newEvent(EventRefundRequested, appt.ID, payload, s.logger, now))
		case !terminal && prevStatus != StatusConfirmed:
			return tx.InsertEvent(ctx, newEvent(EventAppointmentConfirmed, appt.ID, payload, s.logger, now))
		}
		return nil
	})
	if err != nil {
		s.metrics.ObservePayment(outcomeOf(err))
		return ReconcileResult{}, err
	}

	s.metrics.ObservePayment(string(res.Outcome))
	if res.Outcome == OutcomeUnresolved {
		log.Warn("payment event matched no appointment, dropping")
		s.logEvent(ctx, "", EventPaymentUnresolved, map[string]any{
			"appointment_hint": ev.AppointmentIDHint,
			"patient_id":       ev.PatientID,
			"provider":         ev.Provider,
			"order_id":         ev.OrderID,
		})
		return res, nil
	}

	log.Info("payment reconciled", "appointment_id", res.AppointmentID, "outcome", res.Outcome, "slot_booked", res.SlotBooked)
	return res, nil
}

// resolveAppointment tries the literal id first, then the slot id derived
// from the hint combined with the payer. Returns nil when neither matches.
func (s *Service) resolveAppointment(ctx context.Context, tx Tx, hint, patientID string) (*Appointment, error) {
	if hint == "" {
		return nil, nil
	}
	appt, err := tx.GetAppointment(ctx, hint)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}
	if patientID == "" {
		return nil, nil
	}

	appt, err = tx.FindAppointmentBySlotAndPatient(ctx, slotIDFromHint(hint, patientID), patientID)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, nil
	}
	return appt, err
}

func promotable(slot *Slot, payerID string) bool {
	if slot.Status != SlotRequested && slot.Status != SlotReserved {
		return false
	}
	return payerID == "" || slot.HeldBy(payerID)
}
