package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

const ProviderStripe = "stripe"

var ErrInvalidSignature = errors.New("invalid stripe signature")

// ParseStripeEvent verifies a webhook delivery and maps checkout sessions to
// payment events. ok is false for event types that carry no payment outcome.
func ParseStripeEvent(payload []byte, sigHeader, secret string) (ev scheduling.PaymentEvent, ok bool, err error) {
	evt, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return scheduling.PaymentEvent{}, false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var status scheduling.PaymentStatus
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status = scheduling.PaymentApproved
	case "checkout.session.async_payment_failed":
		status = scheduling.PaymentFailed
	default:
		return scheduling.PaymentEvent{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return scheduling.PaymentEvent{}, false, fmt.Errorf("decode checkout session: %w", err)
	}
	// A completed session with a delayed method settles later via async_payment_*.
	if status == scheduling.PaymentApproved && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return scheduling.PaymentEvent{}, false, nil
	}

	return scheduling.PaymentEvent{
		AppointmentIDHint: strings.TrimSpace(session.Metadata["appointment_id"]),
		PatientID:         strings.TrimSpace(session.Metadata["patient_id"]),
		Provider:          ProviderStripe,
		Status:            string(status),
		Amount:            session.AmountTotal,
		OrderID:           session.ID,
	}, true, nil
}
