package scheduling

import (
	"context"
	"errors"
)

// ErrTxConflict signals that a transaction lost a race with a concurrent
// writer and may be retried from scratch.
var ErrTxConflict = errors.New("transaction conflict")

// TxFunc runs inside one serializable transaction. It must perform all of its
// reads before its writes and may be invoked several times.
type TxFunc func(ctx context.Context, tx Tx) error

// Repository contains all storage interactions needed by the service.
type Repository interface {
	InTx(ctx context.Context, fn TxFunc) error

	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	SaveAvailability(ctx context.Context, tmpl AvailabilityTemplate) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	// ListSpecialties returns the distinct specialties of active doctors, sorted.
	ListSpecialties(ctx context.Context) ([]string, error)
	// ListDoctors returns active doctors ordered by name. An empty specialty
	// matches every doctor.
	ListDoctors(ctx context.Context, specialty string) ([]Doctor, error)

	// UpsertSlots writes one batch atomically. Existing slots only get their
	// denormalized doctor fields refreshed. Returns how many were new.
	UpsertSlots(ctx context.Context, slots []Slot) (int, error)
	ListOpenSlots(ctx context.Context, q SlotQuery) ([]Slot, error)
	ListAppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error)

	// UpsertPaymentRecord is keyed by provider and order id. created is true
	// for the first write of a given order.
	UpsertPaymentRecord(ctx context.Context, rec PaymentRecord) (saved PaymentRecord, created bool, err error)
	ListApprovedPayments(ctx context.Context, patientID string) ([]PaymentRecord, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Tx is the transactional view used by booking, cancellation and payment reconciliation.
type Tx interface {
	GetSlot(ctx context.Context, id string) (*Slot, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// FindAppointmentBySlotAndPatient returns the earliest created match.
	FindAppointmentBySlotAndPatient(ctx context.Context, slotID, patientID string) (*Appointment, error)
	HasApprovedPayment(ctx context.Context, appointmentID, patientID string) (bool, error)

	SaveSlot(ctx context.Context, s *Slot) error
	SaveAppointment(ctx context.Context, a *Appointment) error
	InsertEvent(ctx context.Context, ev EventLog) error
}
