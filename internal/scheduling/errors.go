package scheduling

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable class of a caller-facing failure.
type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindPermissionDenied   Kind = "permission-denied"
	KindInvalidArgument    Kind = "invalid-argument"
	KindNotFound           Kind = "not-found"
	KindFailedPrecondition Kind = "failed-precondition"
	KindAlreadyExists      Kind = "already-exists"
	KindInternal           Kind = "internal"
)

// Error carries a kind, a stable reason code and a human-readable message.
// Two Errors match under errors.Is when kind and reason agree.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == e.Reason
}

func newError(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func invalidArgument(reason, format string, args ...any) *Error {
	return newError(KindInvalidArgument, reason, format, args...)
}

var (
	ErrUnauthenticated = newError(KindUnauthenticated, "unauthenticated", "authentication required")
	ErrNotOwner        = newError(KindPermissionDenied, "not-owner", "appointment does not belong to caller")
	ErrNotAllowed      = newError(KindPermissionDenied, "not-allowed", "caller is not allowed to perform this operation")

	ErrSlotNotFound        = newError(KindNotFound, "slot-not-found", "slot not found")
	ErrAppointmentNotFound = newError(KindNotFound, "appointment-not-found", "appointment not found")
	ErrDoctorNotFound      = newError(KindNotFound, "doctor-not-found", "doctor not found")
	ErrPatientNotFound     = newError(KindNotFound, "patient-not-found", "patient not found")

	ErrUnknownDoctor = newError(KindInvalidArgument, "unknown-doctor", "unknown doctor id")

	ErrSlotNotOpen             = newError(KindFailedPrecondition, "slot-not-open", "slot is not open")
	ErrLeadTimeTooShort        = newError(KindFailedPrecondition, "lead-time-too-short", "slot starts too soon to be booked")
	ErrRebookNotAllowed        = newError(KindFailedPrecondition, "rebook-not-allowed", "a cancelled appointment for this slot cannot be rebooked")
	ErrDoctorProfileInvalid    = newError(KindFailedPrecondition, "doctor-profile-invalid", "doctor profile is not usable for scheduling")
	ErrAppointmentNotCancelled = newError(KindFailedPrecondition, "appointment-not-cancelled", "appointment is not cancelled")

	ErrAppointmentExists = newError(KindAlreadyExists, "appointment-exists", "an appointment for this slot already exists")

	ErrRetriesExhausted = newError(KindInternal, "tx-retries-exhausted", "transaction kept conflicting, please retry")
)

// KindOf returns the kind of err, or KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the reason code of err, or "internal".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "internal"
}
