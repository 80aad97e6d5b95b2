package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotOpen      SlotStatus = "open"
	SlotRequested SlotStatus = "requested"
	// SlotReserved is written by older staff tooling; the reconciler treats it like requested.
	SlotReserved SlotStatus = "reserved"
	SlotBooked   SlotStatus = "booked"
	SlotBlocked  SlotStatus = "blocked"
)

type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Terminal reports whether no further patient action can change the appointment.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "approved"
	PaymentFailed   PaymentStatus = "failed"
)

const RefundPending = "pending"

// TimeBlock is a wall-clock interval, HH:MM 24h, local to the template timezone.
type TimeBlock struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklyTemplate maps ISO weekday (1 = Monday ... 7 = Sunday) to open blocks.
type WeeklyTemplate map[int][]TimeBlock

type AvailabilityTemplate struct {
	DoctorID    string         `json:"doctorId"`
	Timezone    string         `json:"timezone"`
	SlotMinutes int            `json:"defaultSlotMinutes"`
	Weekly      WeeklyTemplate `json:"weeklyTemplate"`
}

type Doctor struct {
	ID                 string
	FullName           string
	Specialty          string
	Timezone           string
	DefaultSlotMinutes int
	WeeklyTemplate     WeeklyTemplate
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Availability returns the doctor's template, falling back to the clinic
// default for doctors that never stored one.
func (d *Doctor) Availability() AvailabilityTemplate {
	def := DefaultAvailability(d.ID)
	tmpl := AvailabilityTemplate{
		DoctorID:    d.ID,
		Timezone:    d.Timezone,
		SlotMinutes: d.DefaultSlotMinutes,
		Weekly:      d.WeeklyTemplate,
	}
	if tmpl.Timezone == "" {
		tmpl.Timezone = def.Timezone
	}
	if tmpl.SlotMinutes == 0 {
		tmpl.SlotMinutes = def.SlotMinutes
	}
	if len(tmpl.Weekly) == 0 {
		tmpl.Weekly = def.Weekly
	}
	return tmpl
}

type Patient struct {
	ID          string
	DisplayName string
	Email       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Slot struct {
	ID         string
	DoctorID   string
	DoctorName string
	Specialty  string
	StartTime  time.Time
	EndTime    time.Time
	Status     SlotStatus
	PatientID  *string
	UpdatedAt  time.Time
}

// HeldBy reports whether the slot currently designates patientID as holder.
func (s *Slot) HeldBy(patientID string) bool {
	return s.PatientID != nil && *s.PatientID == patientID
}

type Appointment struct {
	ID         string
	SlotID     string
	PatientID  string
	DoctorID   string
	DoctorName string
	Specialty  string
	StartTime  time.Time
	EndTime    time.Time
	Status     AppointmentStatus

	PatientName string

	Paid          bool
	PaymentStatus string
	PaymentID     string
	PaidBy        string

	RefundRequested bool
	RefundStatus    string

	// RebookBlocked nil means the ban was never cleared and counts as banned.
	RebookBlocked *bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	ConfirmedAt *time.Time
}

// HasPaymentLink reports whether any payment linkage field is set.
func (a *Appointment) HasPaymentLink() bool {
	return a.Paid || a.PaymentID != "" || a.PaidBy != ""
}

func (a *Appointment) RebookingBanned() bool {
	return a.RebookBlocked == nil || *a.RebookBlocked
}

// PaymentRecord is written by payment ingestion and only read by the core.
type PaymentRecord struct {
	ID             uuid.UUID
	PatientID      string
	AppointmentRef string
	Provider       string
	OrderID        string
	Amount         int64
	Status         PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *string
	Payload       []byte
	CreatedAt     time.Time
}

// SlotQuery filters open slot listings.
type SlotQuery struct {
	DoctorID  string
	Specialty string
	From      time.Time
	To        time.Time
	Limit     int
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
