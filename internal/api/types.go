package api

import (
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

type GenerateSlotsRequest struct {
	DoctorID    string `json:"doctorId,omitempty"`
	FromDate    string `json:"fromDate"`
	ToDate      string `json:"toDate"`
	SlotMinutes int    `json:"slotMinutes,omitempty"`
}

type GenerateSlotsResponse struct {
	Created int `json:"created"`
}

type BookSlotResponse struct {
	AppointmentID string `json:"appointmentId"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type AvailabilityRequest struct {
	Timezone    string                    `json:"timezone"`
	SlotMinutes int                       `json:"defaultSlotMinutes"`
	Weekly      scheduling.WeeklyTemplate `json:"weeklyTemplate"`
}

type PaymentEventRequest struct {
	AppointmentIDHint string `json:"appointmentIdHint"`
	PatientID         string `json:"patientId"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	OrderID           string `json:"orderId"`
}

type SlotResponse struct {
	ID         string    `json:"id"`
	DoctorID   string    `json:"doctorId"`
	DoctorName string    `json:"doctorName,omitempty"`
	Specialty  string    `json:"specialty,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Status     string    `json:"status"`
}

type AppointmentResponse struct {
	ID              string     `json:"id"`
	SlotID          string     `json:"slotId"`
	DoctorID        string     `json:"doctorId"`
	DoctorName      string     `json:"doctorName,omitempty"`
	Specialty       string     `json:"specialty,omitempty"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	Status          string     `json:"status"`
	PatientName     string     `json:"patientName,omitempty"`
	Paid            bool       `json:"paid"`
	PaymentStatus   string     `json:"paymentStatus,omitempty"`
	RefundRequested bool       `json:"refundRequested"`
	RefundStatus    string     `json:"refundStatus,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
}

type DoctorResponse struct {
	ID                 string `json:"id"`
	FullName           string `json:"fullName"`
	Specialty          string `json:"specialty,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
	DefaultSlotMinutes int    `json:"defaultSlotMinutes,omitempty"`
}

type PaymentResponse struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointmentId"`
	Provider      string    `json:"provider"`
	OrderID       string    `json:"orderId"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:         s.ID,
		DoctorID:   s.DoctorID,
		DoctorName: s.DoctorName,
		Specialty:  s.Specialty,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Status:     string(s.Status),
	}
}

func toAppointmentResponse(a scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		SlotID:          a.SlotID,
		DoctorID:        a.DoctorID,
		DoctorName:      a.DoctorName,
		Specialty:       a.Specialty,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          string(a.Status),
		PatientName:     a.PatientName,
		Paid:            a.Paid,
		PaymentStatus:   a.PaymentStatus,
		RefundRequested: a.RefundRequested,
		RefundStatus:    a.RefundStatus,
		CreatedAt:       a.CreatedAt,
		CancelledAt:     a.CancelledAt,
	}
}

func toDoctorResponse(d scheduling.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:                 d.ID,
		FullName:           d.FullName,
		Specialty:          d.Specialty,
		Timezone:           d.Timezone,
		DefaultSlotMinutes: d.DefaultSlotMinutes,
	}
}

func toPaymentResponse(p scheduling.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID.String(),
		AppointmentID: p.AppointmentRef,
		Provider:      p.Provider,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
	}
}
