package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
	"github.com/hackgods/clinic-slot-scheduling/internal/payments"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

const maxWebhookBytes = 1 << 20

func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func generateSlotsHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.GenerateSlots(r.Context(), caller(r), scheduling.GenerateRequest{
			DoctorID:    req.DoctorID,
			FromDate:    req.FromDate,
			ToDate:      req.ToDate,
			SlotMinutes: req.SlotMinutes,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, GenerateSlotsResponse{Created: res.Created})
	}
}

func listSlotsHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := scheduling.SlotQuery{
			DoctorID:  q.Get("doctorId"),
			Specialty: q.Get("specialty"),
		}

		var err error
		if query.From, err = parseTimeParam(q.Get("from")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		if query.To, err = parseTimeParam(q.Get("to")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}
		if query.Limit, err = parseIntParam(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}

		slots, err := svc.ListOpenSlots(r.Context(), query)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookSlotHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, err := svc.BookSlot(r.Context(), caller(r), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookSlotResponse{AppointmentID: apptID})
	}
}

func cancelAppointmentHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CancelAppointment(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func allowRebookingHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.AllowRebooking(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func listAppointmentsHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := parseIntParam(q.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		offset, err := parseIntParam(q.Get("offset"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return
		}

		appts, err := svc.ListMyAppointments(r.Context(), caller(r), limit, offset)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for _, a := range appts {
			resp = append(resp, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listSpecialtiesHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		specialties, err := svc.ListSpecialties(r.Context(), caller(r))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if specialties == nil {
			specialties = []string{}
		}
		writeJSON(w, http.StatusOK, specialties)
	}
}

func listDoctorsHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context(), caller(r), r.URL.Query().Get("specialty"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listPaymentsHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.ListMyApprovedPayments(r.Context(), caller(r))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]PaymentResponse, 0, len(records))
		for _, p := range records {
			resp = append(resp, toPaymentResponse(p))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAvailabilityHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := svc.GetAvailability(r.Context(), caller(r), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, tmpl)
	}
}

func putAvailabilityHandler(svc *scheduling.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		tmpl := scheduling.AvailabilityTemplate{
			DoctorID:    chi.URLParam(r, "id"),
			Timezone:    req.Timezone,
			SlotMinutes: req.SlotMinutes,
			Weekly:      req.Weekly,
		}
		if err := svc.PutAvailability(r.Context(), caller(r), tmpl); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

// paymentEventHandler lets staff push a provider notification directly.
// Patients never confirm their own payments.
func paymentEventHandler(ingestor *payments.Ingestor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			writeServiceError(w, r, logger, scheduling.ErrUnauthenticated)
			return
		}
		if !id.IsStaff() {
			writeServiceError(w, r, logger, scheduling.ErrNotAllowed)
			return
		}

		var req PaymentEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := ingestor.Ingest(r.Context(), scheduling.PaymentEvent{
			AppointmentIDHint: req.AppointmentIDHint,
			PatientID:         req.PatientID,
			Provider:          req.Provider,
			Status:            req.Status,
			Amount:            req.Amount,
			OrderID:           req.OrderID,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func stripeWebhookHandler(ingestor *payments.Ingestor, secret string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			writeError(w, http.StatusServiceUnavailable, "webhook_disabled", "stripe webhook secret not configured")
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
			return
		}

		ev, ok, err := payments.ParseStripeEvent(payload, r.Header.Get("Stripe-Signature"), secret)
		if err != nil {
			if errors.Is(err, payments.ErrInvalidSignature) {
				writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, OKResponse{OK: true})
			return
		}

		res, err := ingestor.Ingest(r.Context(), ev)
		if err != nil {
			// Stripe redelivers on 5xx, so only internal failures ask for a retry.
			if scheduling.KindOf(err) == scheduling.KindInternal {
				writeServiceError(w, r, logger, err)
				return
			}
			logger.Warn("stripe event rejected", "order_id", ev.OrderID, "error", err)
			writeJSON(w, http.StatusOK, OKResponse{OK: true})
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
