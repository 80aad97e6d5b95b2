package scheduling

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventRefundRequested      = "REFUND_REQUESTED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventSlotBooked           = "SLOT_BOOKED"
	EventRebookAllowed        = "REBOOK_ALLOWED"
	EventPaymentUnresolved    = "PAYMENT_UNRESOLVED"
)

const tracerName = "github.com/hackgods/clinic-slot-scheduling/internal/scheduling"

type Service struct {
	repo      Repository
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.SchedulingMetrics
	tracer    trace.Tracer
	now       func() time.Time
	providers map[string]struct{}
}

type Option func(*Service)

// WithClock overrides the wall clock used for lead time and past-slot checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, cfg config.Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TxMaxAttempts < 1 {
		cfg.TxMaxAttempts = 1
	}
	if cfg.SlotBatchSize < 1 || cfg.SlotBatchSize > config.MaxSlotBatchSize {
		cfg.SlotBatchSize = config.MaxSlotBatchSize
	}
	s := &Service{
		repo:      repo,
		cfg:       cfg,
		logger:    logger.With("component", "scheduling"),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		providers: make(map[string]struct{}, len(cfg.PaymentProviders)),
	}
	for _, p := range cfg.PaymentProviders {
		s.providers[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newEvent(eventType, appointmentID string, payload map[string]any, logger *slog.Logger, at time.Time) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}
	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: at,
	}
	if appointmentID != "" {
		ev.AppointmentID = strPtr(appointmentID)
	}
	return ev
}

// logEvent appends an event outside of any transaction. Failures are logged only.
func (s *Service) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	ev := newEvent(eventType, appointmentID, payload, s.logger, s.now())
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("insert event log", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}

// patientName resolves a display name. A missing profile yields "".
func (s *Service) patientName(ctx context.Context, patientID string) string {
	if patientID == "" {
		return ""
	}
	p, err := s.repo.GetPatient(ctx, patientID)
	if err != nil {
		s.logger.Debug("patient name unresolved", "patient_id", patientID, "error", err)
		return ""
	}
	return p.DisplayName
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return ReasonOf(err)
}
