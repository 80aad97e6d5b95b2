package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-slot-scheduling/internal/auth"
	"github.com/hackgods/clinic-slot-scheduling/internal/payments"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service             *scheduling.Service
	Ingestor            *payments.Ingestor
	Verifier            *auth.Verifier
	Limiter             redisclient.Limiter // nil disables throttling
	Postgres            Pinger
	Redis               *redis.Client
	Metrics             http.Handler
	Logger              *slog.Logger
	StripeWebhookSecret string
	Env                 string
	Version             string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// Signed by Stripe, not by our identity provider.
	r.Post("/payments/webhooks/stripe", stripeWebhookHandler(cfg.Ingestor, cfg.StripeWebhookSecret, logger))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Verifier))

		r.Get("/slots", listSlotsHandler(cfg.Service, logger))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service, logger))
		r.Get("/specialties", listSpecialtiesHandler(cfg.Service, logger))
		r.Get("/doctors", listDoctorsHandler(cfg.Service, logger))
		r.Get("/doctors/{id}/availability", getAvailabilityHandler(cfg.Service, logger))
		r.Get("/payments", listPaymentsHandler(cfg.Service, logger))

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, logger))

			r.Post("/slots/generate", generateSlotsHandler(cfg.Service, logger))
			r.Post("/slots/{id}/book", bookSlotHandler(cfg.Service, logger))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, logger))
			r.Post("/appointments/{id}/allow-rebooking", allowRebookingHandler(cfg.Service, logger))
			r.Put("/doctors/{id}/availability", putAvailabilityHandler(cfg.Service, logger))
			r.Post("/payments/events", paymentEventHandler(cfg.Ingestor, logger))
		})
	})

	return r
}
