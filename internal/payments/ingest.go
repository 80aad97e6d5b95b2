package payments

import (
	"context"
	"log/slog"

	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

// Reconciler is the scheduling surface payment ingestion depends on.
type Reconciler interface {
	RecordPayment(ctx context.Context, ev scheduling.PaymentEvent) (scheduling.PaymentRecord, bool, error)
	ReconcilePayment(ctx context.Context, ev scheduling.PaymentEvent) (scheduling.ReconcileResult, error)
}

// Ingestor stores the payment record for an event and then runs the
// reconciler. Both first sight and later status changes reconcile.
type Ingestor struct {
	svc    Reconciler
	logger *slog.Logger
}

func NewIngestor(svc Reconciler, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{svc: svc, logger: logger.With("component", "payments")}
}

func (i *Ingestor) Ingest(ctx context.Context, ev scheduling.PaymentEvent) (scheduling.ReconcileResult, error) {
	rec, created, err := i.svc.RecordPayment(ctx, ev)
	if err != nil {
		return scheduling.ReconcileResult{}, err
	}
	i.logger.Info("payment record saved",
		"payment_id", rec.ID,
		"provider", rec.Provider,
		"order_id", rec.OrderID,
		"status", rec.Status,
		"created", created,
	)

	if ev.OrderID == "" {
		ev.OrderID = rec.OrderID
	}
	return i.svc.ReconcilePayment(ctx, ev)
}
