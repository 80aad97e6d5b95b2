package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// runTx executes fn in a fresh transaction, retrying on ErrTxConflict with
// jittered exponential backoff. Any other error aborts immediately.
func (s *Service) runTx(ctx context.Context, op string, fn TxFunc) error {
	ctx, span := s.tracer.Start(ctx, "scheduling."+op)
	defer span.End()

	started := time.Now()
	attempts := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.repo.InTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ErrTxConflict) {
			s.metrics.ObserveTxConflict(op)
			s.logger.Debug("transaction conflict, retrying", "operation", op, "attempt", attempts)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.cfg.TxMaxAttempts)),
	)

	s.metrics.ObserveTxDuration(op, time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("tx.attempts", attempts))

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTxConflict) {
		s.logger.Warn("transaction retries exhausted", "operation", op, "attempts", attempts)
		err = fmt.Errorf("%s after %d attempts: %w", op, attempts, ErrRetriesExhausted)
	}
	if KindOf(err) == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.cfg.TxBackoffInitial > 0 {
		b.InitialInterval = s.cfg.TxBackoffInitial
	}
	if s.cfg.TxBackoffMax > 0 {
		b.MaxInterval = s.cfg.TxBackoffMax
	}
	return b
}
