package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/notify"
)

const sweepBatch = 100

// SweepStale fails Created orders older than olderThan and refunds any
// debit they hold. It returns the number of orders failed.
func (e *Engine) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: stale threshold must be positive", domain.ErrInvalidInput)
	}
	before := e.now().Add(-olderThan)
	log := e.logger.WithContext(ctx)

	swept := 0
	for {
		stale, err := e.orders.ListStale(ctx, before, sweepBatch)
		if err != nil {
			e.metrics.RecordSwept(swept)
			return swept, fmt.Errorf("list stale orders: %w", err)
		}

		progressed := false
		for i := range stale {
			order := &stale[i]
			if err := e.orders.MarkFailed(ctx, order.ID, ReasonAbandoned); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					// A late submission finished first.
					continue
				}
				e.metrics.RecordSwept(swept)
				return swept, fmt.Errorf("fail stale order %s: %w", order.ID, err)
			}
			progressed = true
			swept++
			order.State = domain.StateFailed
			order.FailureReason = ReasonAbandoned

			refunded, err := e.refund(ctx, order)
			if err != nil {
				log.WithField("order_id", order.ID).WithError(err).Error("Refund of abandoned order failed")
			}
			log.WithField("order_id", order.ID).WithField("refunded", refunded).Info("Abandoned order failed")

			msg := "Order cancelled: " + order.Name
			if refunded {
				msg = "Order cancelled and refunded: " + order.Name
			}
			e.notifier.Emit(ctx, notify.EventOrderFailed, order.AccountID, order.ID, msg)
		}

		if len(stale) < sweepBatch || !progressed {
			break
		}
	}

	e.metrics.RecordSwept(swept)
	return swept, nil
}
