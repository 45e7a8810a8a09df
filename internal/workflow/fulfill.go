package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/notify"
	"github.com/onlab/orderdesk/internal/objectstore"
)

// FulfillRequest carries what an administrator supplies for a paid order.
type FulfillRequest struct {
	// AIScore and PlagScore accept "12%", "12" or "4.5 %".
	AIScore   string
	PlagScore string
	// Reports are uploaded under the order's account.
	Reports []objectstore.File
	// ReportPaths reference reports already stored for the order's account.
	ReportPaths []string
}

// FulfillOrder stores the result of a Paid order and marks it Fulfilled.
//
// It fails with domain.ErrInvalidState unless the order is Paid,
// domain.ErrDuplicateResult if a result already exists, and
// domain.ErrConflict if another fulfillment won the race. The first stored
// result is never overwritten.
func (e *Engine) FulfillOrder(ctx context.Context, orderID string, req FulfillRequest) (*domain.Result, error) {
	result, err := e.fulfill(ctx, orderID, req)
	e.metrics.RecordFulfillment(outcomeOf(err))
	return result, err
}

func (e *Engine) fulfill(ctx context.Context, orderID string, req FulfillRequest) (*domain.Result, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.State {
	case domain.StatePaid:
	case domain.StateFulfilled:
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrDuplicateResult)
	default:
		return nil, fmt.Errorf("%w: order %s is %s, want %s", domain.ErrInvalidState, orderID, order.State, domain.StatePaid)
	}

	result, err := buildResult(order, req)
	if err != nil {
		return nil, err
	}

	uploaded := make([]string, 0, len(req.Reports))
	for _, f := range req.Reports {
		p, err := e.reports.Upload(ctx, order.AccountID, f)
		if err != nil {
			e.discardReports(ctx, uploaded)
			return nil, fmt.Errorf("%w: report %s: %v", domain.ErrUploadFailed, f.Name, err)
		}
		uploaded = append(uploaded, p)
	}
	result.ReportPaths = append(result.ReportPaths, uploaded...)

	if err := e.orders.Fulfill(ctx, result); err != nil {
		e.discardReports(ctx, uploaded)
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("store result: %w", err)
	}

	e.logger.WithContext(ctx).
		WithField("order_id", order.ID).
		WithField("reports", len(result.ReportPaths)).
		Info("Order fulfilled")
	e.notifier.Emit(ctx, notify.EventOrderCompleted, order.AccountID, order.ID, "Order completed: "+order.Name)
	return result, nil
}

func buildResult(order *domain.Order, req FulfillRequest) (*domain.Result, error) {
	result := &domain.Result{OrderID: order.ID}

	if order.Kind.RequiresScores() {
		ai, err := domain.ParsePercent(req.AIScore)
		if err != nil {
			return nil, fmt.Errorf("ai score: %w", err)
		}
		plag, err := domain.ParsePercent(req.PlagScore)
		if err != nil {
			return nil, fmt.Errorf("plagiarism score: %w", err)
		}
		result.AIScore = &ai
		result.PlagScore = &plag
	} else {
		var err error
		if result.AIScore, err = optionalPercent(req.AIScore); err != nil {
			return nil, fmt.Errorf("ai score: %w", err)
		}
		if result.PlagScore, err = optionalPercent(req.PlagScore); err != nil {
			return nil, fmt.Errorf("plagiarism score: %w", err)
		}
	}

	for _, p := range req.ReportPaths {
		if !objectstore.OwnedBy(p, order.AccountID) {
			return nil, fmt.Errorf("%w: report %q does not belong to the order's account", domain.ErrInvalidInput, p)
		}
		result.ReportPaths = append(result.ReportPaths, p)
	}
	for _, f := range req.Reports {
		if f.Body == nil {
			return nil, fmt.Errorf("%w: report %q is empty", domain.ErrInvalidInput, f.Name)
		}
	}

	reports := len(req.ReportPaths) + len(req.Reports)
	required := 1
	if order.Kind.RequiresScores() {
		required = 2
	}
	if reports < required {
		return nil, fmt.Errorf("%w: %s needs %d report files, got %d", domain.ErrInvalidInput, order.Kind, required, reports)
	}
	return result, nil
}

func optionalPercent(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := domain.ParsePercent(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Engine) discardReports(ctx context.Context, paths []string) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range paths {
		if err := e.reports.Delete(ctx, p); err != nil {
			e.logger.WithContext(ctx).WithField("path", p).WithError(err).Warn("Failed to delete unused report")
		}
	}
}
