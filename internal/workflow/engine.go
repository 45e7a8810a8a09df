// Package workflow orchestrates order submission, payment, fulfillment and
// recovery across the ledger, the order repository and the object store.
//
// Submission runs Created -> upload -> debit -> Paid. Every step is safe to
// repeat: the debit is keyed by the order id, and a submission retried with
// the same idempotency key resumes the order it created instead of starting
// a new one. An order that ends Failed after it was charged is refunded
// through Ledger.Reverse.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/ledger"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/metrics"
	"github.com/onlab/orderdesk/internal/notify"
	"github.com/onlab/orderdesk/internal/objectstore"
	"github.com/onlab/orderdesk/internal/orders"
	"github.com/onlab/orderdesk/internal/pageestimate"
	"github.com/onlab/orderdesk/internal/pricing"
)

// Failure reasons recorded on Failed orders.
const (
	ReasonUploadFailed      = "upload_failed"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonEstimateFailed    = "estimate_failed"
	ReasonPaymentFailed     = "payment_failed"
	ReasonAbandoned         = "abandoned"
)

// Notifier records user-visible events. It never fails the caller.
type Notifier interface {
	Emit(ctx context.Context, eventType notify.EventType, accountID, orderID, message string) *domain.Notification
}

// Config wires the engine's collaborators.
type Config struct {
	Orders    orders.Repository
	Ledger    ledger.Store
	Inputs    objectstore.Gateway
	Reports   objectstore.Gateway
	Pricing   *pricing.Table
	Estimator pageestimate.Estimator
	Notifier  Notifier
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Engine runs the order workflow.
type Engine struct {
	orders    orders.Repository
	ledger    ledger.Store
	inputs    objectstore.Gateway
	reports   objectstore.Gateway
	prices    *pricing.Table
	estimator pageestimate.Estimator
	notifier  Notifier
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New validates cfg and returns an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Orders == nil:
		return nil, errors.New("workflow: order repository is required")
	case cfg.Ledger == nil:
		return nil, errors.New("workflow: ledger is required")
	case cfg.Inputs == nil:
		return nil, errors.New("workflow: input object store is required")
	case cfg.Notifier == nil:
		return nil, errors.New("workflow: notifier is required")
	}

	e := &Engine{
		orders:    cfg.Orders,
		ledger:    cfg.Ledger,
		inputs:    cfg.Inputs,
		reports:   cfg.Reports,
		prices:    cfg.Pricing,
		estimator: cfg.Estimator,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
	if e.reports == nil {
		e.reports = cfg.Inputs
	}
	if e.prices == nil {
		e.prices = pricing.Default()
	}
	if e.estimator == nil {
		e.estimator = pageestimate.SizeEstimator{}
	}
	if e.logger == nil {
		e.logger = logging.NewDiscard()
	}
	return e, nil
}

// Quote prices kind. pages is only used for AiRemoval.
func (e *Engine) Quote(kind domain.ServiceKind, pages int) (int64, error) {
	return e.prices.Quote(kind, pages)
}

// CreditAccount tops up a wallet. Replaying reference returns the original
// entry and notifies nobody.
func (e *Engine) CreditAccount(ctx context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error) {
	_, lookupErr := e.ledger.Lookup(ctx, accountID, reference)
	replay := lookupErr == nil

	entry, err := e.ledger.Credit(ctx, accountID, amount, reference)
	if err != nil {
		e.metrics.RecordLedgerOperation("credit", outcomeOf(err))
		return nil, fmt.Errorf("credit %s: %w", accountID, err)
	}
	e.metrics.RecordLedgerOperation("credit", "ok")
	if replay {
		return entry, nil
	}

	e.logger.WithContext(ctx).
		WithField("account_id", accountID).
		WithField("amount", amount).
		WithField("reference", reference).
		Info("Wallet credited")
	e.notifier.Emit(ctx, notify.EventWalletCredited, accountID, "", fmt.Sprintf("Wallet credited: %d", amount))
	return entry, nil
}

// markFailed moves a Created order to Failed. It runs detached from ctx so
// an abandoned request still leaves the order terminal.
func (e *Engine) markFailed(ctx context.Context, order *domain.Order, reason string) {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.WithContext(ctx).WithField("order_id", order.ID).WithField("reason", reason)

	if err := e.orders.MarkFailed(ctx, order.ID, reason); err != nil {
		log.WithError(err).Error("Failed to mark order failed")
		return
	}
	order.State = domain.StateFailed
	order.FailureReason = reason
	log.Info("Order failed")
}

// refund reverses the order's debit if one was committed.
func (e *Engine) refund(ctx context.Context, order *domain.Order) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	entry, applied, err := e.ledger.Reverse(ctx, order.AccountID, order.ID)
	if err != nil {
		e.metrics.RecordLedgerOperation("reverse", outcomeOf(err))
		return false, fmt.Errorf("reverse debit for order %s: %w", order.ID, err)
	}
	if !applied {
		return false, nil
	}
	e.metrics.RecordLedgerOperation("reverse", "ok")
	e.logger.WithContext(ctx).
		WithField("order_id", order.ID).
		WithField("account_id", order.AccountID).
		WithField("amount", entry.Amount).
		Warn("Debit reversed for failed order")
	return true, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "retryable"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrDuplicateResult), errors.Is(err, domain.ErrConflict):
		return "already_processed"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrReferenceMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
