package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/notify"
	"github.com/onlab/orderdesk/internal/objectstore"
)

const (
	maxNameLength = 200
	maxKeyLength  = 128
)

// SubmitRequest is a user's order submission.
type SubmitRequest struct {
	AccountID string
	Kind      domain.ServiceKind
	// Name is the display name; it defaults to the file name or URL.
	Name string
	// File is required for kinds that take a document.
	File *objectstore.File
	// URL is required for unlock kinds.
	URL string
	// IdempotencyKey makes retries of the same submission resume one order.
	IdempotencyKey string
}

// SubmitOrder creates, uploads, charges and marks an order Paid.
//
// A failed upload or an insufficient balance leaves the order Failed and the
// balance untouched. A transient ledger or repository fault leaves the order
// Created and returns an error wrapping domain.ErrTransient; retrying with
// the same IdempotencyKey resumes it.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	order, err := e.submit(ctx, req)
	e.metrics.RecordSubmission(string(req.Kind), outcomeOf(err))
	return order, err
}

func (e *Engine) submit(ctx context.Context, req SubmitRequest) (*domain.Order, error) {
	if err := validateSubmit(&req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := e.orders.GetBySubmitKey(ctx, req.AccountID, req.IdempotencyKey)
		switch {
		case err == nil:
			return e.resume(ctx, existing, req)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("lookup submission: %w", err)
		}
	}

	order := &domain.Order{
		AccountID: req.AccountID,
		Kind:      req.Kind,
		Name:      req.Name,
		SubmitKey: req.IdempotencyKey,
	}
	if !req.Kind.RequiresFile() {
		order.InputRef = req.URL
	}
	if req.Kind != domain.AiRemoval {
		price, err := e.prices.Quote(req.Kind, 0)
		if err != nil {
			return nil, err
		}
		order.Price = price
	}

	if _, err := e.orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubmitKey) {
			// A concurrent retry created it first.
			existing, getErr := e.orders.GetBySubmitKey(ctx, req.AccountID, req.IdempotencyKey)
			if getErr != nil {
				return nil, fmt.Errorf("lookup submission: %w", getErr)
			}
			return e.resume(ctx, existing, req)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	e.logger.WithContext(ctx).
		WithField("order_id", order.ID).
		WithField("kind", string(order.Kind)).
		Info("Order created")

	return e.advance(ctx, order, req)
}

// resume continues or replays the order created by an earlier attempt.
func (e *Engine) resume(ctx context.Context, order *domain.Order, req SubmitRequest) (*domain.Order, error) {
	if order.Kind != req.Kind {
		return nil, fmt.Errorf("%w: idempotency key already used for a %s order", domain.ErrInvalidInput, order.Kind)
	}

	switch order.State {
	case domain.StatePaid, domain.StateFulfilled:
		return order, nil
	case domain.StateFailed:
		return order, failureError(order)
	}

	e.logger.WithContext(ctx).WithField("order_id", order.ID).Info("Resuming order submission")
	return e.advance(ctx, order, req)
}

// advance runs the remaining steps for a Created order.
func (e *Engine) advance(ctx context.Context, order *domain.Order, req SubmitRequest) (*domain.Order, error) {
	if order.Kind.RequiresFile() && order.InputRef == "" {
		if req.File == nil {
			return nil, fmt.Errorf("%w: file is required to resume order %s", domain.ErrInvalidInput, order.ID)
		}
		if err := e.attachInput(ctx, order, *req.File); err != nil {
			return nil, err
		}
	}

	if err := e.charge(ctx, order); err != nil {
		return nil, err
	}

	if err := e.orders.Transition(ctx, order.ID, domain.StateCreated, domain.StatePaid); err != nil {
		return e.settleLostTransition(ctx, order, err)
	}
	order.State = domain.StatePaid

	e.logger.WithContext(ctx).
		WithField("order_id", order.ID).
		WithField("price", order.Price).
		Info("Order paid")
	e.notifier.Emit(ctx, notify.EventOrderSubmitted, order.AccountID, order.ID, "Order submitted: "+order.Name)
	return order, nil
}

// attachInput uploads the document and fixes the final price.
func (e *Engine) attachInput(ctx context.Context, order *domain.Order, file objectstore.File) error {
	objectPath, err := e.inputs.Upload(ctx, order.AccountID, file)
	if err != nil {
		e.logger.WithContext(ctx).WithField("order_id", order.ID).WithError(err).Warn("Input upload failed")
		e.markFailed(ctx, order, ReasonUploadFailed)
		return fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}

	price := order.Price
	if order.Kind == domain.AiRemoval {
		pages, err := e.estimator.EstimatePages(ctx, objectPath, file.Size)
		if err != nil {
			if domain.IsRetryable(err) {
				return fmt.Errorf("estimate pages: %w", err)
			}
			e.markFailed(ctx, order, ReasonEstimateFailed)
			return fmt.Errorf("%w: estimate pages: %v", domain.ErrInvalidInput, err)
		}
		if price, err = e.prices.Quote(order.Kind, pages); err != nil {
			e.markFailed(ctx, order, ReasonEstimateFailed)
			return err
		}
	}

	if err := e.orders.SetInput(ctx, order.ID, objectPath, price); err != nil {
		return e.lostOrder(ctx, order, fmt.Errorf("record input: %w", err))
	}
	order.InputRef = objectPath
	order.Price = price
	return nil
}

// charge debits the order price keyed by the order id.
func (e *Engine) charge(ctx context.Context, order *domain.Order) error {
	_, err := e.ledger.Debit(ctx, order.AccountID, order.Price, order.ID)
	e.metrics.RecordLedgerOperation("debit", outcomeOf(err))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInsufficientFunds):
		e.markFailed(ctx, order, ReasonInsufficientFunds)
		return err
	case domain.IsRetryable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.logger.WithContext(ctx).WithField("order_id", order.ID).WithError(err).Warn("Debit interrupted; order left for retry")
		if !domain.IsRetryable(err) {
			return fmt.Errorf("%w: debit: %v", domain.ErrTransient, err)
		}
		return fmt.Errorf("debit: %w", err)
	default:
		// A reference mismatch means an earlier attempt charged a different
		// amount for this order; that charge is refunded with the failure.
		e.markFailed(ctx, order, ReasonPaymentFailed)
		if _, refundErr := e.refund(ctx, order); refundErr != nil {
			e.logger.WithContext(ctx).WithField("order_id", order.ID).WithError(refundErr).Error("Refund after payment failure failed")
		}
		return fmt.Errorf("debit: %w", err)
	}
}

// settleLostTransition handles a failed Created -> Paid step after the
// debit committed.
func (e *Engine) settleLostTransition(ctx context.Context, order *domain.Order, err error) (*domain.Order, error) {
	if !errors.Is(err, domain.ErrInvalidTransition) {
		// The debit stands; a retry or the sweeper settles the order.
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	if err := e.lostOrder(ctx, order, err); err != nil {
		return nil, err
	}
	// A concurrent retry of the same submission marked it Paid.
	return order, nil
}

// lostOrder reloads an order another writer changed underneath us.
func (e *Engine) lostOrder(ctx context.Context, order *domain.Order, cause error) error {
	current, err := e.orders.Get(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("%w: reload order %s: %v", domain.ErrTransient, order.ID, err)
	}
	*order = *current

	switch current.State {
	case domain.StatePaid, domain.StateFulfilled:
		return nil
	case domain.StateFailed:
		// The sweeper failed the order concurrently; its refund may have
		// run before our debit, so reverse again. Reverse applies once.
		if _, refundErr := e.refund(ctx, order); refundErr != nil {
			e.logger.WithContext(ctx).WithField("order_id", order.ID).WithError(refundErr).Error("Refund of swept order failed")
		}
		return failureError(current)
	}
	return cause
}

func failureError(order *domain.Order) error {
	switch order.FailureReason {
	case ReasonInsufficientFunds:
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrInsufficientFunds)
	case ReasonUploadFailed:
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrUploadFailed)
	default:
		return fmt.Errorf("%w: order %s failed (%s)", domain.ErrInvalidState, order.ID, order.FailureReason)
	}
}

func validateSubmit(req *SubmitRequest) error {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	if _, err := domain.ParseServiceKind(string(req.Kind)); err != nil {
		return err
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if len(req.IdempotencyKey) > maxKeyLength {
		return fmt.Errorf("%w: idempotency key longer than %d characters", domain.ErrInvalidInput, maxKeyLength)
	}

	if req.Kind.RequiresFile() {
		if req.File == nil || req.File.Body == nil {
			return fmt.Errorf("%w: %s requires a file", domain.ErrInvalidInput, req.Kind)
		}
		if req.Kind == domain.AiRemoval {
			switch strings.ToLower(path.Ext(req.File.Name)) {
			case ".doc", ".docx":
			default:
				return fmt.Errorf("%w: %s accepts .doc and .docx files only", domain.ErrInvalidInput, req.Kind)
			}
		}
		if req.Name == "" {
			req.Name = req.File.Name
		}
	} else {
		u, err := url.Parse(strings.TrimSpace(req.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s requires an http(s) url", domain.ErrInvalidInput, req.Kind)
		}
		req.URL = u.String()
		if req.Name == "" {
			req.Name = req.URL
		}
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Name) > maxNameLength {
		req.Name = string([]rune(req.Name)[:maxNameLength])
	}
	return nil
}
