// Package orders persists orders, their lifecycle state and their results.
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
)

// Filter narrows admin listings.
type Filter struct {
	AccountID string
	State     domain.OrderState
}

// Repository is the order store contract.
//
// State changes go through compare-and-set: Transition succeeds only when the
// stored state equals from, otherwise it fails with domain.ErrInvalidTransition.
// Listings are offset-paginated, newest first.
type Repository interface {
	// Create stores a new order in the Created state and returns its id.
	// A repeated (account, submit key) pair fails with domain.ErrDuplicateSubmitKey.
	Create(ctx context.Context, order *domain.Order) (string, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	GetBySubmitKey(ctx context.Context, accountID, key string) (*domain.Order, error)
	ListByAccount(ctx context.Context, accountID string, page domain.Page) ([]domain.Order, int, error)
	List(ctx context.Context, filter Filter, page domain.Page) ([]domain.Order, int, error)
	Transition(ctx context.Context, id string, from, to domain.OrderState) error
	// MarkFailed moves a Created order to Failed and records why.
	MarkFailed(ctx context.Context, id, reason string) error
	// SetInput records the uploaded input and the final price. Only allowed while Created.
	SetInput(ctx context.Context, id, ref string, price int64) error
	// ListStale returns Created orders older than before, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	// Fulfill stores result and moves the order Paid -> Fulfilled in one step.
	// It fails with domain.ErrDuplicateResult if a result exists, or
	// domain.ErrInvalidTransition if the order is no longer Paid; nothing is stored then.
	Fulfill(ctx context.Context, result *domain.Result) error
	GetResult(ctx context.Context, orderID string) (*domain.Result, error)
	// Stats counts orders per state. Revenue sums the prices of Paid and Fulfilled orders.
	Stats(ctx context.Context) (domain.Stats, error)
}

// Revenue-bearing states.
func countsAsRevenue(s domain.OrderState) bool {
	return s == domain.StatePaid || s == domain.StateFulfilled
}

func isInvalidTransition(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition)
}
