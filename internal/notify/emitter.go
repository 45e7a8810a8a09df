package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/metrics"
)

// EventType names the order transition behind a notification.
type EventType string

const (
	EventOrderSubmitted EventType = "order.submitted"
	EventOrderCompleted EventType = "order.completed"
	EventOrderFailed    EventType = "order.failed"
	EventWalletCredited EventType = "wallet.credited"
)

// Event is the envelope published to external subscribers.
type Event struct {
	Type           EventType `json:"type"`
	AccountID      string    `json:"account_id"`
	OrderID        string    `json:"order_id,omitempty"`
	NotificationID string    `json:"notification_id,omitempty"`
	Message        string    `json:"message"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher forwards events outside the process.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emitter records notifications and delivers them. Delivery is best
// effort: every failure is logged and counted, none is returned.
type Emitter struct {
	store     Store
	hub       *Hub
	publisher Publisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithPublisher adds an external publisher.
func WithPublisher(p Publisher) EmitterOption {
	return func(e *Emitter) { e.publisher = p }
}

// WithMetrics counts delivery failures.
func WithMetrics(m *metrics.Metrics) EmitterOption {
	return func(e *Emitter) { e.metrics = m }
}

// NewEmitter creates an emitter. hub may be nil.
func NewEmitter(store Store, hub *Hub, logger *logging.Logger, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		store:  store,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit records message for accountID and fans it out. The returned
// notification is nil only when it could not be persisted.
func (e *Emitter) Emit(ctx context.Context, eventType EventType, accountID, orderID, message string) *domain.Notification {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Message:   message,
		CreatedAt: e.now().UTC(),
	}

	log := e.logger.WithContext(ctx).WithField("account_id", accountID).WithField("event", string(eventType))
	if orderID != "" {
		log = log.WithField("order_id", orderID)
	}

	persisted := true
	if err := e.store.Insert(ctx, n); err != nil {
		persisted = false
		e.metrics.RecordNotificationFailure()
		log.WithError(err).Warn("Failed to persist notification")
	}

	if e.hub != nil {
		e.hub.Publish(*n)
	}

	if e.publisher != nil {
		event := Event{
			Type:       eventType,
			AccountID:  accountID,
			OrderID:    orderID,
			Message:    message,
			OccurredAt: n.CreatedAt,
		}
		if persisted {
			event.NotificationID = n.ID
		}
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.metrics.RecordNotificationFailure()
			log.WithError(err).Warn("Failed to publish order event")
		}
	}

	if !persisted {
		return nil
	}
	return n
}

// Service exposes the notification list operations behind the HTTP API.
type Service struct {
	store Store
}

// NewService creates a notification service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns a page of the account's notifications.
func (s *Service) List(ctx context.Context, accountID string, page domain.Page) ([]domain.Notification, int, error) {
	return s.store.ListByAccount(ctx, accountID, page)
}

// Unread returns the number of unread notifications.
func (s *Service) Unread(ctx context.Context, accountID string) (int, error) {
	return s.store.CountUnread(ctx, accountID)
}

// MarkRead marks one of the account's notifications read.
func (s *Service) MarkRead(ctx context.Context, accountID, id string) error {
	return s.store.MarkRead(ctx, accountID, id)
}

// MarkAllRead marks every notification of the account read.
func (s *Service) MarkAllRead(ctx context.Context, accountID string) (int, error) {
	return s.store.MarkAllRead(ctx, accountID)
}
