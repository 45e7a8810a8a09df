package notify

import (
	"context"
	"time"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/supabase/client"
)

// RealtimeBridge forwards notification rows inserted by other writers
// (another replica, a database function) from Supabase Realtime into the hub.
type RealtimeBridge struct {
	realtime  *client.RealtimeClient
	hub       *Hub
	logger    *logging.Logger
	reconnect time.Duration
}

// NewRealtimeBridge creates a bridge.
func NewRealtimeBridge(realtime *client.RealtimeClient, hub *Hub, logger *logging.Logger) *RealtimeBridge {
	return &RealtimeBridge{
		realtime:  realtime,
		hub:       hub,
		logger:    logger,
		reconnect: 5 * time.Second,
	}
}

// Run keeps the subscription alive until ctx is cancelled.
func (b *RealtimeBridge) Run(ctx context.Context) error {
	err := b.realtime.Subscribe(client.ChangesConfig{
		Event: "INSERT",
		Table: "notifications",
	}, b.handleChange)
	if err != nil {
		return err
	}

	for {
		if err := b.realtime.Connect(ctx); err != nil {
			b.logger.WithContext(ctx).WithError(err).Warn("Realtime connect failed")
		} else {
			b.logger.WithContext(ctx).Info("Realtime notification bridge connected")
			select {
			case <-ctx.Done():
				return b.realtime.Close()
			case <-b.realtime.Done():
				b.logger.WithContext(ctx).Warn("Realtime connection dropped")
			}
			_ = b.realtime.Close()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.reconnect):
		}
	}
}

func (b *RealtimeBridge) handleChange(change client.Change) {
	n, ok := notificationFromRecord(change)
	if !ok {
		return
	}
	b.hub.Publish(n)
}

func notificationFromRecord(change client.Change) (domain.Notification, bool) {
	record := change.Record
	n := domain.Notification{
		ID:        record.Get("id").String(),
		AccountID: record.Get("account_id").String(),
		Message:   record.Get("message").String(),
		Read:      record.Get("is_read").Bool(),
	}
	if n.ID == "" || n.AccountID == "" {
		return domain.Notification{}, false
	}
	if created, err := time.Parse(time.RFC3339Nano, record.Get("created_at").String()); err == nil {
		n.CreatedAt = created.UTC()
	}
	return n, true
}
