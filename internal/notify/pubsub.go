package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/onlab/orderdesk/internal/domain"
)

const publishTimeout = 10 * time.Second

// PubSubPublisher publishes order events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// DialPubSub connects to projectID and returns a publisher for topicID.
// The topic is created when it does not exist.
func DialPubSub(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	c, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	p, err := NewPubSubPublisher(ctx, c, topicID)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPubSubPublisher returns a publisher on an existing client, creating
// topicID when missing.
func NewPubSubPublisher(ctx context.Context, c *pubsub.Client, topicID string) (*PubSubPublisher, error) {
	if topicID == "" {
		return nil, errors.New("pubsub topic is required")
	}

	topic := c.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		topic, err = c.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("create topic %q: %w", topicID, err)
		}
	}
	return &PubSubPublisher{client: c, topic: topic}, nil
}

// Publish implements Publisher and waits for the server-assigned id.
func (p *PubSubPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":       string(event.Type),
			"account_id": event.AccountID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("%w: publish %s: %v", domain.ErrTransient, event.Type, err)
	}
	return nil
}

// Close flushes pending messages and releases a client created by DialPubSub.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if p.owned {
		return p.client.Close()
	}
	return nil
}
