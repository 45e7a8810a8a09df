package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPubSubPublisher_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	c, err := pubsub.NewClient(ctx, "orderdesk-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer c.Close()

	p, err := NewPubSubPublisher(ctx, c, "order-events")
	require.NoError(t, err)

	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(ctx, Event{
		Type:       EventOrderCompleted,
		AccountID:  "acct",
		OrderID:    "order-1",
		Message:    "Order completed: essay",
		OccurredAt: occurred,
	}))
	require.NoError(t, p.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "order.completed", msgs[0].Attributes["type"])
	assert.Equal(t, "acct", msgs[0].Attributes["account_id"])

	var got Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "order-1", got.OrderID)
	assert.True(t, occurred.Equal(got.OccurredAt))
}

func TestNewPubSubPublisher_ReusesExistingTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	c, err := pubsub.NewClient(ctx, "orderdesk-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.CreateTopic(ctx, "order-events")
	require.NoError(t, err)

	p, err := NewPubSubPublisher(ctx, c, "order-events")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = NewPubSubPublisher(ctx, c, "")
	assert.Error(t, err)
}
