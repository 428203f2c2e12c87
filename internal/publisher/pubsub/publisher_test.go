package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "permitwatch-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishDeliversJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "permits.discovered")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "permits-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := New(client)
	require.NoError(t, err)
	t.Cleanup(pub.Stop)

	id, err := pub.Publish(ctx, "permits.discovered", map[string]any{"run_id": "run-1", "count": 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got := make(chan *pubsub.Message, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case got <- msg:
			default:
			}
			cancel()
		})
	}()

	select {
	case msg := <-got:
		require.Equal(t, "permits.discovered", msg.Attributes[EventAttribute])
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		require.Equal(t, "run-1", body["run_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	client := newTestClient(t)
	pub, err := New(client)
	require.NoError(t, err)
	t.Cleanup(pub.Stop)

	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pub.Publish(ctx, "missing-topic", "x")
	require.Error(t, err)
}
