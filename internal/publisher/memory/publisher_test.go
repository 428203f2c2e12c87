package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/permitwatch/internal/publisher/pubsub"
)

type discovered struct {
	RunID string `json:"run_id"`
	Count int    `json:"count"`
}

func TestPublisherRecordsWireForm(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "permits.discovered", discovered{RunID: "r1", Count: 2})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "permits.audit", map[string]string{"run_id": "r1"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	require.Len(t, pub.Events(""), 2)

	events := pub.Events("permits.discovered")
	require.Len(t, events, 1)
	require.Equal(t, "memory-1", events[0].ID)
	require.JSONEq(t, `{"run_id":"r1","count":2}`, string(events[0].Data))
	require.Equal(t, "permits.discovered", events[0].Attributes[pubsub.EventAttribute])

	var got discovered
	require.NoError(t, events[0].Decode(&got))
	require.Equal(t, discovered{RunID: "r1", Count: 2}, got)

	events[0].Topic = "modified"
	require.Equal(t, "permits.discovered", pub.Events("")[0].Topic)
	require.Empty(t, pub.Events("permits.unknown"))
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "permits.discovered", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
	require.Empty(t, pub.Events(""))

	var v discovered
	require.ErrorContains(t, Event{ID: "memory-9", Topic: "t", Data: []byte("{")}.Decode(&v), "decode t event memory-9")
}
