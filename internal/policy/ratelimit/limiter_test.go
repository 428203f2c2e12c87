package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://fcm.googleapis.com/fcm/send/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://fcm.googleapis.com/fcm/send/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different push service has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://updates.push.services.mozilla.com/wpush/v2/x"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://push.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://push.example"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "::bad url"))
	}
	require.Equal(t, 1, l.Hosts())
}
