package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewServiceDisabled(t *testing.T) {
	svc, err := NewService("", "")
	assert.NoError(t, err)
	assert.Nil(t, svc)
}

func TestNilServiceDegrades(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.MarkOnline(ctx, "alice"))
	assert.NoError(t, svc.MarkOffline(ctx, "alice"))
	assert.NoError(t, svc.Publish(ctx, Notification{Username: "alice"}))
	assert.Nil(t, svc.Client())
	assert.NoError(t, svc.Close())

	online, err := svc.OnlineUsernames(ctx)
	assert.NoError(t, err)
	assert.Empty(t, online)
}

func TestMarkOnlineAndSnapshot(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()
	ctx := context.Background()

	require.NoError(t, svc.MarkOnline(ctx, "alice"))
	require.NoError(t, svc.MarkOnline(ctx, "bob"))

	online, err := svc.OnlineUsernames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)

	require.NoError(t, svc.MarkOffline(ctx, "alice"))
	online, err = svc.OnlineUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, online)
}

func TestMarkOnlineIdempotent(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()
	ctx := context.Background()

	require.NoError(t, svc.MarkOnline(ctx, "alice"))
	require.NoError(t, svc.MarkOnline(ctx, "alice"))

	online, err := svc.OnlineUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, online)
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Notification, 1)
	var wg sync.WaitGroup
	svc.Subscribe(ctx, &wg, func(n Notification) {
		received <- n
	})

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"project": "proj1"})
	require.NoError(t, svc.Publish(ctx, Notification{
		Username: "bob",
		Type:     "room-invitation",
		Payload:  payload,
	}))

	select {
	case n := <-received:
		assert.Equal(t, "bob", n.Username)
		assert.Equal(t, "room-invitation", n.Type)
		assert.JSONEq(t, `{"project":"proj1"}`, string(n.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}

	cancel()
	wg.Wait()
}

func TestPublishMalformedPayloadIsSkippedBySubscriber(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Notification, 1)
	var wg sync.WaitGroup
	svc.Subscribe(ctx, &wg, func(n Notification) {
		received <- n
	})
	time.Sleep(50 * time.Millisecond)

	// Raw garbage on the channel must not kill the subscriber.
	require.NoError(t, svc.Client().Publish(ctx, notificationChannel, "not json").Err())
	require.NoError(t, svc.Publish(ctx, Notification{Username: "carol", Type: "friend-request"}))

	select {
	case n := <-received:
		assert.Equal(t, "carol", n.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber died on malformed payload")
	}

	cancel()
	wg.Wait()
}
