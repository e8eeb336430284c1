package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/topicchat/server/internal/testutil"
	"github.com/topicchat/server/internal/types"
)

func waitForEvent(t *testing.T, sub Subscription) ChannelEvent {
	t.Helper()
	select {
	case ce := <-sub.Events():
		return ce
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ChannelEvent{}
	}
}

func assertNoEvent(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case ce := <-sub.Events():
		t.Fatalf("unexpected event on %q: %+v", ce.Channel, ce.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcher_messageSent(t *testing.T) {
	client, _ := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	subscriber := NewRedisSubscriber(client, logger)
	sub, err := subscriber.Subscribe(ctx, RoomChannel("room-1"))
	require.NoError(t, err)
	defer sub.Close()

	msg := types.Message{
		Id:         "msg-1",
		ChatRoomId: "room-1",
		UserId:     "user-1",
		Username:   "alice",
		Content:    "hello",
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
	}

	dispatcher := NewRedisDispatcher(client, logger)
	dispatcher.MessageSent(ctx, msg)

	ce := waitForEvent(t, sub)
	assert.Equal(t, RoomChannel("room-1"), ce.Channel)
	assert.Equal(t, EventMessage, ce.Event.Type)
	assert.Equal(t, "room-1", ce.Event.RoomId)
	assert.Equal(t, "alice", ce.Event.Username)
	assert.Equal(t, "hello", ce.Event.Content)
	assert.Equal(t, msg.Timestamp, ce.Event.Timestamp)
}

func TestDispatcher_roomLifecycleOnDiscovery(t *testing.T) {
	client, _ := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	subscriber := NewRedisSubscriber(client, logger)
	sub, err := subscriber.Subscribe(ctx, DiscoveryChannel)
	require.NoError(t, err)
	defer sub.Close()

	dispatcher := NewRedisDispatcher(client, logger)
	dispatcher.RoomCreated(ctx, types.ChatRoom{
		Id:              "room-1",
		CreatorId:       "user-1",
		CreatorUsername: "alice",
	})

	ce := waitForEvent(t, sub)
	assert.Equal(t, DiscoveryChannel, ce.Channel)
	assert.Equal(t, EventRoomCreated, ce.Event.Type)
	assert.Equal(t, "room-1", ce.Event.RoomId)

	dispatcher.RoomDeleted(ctx, "room-1", "user-1", "alice")

	ce = waitForEvent(t, sub)
	assert.Equal(t, EventRoomDeleted, ce.Event.Type)
	assert.Equal(t, "room-1", ce.Event.RoomId)
}

func TestDispatcher_membershipOnRoomAndUserChannels(t *testing.T) {
	client, _ := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	subscriber := NewRedisSubscriber(client, logger)
	sub, err := subscriber.Subscribe(ctx, RoomChannel("room-1"), UserChannel("user-2"))
	require.NoError(t, err)
	defer sub.Close()

	dispatcher := NewRedisDispatcher(client, logger)
	dispatcher.UserJoined(ctx, "room-1", "user-2", "bob")

	channels := map[string]Event{}
	for i := 0; i < 2; i++ {
		ce := waitForEvent(t, sub)
		channels[ce.Channel] = ce.Event
	}

	require.Contains(t, channels, RoomChannel("room-1"))
	require.Contains(t, channels, UserChannel("user-2"))
	assert.Equal(t, EventUserJoined, channels[RoomChannel("room-1")].Type)
	assert.Equal(t, "bob", channels[UserChannel("user-2")].Username)
}

func TestSubscription_addAndRemove(t *testing.T) {
	client, _ := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	subscriber := NewRedisSubscriber(client, logger)
	sub, err := subscriber.Subscribe(ctx, DiscoveryChannel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.Add(ctx, RoomChannel("room-1")))

	dispatcher := NewRedisDispatcher(client, logger)
	dispatcher.MessageSent(ctx, types.Message{ChatRoomId: "room-1", UserId: "user-1", Username: "alice"})

	ce := waitForEvent(t, sub)
	assert.Equal(t, RoomChannel("room-1"), ce.Channel)

	require.NoError(t, sub.Remove(ctx, RoomChannel("room-1")))
	// give the unsubscribe a moment to apply
	time.Sleep(50 * time.Millisecond)

	dispatcher.MessageSent(ctx, types.Message{ChatRoomId: "room-1", UserId: "user-1", Username: "alice"})
	assertNoEvent(t, sub)
}

func TestSubscription_skipsMalformedPayloads(t *testing.T) {
	client, _ := testutil.TestRedis(t)
	logger := testutil.TestLogger(t)
	ctx := context.Background()

	subscriber := NewRedisSubscriber(client, logger)
	sub, err := subscriber.Subscribe(ctx, RoomChannel("room-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, RoomChannel("room-1"), "not json").Err())

	dispatcher := NewRedisDispatcher(client, logger)
	dispatcher.MessageSent(ctx, types.Message{ChatRoomId: "room-1", UserId: "user-1", Username: "alice", Content: "ok"})

	ce := waitForEvent(t, sub)
	assert.Equal(t, "ok", ce.Event.Content, "expected malformed payload to be skipped")
}
