package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/topicchat/server/internal/events"
	"github.com/topicchat/server/internal/stats"
	"github.com/topicchat/server/internal/store"
	"github.com/topicchat/server/internal/testutil"
	"github.com/topicchat/server/internal/types"
)

type chatServerFixture struct {
	cs          *ChatServer
	roomRepo    *store.MockRoomRepository
	messageRepo *store.MockMessageRepository
	subscriber  *events.MockSubscriber
	globalSub   *events.FakeSubscription
	stats       *stats.MockStatsUpdater
}

func newTestChatServer(t *testing.T) *chatServerFixture {
	t.Helper()

	roomRepo := &store.MockRoomRepository{}
	messageRepo := &store.MockMessageRepository{}
	subscriber := &events.MockSubscriber{}
	statsUpdater := &stats.MockStatsUpdater{}

	statsUpdater.On("RegisterMetric", mock.Anything).Return()
	statsUpdater.On("Incr", mock.Anything).Return()
	statsUpdater.On("Decr", mock.Anything).Return()
	statsUpdater.On("Add", mock.Anything, mock.Anything).Return()

	globalSub := events.NewFakeSubscription(events.DiscoveryChannel)
	subscriber.On("Subscribe", mock.Anything, []string{events.DiscoveryChannel}).Return(globalSub, nil).Once()

	cs, err := NewChatServer(testutil.TestLogger(t), roomRepo, messageRepo, subscriber, statsUpdater)
	require.NoError(t, err)

	go cs.Run()
	t.Cleanup(cs.Shutdown)

	return &chatServerFixture{
		cs:          cs,
		roomRepo:    roomRepo,
		messageRepo: messageRepo,
		subscriber:  subscriber,
		globalSub:   globalSub,
		stats:       statsUpdater,
	}
}

func waitForMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewChatServer_subscribesDiscovery(t *testing.T) {
	f := newTestChatServer(t)
	f.subscriber.AssertExpectations(t)
}

func TestChatServer_registerTracksUserChannels(t *testing.T) {
	f := newTestChatServer(t)

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- client

	assert.Eventually(t, func() bool {
		return f.globalSub.Has(events.UserChannel("user-1"))
	}, time.Second, 10*time.Millisecond, "expected user channel added on first connection")

	f.cs.deRegisterChan <- client

	assert.Eventually(t, func() bool {
		return !f.globalSub.Has(events.UserChannel("user-1"))
	}, time.Second, 10*time.Millisecond, "expected user channel removed with last connection")
}

func TestChatServer_subscribeAndReceive(t *testing.T) {
	f := newTestChatServer(t)

	roomSub := events.NewFakeSubscription(events.RoomChannel("room-1"))
	f.roomRepo.On("GetRoom", mock.Anything, "room-1").Return(types.ChatRoom{Id: "room-1", IsActive: true}, nil)
	f.roomRepo.On("IsParticipant", mock.Anything, "room-1", "user-1").Return(true, nil)
	f.subscriber.On("Subscribe", mock.Anything, []string{events.RoomChannel("room-1")}).Return(roomSub, nil).Once()

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- client

	f.cs.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{RoomId: "room-1"},
		client:      client,
	}

	resp := waitForMessage(t, client)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 200, resp.Response.ResponseCode, "expected subscribe ack")

	roomSub.Emit(events.RoomChannel("room-1"), events.Event{
		Type:     events.EventMessage,
		RoomId:   "room-1",
		UserId:   "user-2",
		Username: "bob",
		Content:  "hi",
	})

	msg := waitForMessage(t, client)
	require.NotNil(t, msg.Event)
	assert.Equal(t, events.EventMessage, msg.Event.Type)
	assert.Equal(t, "hi", msg.Event.Content)
}

func TestChatServer_subscribeReplaysMissedMessages(t *testing.T) {
	f := newTestChatServer(t)

	lastSeen := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Minute)
	missed := []types.Message{
		{Id: "m1", ChatRoomId: "room-1", UserId: "user-2", Username: "bob", Content: "first", Timestamp: lastSeen.Add(time.Second)},
		{Id: "m2", ChatRoomId: "room-1", UserId: "user-2", Username: "bob", Content: "second", Timestamp: lastSeen.Add(2 * time.Second)},
	}

	roomSub := events.NewFakeSubscription(events.RoomChannel("room-1"))
	f.roomRepo.On("GetRoom", mock.Anything, "room-1").Return(types.ChatRoom{Id: "room-1", IsActive: true}, nil)
	f.roomRepo.On("IsParticipant", mock.Anything, "room-1", "user-1").Return(true, nil)
	f.subscriber.On("Subscribe", mock.Anything, []string{events.RoomChannel("room-1")}).Return(roomSub, nil).Once()
	f.messageRepo.On("GetMessagesAfter", mock.Anything, "room-1", lastSeen).Return(missed, nil).Once()

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- client

	f.cs.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{RoomId: "room-1", LastSeen: lastSeen.UnixMilli()},
		client:      client,
	}

	first := waitForMessage(t, client)
	require.NotNil(t, first.Event)
	assert.Equal(t, "first", first.Event.Content, "expected replay in ascending order")

	second := waitForMessage(t, client)
	require.NotNil(t, second.Event)
	assert.Equal(t, "second", second.Event.Content)

	resp := waitForMessage(t, client)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 200, resp.Response.ResponseCode, "expected ack after replay")

	f.messageRepo.AssertExpectations(t)
	f.stats.AssertCalled(t, "Add", statMessagesReplayed, 2)
}

func TestChatServer_subscribeRoomNotFound(t *testing.T) {
	f := newTestChatServer(t)

	f.roomRepo.On("GetRoom", mock.Anything, "missing").Return(types.ChatRoom{}, store.ErrNotFound)

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{RoomId: "missing"},
		client:      client,
	}

	resp := waitForMessage(t, client)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 404, resp.Response.ResponseCode)
}

func TestChatServer_subscribeNonParticipant(t *testing.T) {
	f := newTestChatServer(t)

	f.roomRepo.On("GetRoom", mock.Anything, "room-1").Return(types.ChatRoom{Id: "room-1", IsActive: true}, nil)
	f.roomRepo.On("IsParticipant", mock.Anything, "room-1", "user-1").Return(false, nil)

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{RoomId: "room-1"},
		client:      client,
	}

	resp := waitForMessage(t, client)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 403, resp.Response.ResponseCode)
}

func TestChatServer_subscribeTransportFailure(t *testing.T) {
	f := newTestChatServer(t)

	f.roomRepo.On("GetRoom", mock.Anything, "room-1").Return(types.ChatRoom{Id: "room-1", IsActive: true}, nil)
	f.roomRepo.On("IsParticipant", mock.Anything, "room-1", "user-1").Return(true, nil)
	f.subscriber.On("Subscribe", mock.Anything, []string{events.RoomChannel("room-1")}).
		Return(nil, errors.New("connection refused")).Once()

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{RoomId: "room-1"},
		client:      client,
	}

	resp := waitForMessage(t, client)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 503, resp.Response.ResponseCode)
}

func TestChatServer_discoveryFansOutToAllClients(t *testing.T) {
	f := newTestChatServer(t)

	alice := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	bob := NewClient("user-2", "bob", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- alice
	f.cs.RegisterChan <- bob

	f.globalSub.Emit(events.DiscoveryChannel, events.Event{
		Type:     events.EventRoomCreated,
		RoomId:   "room-1",
		UserId:   "user-3",
		Username: "carol",
	})

	for _, c := range []*Client{alice, bob} {
		msg := waitForMessage(t, c)
		require.NotNil(t, msg.Event)
		assert.Equal(t, events.EventRoomCreated, msg.Event.Type)
	}
}

func TestChatServer_userEventsRoutedToOwner(t *testing.T) {
	f := newTestChatServer(t)

	alice := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	bob := NewClient("user-2", "bob", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- alice
	f.cs.RegisterChan <- bob

	assert.Eventually(t, func() bool {
		return f.globalSub.Has(events.UserChannel("user-2"))
	}, time.Second, 10*time.Millisecond)

	f.globalSub.Emit(events.UserChannel("user-2"), events.Event{
		Type:     events.EventUserJoined,
		RoomId:   "room-1",
		UserId:   "user-2",
		Username: "bob",
	})

	msg := waitForMessage(t, bob)
	require.NotNil(t, msg.Event)
	assert.Equal(t, events.EventUserJoined, msg.Event.Type)

	assertNoMessage(t, alice)
}

func TestChatServer_roomDeletedUnloadsBridge(t *testing.T) {
	f := newTestChatServer(t)

	roomSub := events.NewFakeSubscription(events.RoomChannel("room-1"))
	f.roomRepo.On("GetRoom", mock.Anything, "room-1").Return(types.ChatRoom{Id: "room-1", IsActive: true}, nil)
	f.roomRepo.On("IsParticipant", mock.Anything, "room-1", "user-1").Return(true, nil)
	f.subscriber.On("Subscribe", mock.Anything, []string{events.RoomChannel("room-1")}).Return(roomSub, nil).Once()

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- client
	f.cs.subscribeChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Subscribe:   &Subscribe{RoomId: "room-1"},
		client:      client,
	}

	resp := waitForMessage(t, client)
	require.NotNil(t, resp.Response)

	roomSub.Emit(events.RoomChannel("room-1"), events.Event{
		Type:   events.EventRoomDeleted,
		RoomId: "room-1",
	})

	msg := waitForMessage(t, client)
	require.NotNil(t, msg.Event)
	assert.Equal(t, events.EventRoomDeleted, msg.Event.Type, "expected deletion notice before unload")

	assert.Eventually(t, func() bool {
		return client.getBridge("room-1") == nil
	}, time.Second, 10*time.Millisecond, "expected bridge detached after room deletion")
}

func TestChatServer_shutdownUnblocksClientCleanup(t *testing.T) {
	f := newTestChatServer(t)

	client := NewClient("user-1", "alice", nil, f.cs, testutil.TestLogger(t))
	f.cs.RegisterChan <- client

	f.cs.Shutdown()

	// a connection dropping after the run loop has exited must still
	// finish its teardown instead of hanging on the deregister send or
	// re-closing the stop channel
	finished := make(chan struct{})
	go func() {
		client.cleanup()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not return after shutdown")
	}

	select {
	case <-client.stop:
	default:
		t.Fatal("expected client stop channel to be closed")
	}
}
