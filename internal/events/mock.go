package events

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/topicchat/server/internal/types"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) RoomCreated(ctx context.Context, room types.ChatRoom) {
	m.Called(ctx, room)
}
func (m *MockDispatcher) RoomDeleted(ctx context.Context, roomId, userId, username string) {
	m.Called(ctx, roomId, userId, username)
}
func (m *MockDispatcher) UserJoined(ctx context.Context, roomId, userId, username string) {
	m.Called(ctx, roomId, userId, username)
}
func (m *MockDispatcher) UserLeft(ctx context.Context, roomId, userId, username string) {
	m.Called(ctx, roomId, userId, username)
}
func (m *MockDispatcher) MessageSent(ctx context.Context, msg types.Message) {
	m.Called(ctx, msg)
}

type MockSubscriber struct {
	mock.Mock
}

func (m *MockSubscriber) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	args := m.Called(ctx, channels)
	if sub, ok := args.Get(0).(Subscription); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}

// FakeSubscription is an in-memory Subscription for driving the
// realtime layer in tests.
type FakeSubscription struct {
	Ch chan ChannelEvent

	mu       sync.Mutex
	channels map[string]struct{}
}

func NewFakeSubscription(channels ...string) *FakeSubscription {
	sub := &FakeSubscription{
		Ch:       make(chan ChannelEvent, 64),
		channels: make(map[string]struct{}),
	}
	for _, ch := range channels {
		sub.channels[ch] = struct{}{}
	}
	return sub
}

// Emit delivers an event as if it had been published on channel.
func (f *FakeSubscription) Emit(channel string, event Event) {
	f.Ch <- ChannelEvent{Channel: channel, Event: event}
}

// Has reports whether the subscription currently covers channel.
func (f *FakeSubscription) Has(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channel]
	return ok
}

func (f *FakeSubscription) Events() <-chan ChannelEvent {
	return f.Ch
}

func (f *FakeSubscription) Add(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		f.channels[ch] = struct{}{}
	}
	return nil
}

func (f *FakeSubscription) Remove(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range channels {
		delete(f.channels, ch)
	}
	return nil
}

func (f *FakeSubscription) Close() error {
	close(f.Ch)
	return nil
}
