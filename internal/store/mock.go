package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/topicchat/server/internal/types"
)

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.ChatRoom, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) GetRoom(ctx context.Context, roomId string) (types.ChatRoom, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) GetActiveRooms(ctx context.Context) ([]types.ChatRoom, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) GetRoomsByInterests(ctx context.Context, tags []string) ([]types.ChatRoom, error) {
	args := m.Called(ctx, tags)
	return args.Get(0).([]types.ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) JoinRoom(ctx context.Context, roomId, userId string) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockRoomRepository) LeaveRoom(ctx context.Context, roomId, userId string) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockRoomRepository) DeleteRoom(ctx context.Context, roomId, requesterId string) error {
	args := m.Called(ctx, roomId, requesterId)
	return args.Error(0)
}
func (m *MockRoomRepository) SearchRooms(ctx context.Context, query string) ([]types.ChatRoom, error) {
	args := m.Called(ctx, query)
	return args.Get(0).([]types.ChatRoom), args.Error(1)
}
func (m *MockRoomRepository) IsParticipant(ctx context.Context, roomId, userId string) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRoomRepository) TouchActivity(ctx context.Context, roomId string, t time.Time) error {
	args := m.Called(ctx, roomId, t)
	return args.Error(0)
}
func (m *MockRoomRepository) CountRoomsByInterest(ctx context.Context, tag string) (int, error) {
	args := m.Called(ctx, tag)
	return args.Int(0), args.Error(1)
}

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockMessageRepository) GetMessages(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error) {
	args := m.Called(ctx, roomId, limit, before)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockMessageRepository) GetMessagesAfter(ctx context.Context, roomId string, after time.Time) ([]types.Message, error) {
	args := m.Called(ctx, roomId, after)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockMessageRepository) DeleteMessage(ctx context.Context, roomId, messageId string) error {
	args := m.Called(ctx, roomId, messageId)
	return args.Error(0)
}
func (m *MockMessageRepository) DeleteAllMessages(ctx context.Context, roomId string) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) CreateOrUpdateProfile(ctx context.Context, params UpsertProfileParams) (types.UserProfile, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.UserProfile), args.Error(1)
}
func (m *MockUserRepository) GetProfile(ctx context.Context, userId string) (types.UserProfile, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.UserProfile), args.Error(1)
}
func (m *MockUserRepository) SetInterests(ctx context.Context, userId string, interests []string) error {
	args := m.Called(ctx, userId, interests)
	return args.Error(0)
}
func (m *MockUserRepository) AddToActiveChats(ctx context.Context, userId, roomId string) error {
	args := m.Called(ctx, userId, roomId)
	return args.Error(0)
}
func (m *MockUserRepository) RemoveFromActiveChats(ctx context.Context, userId, roomId string) error {
	args := m.Called(ctx, userId, roomId)
	return args.Error(0)
}
