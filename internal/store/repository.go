package store

import (
	"context"
	"errors"
	"time"

	"github.com/topicchat/server/internal/types"
)

// Sentinel errors for expected outcomes. Anything else returned by a
// repository is an unexpected store failure.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

type CreateRoomParams struct {
	Title           string
	Topic           string
	CreatorId       string
	CreatorUsername string
	Interests       []string
}

type CreateMessageParams struct {
	RoomId   string
	UserId   string
	Username string
	Content  string
	// Timestamp defaults to the current time when zero.
	Timestamp time.Time
}

type UpsertProfileParams struct {
	UserId   string
	Username string
	// Interests replaces the stored set when non-nil; nil preserves it.
	Interests []string
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.ChatRoom, error)
	GetRoom(ctx context.Context, roomId string) (types.ChatRoom, error)
	GetActiveRooms(ctx context.Context) ([]types.ChatRoom, error)
	GetRoomsByInterests(ctx context.Context, tags []string) ([]types.ChatRoom, error)
	JoinRoom(ctx context.Context, roomId, userId string) error
	LeaveRoom(ctx context.Context, roomId, userId string) error
	DeleteRoom(ctx context.Context, roomId, requesterId string) error
	SearchRooms(ctx context.Context, query string) ([]types.ChatRoom, error)
	IsParticipant(ctx context.Context, roomId, userId string) (bool, error)
	TouchActivity(ctx context.Context, roomId string, t time.Time) error
	CountRoomsByInterest(ctx context.Context, tag string) (int, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error)
	GetMessages(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error)
	GetMessagesAfter(ctx context.Context, roomId string, after time.Time) ([]types.Message, error)
	DeleteMessage(ctx context.Context, roomId, messageId string) error
	DeleteAllMessages(ctx context.Context, roomId string) error
}

type UserRepository interface {
	CreateOrUpdateProfile(ctx context.Context, params UpsertProfileParams) (types.UserProfile, error)
	GetProfile(ctx context.Context, userId string) (types.UserProfile, error)
	SetInterests(ctx context.Context, userId string, interests []string) error
	AddToActiveChats(ctx context.Context, userId, roomId string) error
	RemoveFromActiveChats(ctx context.Context, userId, roomId string) error
}
