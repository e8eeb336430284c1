package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Store wraps the redis client shared by all repositories. Redis is the
// single writer-of-record; no repository caches state in memory.
type Store struct {
	rdb *redis.Client
}

func NewStore(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wraps an existing client. Used by tests and by
// callers that share one connection pool across components.
func NewStoreWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying connection for the pub/sub layer.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

const activeRoomsKey = "rooms:active"

func roomKey(roomId string) string {
	return "room:" + roomId
}

func roomParticipantsKey(roomId string) string {
	return "room:" + roomId + ":participants"
}

func roomJoinSeqKey(roomId string) string {
	return "room:" + roomId + ":jseq"
}

func roomMessagesKey(roomId string) string {
	return "room:" + roomId + ":messages"
}

func roomMessageSeqKey(roomId string) string {
	return "room:" + roomId + ":mseq"
}

func interestRoomsKey(tag string) string {
	return "interest:" + tag + ":rooms"
}

func userKey(userId string) string {
	return "user:" + userId
}

func userInterestsKey(userId string) string {
	return "user:" + userId + ":interests"
}

func userChatsKey(userId string) string {
	return "user:" + userId + ":chats"
}
