package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/topicchat/server/internal/types"
)

const maxUserInterests = 5

// RedisUserRepository stores interest preferences and the denormalized
// active-chat cache. Room membership stays authoritative in the room
// repository; the chat set here is only a fast path for profile
// display.
type RedisUserRepository struct {
	store *Store
}

func NewUserRepository(store *Store) *RedisUserRepository {
	return &RedisUserRepository{store: store}
}

// CreateOrUpdateProfile upserts a profile. Fields not supplied are
// preserved: a nil interest slice keeps the stored set, and created_at
// is only written on first contact.
func (u *RedisUserRepository) CreateOrUpdateProfile(ctx context.Context, params UpsertProfileParams) (types.UserProfile, error) {
	if params.Interests != nil {
		if err := u.SetInterests(ctx, params.UserId, params.Interests); err != nil {
			return types.UserProfile{}, err
		}
	}

	key := userKey(params.UserId)
	pipe := u.store.rdb.TxPipeline()
	pipe.HSet(ctx, key, "username", params.Username)
	pipe.HSetNX(ctx, key, "created_at", time.Now().UTC().UnixMilli())
	if _, err := pipe.Exec(ctx); err != nil {
		return types.UserProfile{}, fmt.Errorf("upsert profile %q: %w", params.UserId, err)
	}

	return u.GetProfile(ctx, params.UserId)
}

func (u *RedisUserRepository) GetProfile(ctx context.Context, userId string) (types.UserProfile, error) {
	vals, err := u.store.rdb.HGetAll(ctx, userKey(userId)).Result()
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("get profile %q: %w", userId, err)
	}
	if len(vals) == 0 {
		return types.UserProfile{}, ErrNotFound
	}

	interests, err := u.store.rdb.SMembers(ctx, userInterestsKey(userId)).Result()
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("get interests for %q: %w", userId, err)
	}

	chats, err := u.store.rdb.SMembers(ctx, userChatsKey(userId)).Result()
	if err != nil {
		return types.UserProfile{}, fmt.Errorf("get active chats for %q: %w", userId, err)
	}

	sort.Strings(interests)
	sort.Strings(chats)

	return types.UserProfile{
		Id:          userId,
		Username:    vals["username"],
		Interests:   interests,
		ActiveChats: chats,
		CreatedAt:   timeFromMillis(vals["created_at"]),
	}, nil
}

// SetInterests replaces the stored interest set wholesale.
func (u *RedisUserRepository) SetInterests(ctx context.Context, userId string, interests []string) error {
	if len(interests) > maxUserInterests {
		return fmt.Errorf("%w: at most %d interests allowed", ErrValidation, maxUserInterests)
	}

	key := userInterestsKey(userId)
	pipe := u.store.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(interests) > 0 {
		members := make([]any, len(interests))
		for i, tag := range interests {
			members[i] = tag
		}
		pipe.SAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set interests for %q: %w", userId, err)
	}

	return nil
}

func (u *RedisUserRepository) AddToActiveChats(ctx context.Context, userId, roomId string) error {
	if err := u.store.rdb.SAdd(ctx, userChatsKey(userId), roomId).Err(); err != nil {
		return fmt.Errorf("add chat %q for %q: %w", roomId, userId, err)
	}
	return nil
}

func (u *RedisUserRepository) RemoveFromActiveChats(ctx context.Context, userId, roomId string) error {
	if err := u.store.rdb.SRem(ctx, userChatsKey(userId), roomId).Err(); err != nil {
		return fmt.Errorf("remove chat %q for %q: %w", roomId, userId, err)
	}
	return nil
}
