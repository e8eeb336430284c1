package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/teris-io/shortid"
	"github.com/topicchat/server/internal/types"
)

// RedisRoomRepository is the source of truth for room existence,
// membership and interest indexing. A room record spans three
// structures: the room hash, the global active-room index and one
// interest index per tag. Writes go through MULTI/EXEC where they span
// keys; reads tolerate a partially indexed room by skipping ids whose
// hash is gone.
type RedisRoomRepository struct {
	store *Store
}

func NewRoomRepository(store *Store) *RedisRoomRepository {
	return &RedisRoomRepository{store: store}
}

func (r *RedisRoomRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.ChatRoom, error) {
	roomId, err := shortid.Generate()
	if err != nil {
		return types.ChatRoom{}, fmt.Errorf("generate room id: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	room := types.ChatRoom{
		Id:               roomId,
		Title:            params.Title,
		Topic:            params.Topic,
		CreatorId:        params.CreatorId,
		CreatorUsername:  params.CreatorUsername,
		Participants:     []string{params.CreatorId},
		ParticipantCount: 1,
		Interests:        params.Interests,
		IsActive:         true,
		CreatedAt:        now,
		LastActivity:     now,
	}

	pipe := r.store.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(roomId), roomToHash(room))
	pipe.ZAdd(ctx, roomParticipantsKey(roomId), redis.Z{Score: 1, Member: params.CreatorId})
	pipe.Set(ctx, roomJoinSeqKey(roomId), 1, 0)
	pipe.ZAdd(ctx, activeRoomsKey, redis.Z{Score: float64(now.UnixMilli()), Member: roomId})
	for _, tag := range params.Interests {
		pipe.SAdd(ctx, interestRoomsKey(tag), roomId)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.ChatRoom{}, fmt.Errorf("create room %q: %w", roomId, err)
	}

	return room, nil
}

func (r *RedisRoomRepository) GetRoom(ctx context.Context, roomId string) (types.ChatRoom, error) {
	vals, err := r.store.rdb.HGetAll(ctx, roomKey(roomId)).Result()
	if err != nil {
		return types.ChatRoom{}, fmt.Errorf("get room %q: %w", roomId, err)
	}
	if len(vals) == 0 {
		return types.ChatRoom{}, ErrNotFound
	}

	participants, err := r.store.rdb.ZRange(ctx, roomParticipantsKey(roomId), 0, -1).Result()
	if err != nil {
		return types.ChatRoom{}, fmt.Errorf("get participants for room %q: %w", roomId, err)
	}

	return roomFromHash(roomId, vals, participants), nil
}

func (r *RedisRoomRepository) GetActiveRooms(ctx context.Context) ([]types.ChatRoom, error) {
	ids, err := r.store.rdb.ZRevRange(ctx, activeRoomsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}

	rooms, err := r.loadRooms(ctx, ids)
	if err != nil {
		return nil, err
	}

	return lo.Filter(rooms, func(room types.ChatRoom, _ int) bool {
		return room.IsActive
	}), nil
}

// GetRoomsByInterests returns the union of active rooms across the
// given tag indexes, ranked by descending count of tags matched and
// then by most recent activity.
func (r *RedisRoomRepository) GetRoomsByInterests(ctx context.Context, tags []string) ([]types.ChatRoom, error) {
	pipe := r.store.rdb.Pipeline()
	cmds := make(map[string]*redis.StringSliceCmd, len(tags))
	for _, tag := range lo.Uniq(tags) {
		cmds[tag] = pipe.SMembers(ctx, interestRoomsKey(tag))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read interest indexes: %w", err)
	}

	matches := make(map[string]int)
	for _, cmd := range cmds {
		for _, roomId := range cmd.Val() {
			matches[roomId]++
		}
	}

	rooms, err := r.loadRooms(ctx, lo.Keys(matches))
	if err != nil {
		return nil, err
	}

	active := lo.Filter(rooms, func(room types.ChatRoom, _ int) bool {
		return room.IsActive
	})

	sort.SliceStable(active, func(i, j int) bool {
		if matches[active[i].Id] != matches[active[j].Id] {
			return matches[active[i].Id] > matches[active[j].Id]
		}
		return active[i].LastActivity.After(active[j].LastActivity)
	})

	return active, nil
}

// JoinRoom adds userId to the room's participant set. Re-joining an
// existing participant is a no-op success; the join itself is a single
// ZADD NX, so concurrent joiners cannot overwrite one another.
func (r *RedisRoomRepository) JoinRoom(ctx context.Context, roomId, userId string) error {
	if err := r.requireActiveRoom(ctx, roomId); err != nil {
		return err
	}

	seq, err := r.store.rdb.Incr(ctx, roomJoinSeqKey(roomId)).Result()
	if err != nil {
		return fmt.Errorf("next join seq for room %q: %w", roomId, err)
	}

	added, err := r.store.rdb.ZAddNX(ctx, roomParticipantsKey(roomId), redis.Z{
		Score:  float64(seq),
		Member: userId,
	}).Result()
	if err != nil {
		return fmt.Errorf("join room %q: %w", roomId, err)
	}
	if added == 0 {
		// already a participant
		return nil
	}

	return r.TouchActivity(ctx, roomId, time.Now().UTC())
}

// LeaveRoom removes userId from the room's participants. When the last
// participant leaves, the room is deactivated: dropped from the active
// index and every interest index, while its record and message log stay
// behind until an explicit delete.
func (r *RedisRoomRepository) LeaveRoom(ctx context.Context, roomId, userId string) error {
	exists, err := r.store.rdb.Exists(ctx, roomKey(roomId)).Result()
	if err != nil {
		return fmt.Errorf("check room %q: %w", roomId, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	removed, err := r.store.rdb.ZRem(ctx, roomParticipantsKey(roomId), userId).Result()
	if err != nil {
		return fmt.Errorf("leave room %q: %w", roomId, err)
	}
	if removed == 0 {
		return nil
	}

	count, err := r.store.rdb.ZCard(ctx, roomParticipantsKey(roomId)).Result()
	if err != nil {
		return fmt.Errorf("count participants for room %q: %w", roomId, err)
	}
	if count == 0 {
		return r.deactivate(ctx, roomId)
	}

	return r.TouchActivity(ctx, roomId, time.Now().UTC())
}

// DeleteRoom permanently removes a room. Only the creator may delete;
// the caller is responsible for purging the message log alongside.
func (r *RedisRoomRepository) DeleteRoom(ctx context.Context, roomId, requesterId string) error {
	vals, err := r.store.rdb.HGetAll(ctx, roomKey(roomId)).Result()
	if err != nil {
		return fmt.Errorf("get room %q: %w", roomId, err)
	}
	if len(vals) == 0 {
		return ErrNotFound
	}
	if vals["creator_id"] != requesterId {
		return ErrForbidden
	}

	if err := r.deactivate(ctx, roomId); err != nil {
		return err
	}

	if err := r.store.rdb.Del(ctx,
		roomKey(roomId),
		roomParticipantsKey(roomId),
		roomJoinSeqKey(roomId),
	).Err(); err != nil {
		return fmt.Errorf("delete room %q: %w", roomId, err)
	}

	return nil
}

// SearchRooms matches the query case-insensitively against title, topic
// and interest tag ids of active rooms.
func (r *RedisRoomRepository) SearchRooms(ctx context.Context, query string) ([]types.ChatRoom, error) {
	rooms, err := r.GetActiveRooms(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	return lo.Filter(rooms, func(room types.ChatRoom, _ int) bool {
		if strings.Contains(strings.ToLower(room.Title), q) ||
			strings.Contains(strings.ToLower(room.Topic), q) {
			return true
		}
		return lo.SomeBy(room.Interests, func(tag string) bool {
			return strings.Contains(strings.ToLower(tag), q)
		})
	}), nil
}

func (r *RedisRoomRepository) IsParticipant(ctx context.Context, roomId, userId string) (bool, error) {
	err := r.store.rdb.ZScore(ctx, roomParticipantsKey(roomId), userId).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check participant in room %q: %w", roomId, err)
	}
	return true, nil
}

// TouchActivity bumps the room's last-activity time in the hash and the
// active index. ZADD XX keeps a deactivated room out of the index.
func (r *RedisRoomRepository) TouchActivity(ctx context.Context, roomId string, t time.Time) error {
	ms := t.UTC().Truncate(time.Millisecond).UnixMilli()

	pipe := r.store.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(roomId), "last_activity", ms)
	pipe.ZAddXX(ctx, activeRoomsKey, redis.Z{Score: float64(ms), Member: roomId})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch activity for room %q: %w", roomId, err)
	}

	return nil
}

func (r *RedisRoomRepository) CountRoomsByInterest(ctx context.Context, tag string) (int, error) {
	count, err := r.store.rdb.SCard(ctx, interestRoomsKey(tag)).Result()
	if err != nil {
		return 0, fmt.Errorf("count rooms for interest %q: %w", tag, err)
	}
	return int(count), nil
}

func (r *RedisRoomRepository) requireActiveRoom(ctx context.Context, roomId string) error {
	isActive, err := r.store.rdb.HGet(ctx, roomKey(roomId), "is_active").Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check room %q: %w", roomId, err)
	}
	if isActive != "1" {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRoomRepository) deactivate(ctx context.Context, roomId string) error {
	tags, err := r.store.rdb.HGet(ctx, roomKey(roomId), "interests").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get interests for room %q: %w", roomId, err)
	}

	pipe := r.store.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(roomId), "is_active", "0")
	pipe.ZRem(ctx, activeRoomsKey, roomId)
	for _, tag := range splitTags(tags) {
		pipe.SRem(ctx, interestRoomsKey(tag), roomId)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deactivate room %q: %w", roomId, err)
	}

	return nil
}

// loadRooms fetches room hashes and participant sets for the given ids
// in one round trip, skipping ids whose record no longer exists.
func (r *RedisRoomRepository) loadRooms(ctx context.Context, ids []string) ([]types.ChatRoom, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.store.rdb.Pipeline()
	hashCmds := make([]*redis.MapStringStringCmd, len(ids))
	partCmds := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		hashCmds[i] = pipe.HGetAll(ctx, roomKey(id))
		partCmds[i] = pipe.ZRange(ctx, roomParticipantsKey(id), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	rooms := make([]types.ChatRoom, 0, len(ids))
	for i, id := range ids {
		vals := hashCmds[i].Val()
		if len(vals) == 0 {
			// dangling index entry, reconcile by skipping
			continue
		}
		rooms = append(rooms, roomFromHash(id, vals, partCmds[i].Val()))
	}

	return rooms, nil
}

func roomToHash(room types.ChatRoom) map[string]any {
	return map[string]any{
		"title":            room.Title,
		"topic":            room.Topic,
		"creator_id":       room.CreatorId,
		"creator_username": room.CreatorUsername,
		"interests":        strings.Join(room.Interests, ","),
		"is_active":        boolToFlag(room.IsActive),
		"created_at":       room.CreatedAt.UnixMilli(),
		"last_activity":    room.LastActivity.UnixMilli(),
	}
}

func roomFromHash(roomId string, vals map[string]string, participants []string) types.ChatRoom {
	return types.ChatRoom{
		Id:               roomId,
		Title:            vals["title"],
		Topic:            vals["topic"],
		CreatorId:        vals["creator_id"],
		CreatorUsername:  vals["creator_username"],
		Participants:     participants,
		ParticipantCount: len(participants),
		Interests:        splitTags(vals["interests"]),
		IsActive:         vals["is_active"] == "1",
		CreatedAt:        timeFromMillis(vals["created_at"]),
		LastActivity:     timeFromMillis(vals["last_activity"]),
	}
}

func splitTags(tags string) []string {
	if tags == "" {
		return nil
	}
	return strings.Split(tags, ",")
}

func boolToFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeFromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
