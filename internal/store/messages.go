package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/topicchat/server/internal/types"
)

const (
	// DefaultMessageRetention is the per-room hard cap; the oldest
	// entries are evicted as soon as an insert exceeds it.
	DefaultMessageRetention = 100

	maxMessagePageSize     = 100
	defaultMessagePageSize = 50
)

// RedisMessageRepository keeps one time-ordered log per room in a
// sorted set. The score is the message timestamp in unix milliseconds;
// members carry a zero-padded per-room sequence prefix so that equal
// timestamps fall back to insertion order (equal-score members sort
// lexically).
type RedisMessageRepository struct {
	store     *Store
	retention int
}

func NewMessageRepository(store *Store, retention int) *RedisMessageRepository {
	if retention <= 0 {
		retention = DefaultMessageRetention
	}
	return &RedisMessageRepository{store: store, retention: retention}
}

func (m *RedisMessageRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	ts := params.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC().Truncate(time.Millisecond)

	msg := types.Message{
		Id:         uuid.NewString(),
		ChatRoomId: params.RoomId,
		UserId:     params.UserId,
		Username:   params.Username,
		Content:    params.Content,
		Timestamp:  ts,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return types.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	seq, err := m.store.rdb.Incr(ctx, roomMessageSeqKey(params.RoomId)).Result()
	if err != nil {
		return types.Message{}, fmt.Errorf("next message seq for room %q: %w", params.RoomId, err)
	}

	key := roomMessagesKey(params.RoomId)
	pipe := m.store.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: encodeMember(seq, data),
	})
	// hard retention cap: drop the oldest excess entries immediately
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-m.retention-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return types.Message{}, fmt.Errorf("save message in room %q: %w", params.RoomId, err)
	}

	return msg, nil
}

// GetMessages returns up to limit messages newest-first, optionally
// restricted to messages strictly older than before. Callers paginate
// backwards by passing the oldest timestamp seen as the next cursor.
func (m *RedisMessageRepository) GetMessages(ctx context.Context, roomId string, limit int, before time.Time) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	if limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}

	max := "+inf"
	if !before.IsZero() {
		max = "(" + strconv.FormatInt(before.UTC().UnixMilli(), 10)
	}

	members, err := m.store.rdb.ZRevRangeByScore(ctx, roomMessagesKey(roomId), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    max,
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages for room %q: %w", roomId, err)
	}

	return decodeMembers(members)
}

// GetMessagesAfter returns all messages strictly newer than after in
// ascending order. Used for catch-up after a transport reconnect; the
// result is naturally bounded by the retention cap.
func (m *RedisMessageRepository) GetMessagesAfter(ctx context.Context, roomId string, after time.Time) ([]types.Message, error) {
	members, err := m.store.rdb.ZRangeByScore(ctx, roomMessagesKey(roomId), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after.UTC().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages after cursor for room %q: %w", roomId, err)
	}

	return decodeMembers(members)
}

// DeleteMessage removes a single message by id. The log is scanned for
// the matching member; moderation removals are rare enough that the
// linear walk over a capped log is acceptable.
func (m *RedisMessageRepository) DeleteMessage(ctx context.Context, roomId, messageId string) error {
	key := roomMessagesKey(roomId)
	members, err := m.store.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan messages for room %q: %w", roomId, err)
	}

	for _, member := range members {
		msg, err := decodeMember(member)
		if err != nil {
			continue
		}
		if msg.Id == messageId {
			if err := m.store.rdb.ZRem(ctx, key, member).Err(); err != nil {
				return fmt.Errorf("delete message %q: %w", messageId, err)
			}
			return nil
		}
	}

	return ErrNotFound
}

// DeleteAllMessages destroys a room's log. Called only as part of room
// deletion.
func (m *RedisMessageRepository) DeleteAllMessages(ctx context.Context, roomId string) error {
	if err := m.store.rdb.Del(ctx,
		roomMessagesKey(roomId),
		roomMessageSeqKey(roomId),
	).Err(); err != nil {
		return fmt.Errorf("delete messages for room %q: %w", roomId, err)
	}
	return nil
}

func encodeMember(seq int64, data []byte) string {
	return fmt.Sprintf("%020d|%s", seq, data)
}

func decodeMember(member string) (types.Message, error) {
	i := strings.IndexByte(member, '|')
	if i < 0 {
		return types.Message{}, fmt.Errorf("malformed log entry")
	}

	var msg types.Message
	if err := json.Unmarshal([]byte(member[i+1:]), &msg); err != nil {
		return types.Message{}, fmt.Errorf("unmarshal log entry: %w", err)
	}
	return msg, nil
}

func decodeMembers(members []string) ([]types.Message, error) {
	messages := make([]types.Message, 0, len(members))
	for _, member := range members {
		msg, err := decodeMember(member)
		if err != nil {
			// skip entries that cannot be decoded
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
