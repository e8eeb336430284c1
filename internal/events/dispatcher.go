package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/topicchat/server/internal/types"
)

// Dispatcher publishes typed state-change events after the
// corresponding store mutation has committed. Publication is
// fire-and-forget: no delivery guarantee, no retry, and failures never
// affect the originating operation.
type Dispatcher interface {
	RoomCreated(ctx context.Context, room types.ChatRoom)
	RoomDeleted(ctx context.Context, roomId, userId, username string)
	UserJoined(ctx context.Context, roomId, userId, username string)
	UserLeft(ctx context.Context, roomId, userId, username string)
	MessageSent(ctx context.Context, msg types.Message)
}

type RedisDispatcher struct {
	rdb *redis.Client
	log *log.Logger
}

func NewRedisDispatcher(rdb *redis.Client, logger *log.Logger) *RedisDispatcher {
	return &RedisDispatcher{rdb: rdb, log: logger}
}

func (d *RedisDispatcher) RoomCreated(ctx context.Context, room types.ChatRoom) {
	d.publish(ctx, Event{
		Type:      EventRoomCreated,
		RoomId:    room.Id,
		UserId:    room.CreatorId,
		Username:  room.CreatorUsername,
		Timestamp: now(),
	}, DiscoveryChannel)
}

func (d *RedisDispatcher) RoomDeleted(ctx context.Context, roomId, userId, username string) {
	d.publish(ctx, Event{
		Type:      EventRoomDeleted,
		RoomId:    roomId,
		UserId:    userId,
		Username:  username,
		Timestamp: now(),
	}, DiscoveryChannel, RoomChannel(roomId))
}

func (d *RedisDispatcher) UserJoined(ctx context.Context, roomId, userId, username string) {
	d.publish(ctx, Event{
		Type:      EventUserJoined,
		RoomId:    roomId,
		UserId:    userId,
		Username:  username,
		Timestamp: now(),
	}, RoomChannel(roomId), UserChannel(userId))
}

func (d *RedisDispatcher) UserLeft(ctx context.Context, roomId, userId, username string) {
	d.publish(ctx, Event{
		Type:      EventUserLeft,
		RoomId:    roomId,
		UserId:    userId,
		Username:  username,
		Timestamp: now(),
	}, RoomChannel(roomId), UserChannel(userId))
}

func (d *RedisDispatcher) MessageSent(ctx context.Context, msg types.Message) {
	d.publish(ctx, Event{
		Type:      EventMessage,
		RoomId:    msg.ChatRoomId,
		UserId:    msg.UserId,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}, RoomChannel(msg.ChatRoomId))
}

// publish sends the event to each channel, logging and swallowing
// failures. The caller's mutation has already committed; losing a live
// notification is acceptable, rolling back the write is not.
func (d *RedisDispatcher) publish(ctx context.Context, event Event, channels ...string) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.log.Printf("marshal %s event: %v", event.Type, err)
		return
	}

	for _, channel := range channels {
		if err := d.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			d.log.Printf("publish %s event to %q: %v", event.Type, channel, err)
		}
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
