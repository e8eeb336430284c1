package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/topicchat/server/internal/testutil"
	"github.com/topicchat/server/internal/types"
)

func newTestMessageRepo(t *testing.T, retention int) *RedisMessageRepository {
	t.Helper()
	client, _ := testutil.TestRedis(t)
	return NewMessageRepository(NewStoreWithClient(client), retention)
}

func seedMessages(t *testing.T, repo *RedisMessageRepository, roomId string, n int, base time.Time) []types.Message {
	t.Helper()
	messages := make([]types.Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := repo.CreateMessage(context.Background(), CreateMessageParams{
			RoomId:    roomId,
			UserId:    "user-1",
			Username:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
		messages = append(messages, msg)
	}
	return messages
}

func TestCreateMessage(t *testing.T) {
	repo := newTestMessageRepo(t, 0)
	ctx := context.Background()

	msg, err := repo.CreateMessage(ctx, CreateMessageParams{
		RoomId:   "room-1",
		UserId:   "user-1",
		Username: "alice",
		Content:  "hello there",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.Id, "expected generated message id")
	assert.Equal(t, "room-1", msg.ChatRoomId)
	assert.Equal(t, "alice", msg.Username)
	assert.False(t, msg.Timestamp.IsZero(), "expected timestamp to default to now")
	assert.Equal(t, msg.Timestamp, msg.Timestamp.Truncate(time.Millisecond), "expected millisecond precision")

	got, err := repo.GetMessages(ctx, "room-1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0], "expected stored message to round-trip")
}

func TestCreateMessage_retentionCap(t *testing.T) {
	repo := newTestMessageRepo(t, 100)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	seeded := seedMessages(t, repo, "room-1", 105, base)

	got, err := repo.GetMessages(ctx, "room-1", 100, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 100, "expected log capped at retention")

	assert.Equal(t, seeded[104].Id, got[0].Id, "expected newest message first")
	assert.Equal(t, seeded[5].Id, got[99].Id, "expected the five oldest messages evicted")
}

func TestGetMessages_paginationRoundTrip(t *testing.T) {
	repo := newTestMessageRepo(t, 200)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	seeded := seedMessages(t, repo, "room-1", 120, base)

	var collected []types.Message
	var cursor time.Time
	for {
		page, err := repo.GetMessages(ctx, "room-1", 50, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		cursor = page[len(page)-1].Timestamp
	}

	require.Len(t, collected, 120, "expected every message exactly once across pages")
	for i, msg := range collected {
		assert.Equal(t, seeded[119-i].Id, msg.Id, "expected global newest-first order across pages")
	}
}

func TestGetMessages_limitClamped(t *testing.T) {
	repo := newTestMessageRepo(t, 200)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	seedMessages(t, repo, "room-1", 120, base)

	got, err := repo.GetMessages(ctx, "room-1", 500, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 100, "expected limit clamped to the page size cap")

	got, err = repo.GetMessages(ctx, "room-1", 0, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 50, "expected default page size")
}

func TestMessageOrder_sameMillisecond(t *testing.T) {
	repo := newTestMessageRepo(t, 0)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := repo.CreateMessage(ctx, CreateMessageParams{
			RoomId:    "room-1",
			UserId:    "user-1",
			Username:  "alice",
			Content:   fmt.Sprintf("burst %d", i),
			Timestamp: ts,
		})
		require.NoError(t, err)
		ids = append(ids, msg.Id)
	}

	asc, err := repo.GetMessagesAfter(ctx, "room-1", ts.Add(-time.Millisecond))
	require.NoError(t, err)
	require.Len(t, asc, 3)
	for i := range ids {
		assert.Equal(t, ids[i], asc[i].Id, "expected insertion order for equal timestamps")
	}

	desc, err := repo.GetMessages(ctx, "room-1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, desc, 3)
	for i := range ids {
		assert.Equal(t, ids[2-i], desc[i].Id, "expected reverse insertion order newest-first")
	}
}

func TestGetMessagesAfter(t *testing.T) {
	repo := newTestMessageRepo(t, 0)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	seeded := seedMessages(t, repo, "room-1", 5, base)

	got, err := repo.GetMessagesAfter(ctx, "room-1", seeded[2].Timestamp)
	require.NoError(t, err)
	require.Len(t, got, 2, "expected only messages strictly newer than the cursor")
	assert.Equal(t, seeded[3].Id, got[0].Id)
	assert.Equal(t, seeded[4].Id, got[1].Id)
}

func TestDeleteMessage(t *testing.T) {
	repo := newTestMessageRepo(t, 0)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	seeded := seedMessages(t, repo, "room-1", 3, base)

	require.NoError(t, repo.DeleteMessage(ctx, "room-1", seeded[1].Id))

	got, err := repo.GetMessages(ctx, "room-1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, seeded[2].Id, got[0].Id)
	assert.Equal(t, seeded[0].Id, got[1].Id)

	err = repo.DeleteMessage(ctx, "room-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAllMessages(t *testing.T) {
	repo := newTestMessageRepo(t, 0)
	ctx := context.Background()

	seedMessages(t, repo, "room-1", 3, time.Now().UTC().Truncate(time.Millisecond))

	require.NoError(t, repo.DeleteAllMessages(ctx, "room-1"))

	got, err := repo.GetMessages(ctx, "room-1", 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got, "expected empty log after purge")
}
