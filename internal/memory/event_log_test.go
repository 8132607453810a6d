package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogRecordAndStats(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))

	entries := []LogEntry{
		{ConversationKey: "group_1", SenderID: "u1", SenderName: "小明", Content: "早", Timestamp: testNow},
		{ConversationKey: "group_1", SenderID: "bot", SenderName: "沉舟", Content: "早啊", IsBot: true, Timestamp: testNow.Add(time.Second)},
		{ConversationKey: "private_9", SenderID: "u9", SenderName: "阿九", Content: "在吗", Timestamp: testNow.Add(time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, log.Record(ctx, e))
	}

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "private_9", stats[0].ConversationKey)
	assert.Equal(t, "group_1", stats[1].ConversationKey)
	assert.Equal(t, 1, stats[1].UserMessages)
	assert.Equal(t, 1, stats[1].BotMessages)
	assert.True(t, stats[1].FirstAt.Equal(testNow))
	assert.True(t, stats[1].LastAt.Equal(testNow.Add(time.Second)))

	recent, err := log.Recent(ctx, "group_1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "早", recent[0].Content)
	assert.True(t, recent[1].IsBot)
}

func TestEventLogWipe(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(openTestDB(t))

	require.NoError(t, log.Record(ctx, LogEntry{ConversationKey: "group_1", SenderID: "u1", Content: "hi"}))
	require.NoError(t, log.Record(ctx, LogEntry{ConversationKey: "group_1", SenderID: "u1", Content: "hi again"}))

	n, err := log.Wipe(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestOpenDBIsIdempotent(t *testing.T) {
	path := t.TempDir() + "/chatbuddy.db"

	db, err := OpenDB(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(path, nil)
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 3, version)
}
