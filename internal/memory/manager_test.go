package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/chatbuddy/internal/models"
)

type managerFixture struct {
	m        *Manager
	embedder *fakeEmbedder
	clock    *clock
}

func newManagerFixture(t *testing.T, vectors map[string][]float32) *managerFixture {
	t.Helper()
	db := openTestDB(t)
	c := newClock(testNow)
	store, _ := newTestRedisStore(t)
	st := newTestShortTerm(t, store, ShortTermOptions{MaxMessages: 30, Timeout: 30 * time.Minute, CacheSize: 10}, c)
	emb := &fakeEmbedder{vectors: vectors}
	m := NewManager(st, NewEventLog(db), NewSemanticIndex(db, emb, time.Second, nil),
		ManagerOptions{SemanticEnabled: true, SearchResults: 5, DistanceCutoff: 0.5}, nil)
	m.now = c.Now
	return &managerFixture{m: m, embedder: emb, clock: c}
}

func TestManagerAddMessageWritesAllLayers(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{"我喜欢玩原神": {1, 0}})

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "我喜欢玩原神", "u1", "小明"))
	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleAssistant, "我也是", "bot", "沉舟"))
	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "   ", "u1", "小明"))

	history, err := f.m.History(ctx, "group_1")
	require.NoError(t, err)
	assert.Len(t, history, 3)

	stats, err := f.m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SemanticEntries, "only non-blank user messages are indexed")
	require.Len(t, stats.Conversations, 1)
	assert.Equal(t, 2, stats.Conversations[0].UserMessages)
	assert.Equal(t, 1, stats.Conversations[0].BotMessages)
	assert.Equal(t, 1, stats.CachedConversations)
	assert.Equal(t, 1, f.embedder.calls)
}

func TestManagerEmbeddingFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{})

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "没有向量", "u1", "小明"))

	history, err := f.m.History(ctx, "group_1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stats, err := f.m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SemanticEntries)
}

func TestManagerContextInjectsNearMemories(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{
		"我喜欢玩原神": {1, 0},
		"今天吃了火锅": {0, 1},
		"打什么游戏":  {1, 0},
	})

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "我喜欢玩原神", "u1", "小明"))
	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "今天吃了火锅", "u2", "小红"))

	turns, err := f.m.GetContextForModel(ctx, "group_1", "打什么游戏")
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, models.RoleSystem, turns[0].Role)
	assert.Equal(t, "[相关记忆]\n- 小明: 我喜欢玩原神 (2026-10-16)", turns[0].Content)
	assert.Equal(t, "[小红]: 今天吃了火锅", turns[1].Content)
}

func TestManagerContextSkipsMessagesInWindow(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{
		"今天天气真好": {1, 0},
		"天气怎么样":  {0.9, 0.1},
	})

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "今天天气真好", "u1", "小明"))

	turns, err := f.m.GetContextForModel(ctx, "group_1", "今天天气真好")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "[小明]: 今天天气真好", turns[0].Content)

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "天气怎么样", "u2", "小红"))
	turns, err = f.m.GetContextForModel(ctx, "group_1", "天气怎么样")
	require.NoError(t, err)
	for _, turn := range turns {
		assert.NotContains(t, turn.Content, "[相关记忆]")
	}
}

func TestManagerContextSkipsDistantMemories(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{
		"今天吃了火锅": {0, 1},
		"周末去打球":  {-0.6, 0.8},
		"打什么游戏":  {1, 0},
	})

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "今天吃了火锅", "u2", "小红"))
	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "周末去打球", "u1", "小明"))

	turns, err := f.m.GetContextForModel(ctx, "group_1", "打什么游戏")
	require.NoError(t, err)
	for _, turn := range turns {
		assert.NotEqual(t, models.RoleSystem, turn.Role)
		assert.NotContains(t, turn.Content, "[相关记忆]")
	}
	assert.Len(t, turns, 2)
}

func TestManagerContextIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{
		"我喜欢玩原神": {1, 0},
		"今天吃了火锅": {0, 1},
		"打什么游戏":  {0.9, 0.1},
	})
	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "我喜欢玩原神", "u1", "小明"))
	f.clock.Advance(31 * time.Minute)
	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "今天吃了火锅", "u2", "小红"))

	first, err := f.m.GetContextForModel(ctx, "group_1", "打什么游戏")
	require.NoError(t, err)
	require.Len(t, first, 2)
	second, err := f.m.GetContextForModel(ctx, "group_1", "打什么游戏")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	noQuery, err := f.m.GetContextForModel(ctx, "group_1", "")
	require.NoError(t, err)
	assert.Len(t, noQuery, 1)
}

func TestManagerReset(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[string][]float32{"你好": {1, 1}})

	require.NoError(t, f.m.AddMessage(ctx, "group_1", models.RoleUser, "你好", "u1", "小明"))
	require.NoError(t, f.m.AddMessage(ctx, "group_2", models.RoleUser, "你好", "u2", "小红"))

	cleared, err := f.m.Reset(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cleared)

	for _, key := range []string{"group_1", "group_2"} {
		history, err := f.m.History(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, history, key)
	}

	stats, err := f.m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SemanticEntries)
	assert.Empty(t, stats.Conversations)
}
