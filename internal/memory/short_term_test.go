package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/chatbuddy/internal/models"
)

func TestShortTermAppendThenGet(t *testing.T) {
	for name, newStore := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newClock(testNow)
			s := newTestShortTerm(t, newStore(t), ShortTermOptions{MaxMessages: 3, Timeout: 30 * time.Minute, CacheSize: 10}, c)

			for i := 1; i <= 5; i++ {
				require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, fmt.Sprintf("消息%d", i), "小明"))
				c.Advance(time.Second)

				msgs, err := s.Get(ctx, "group_1")
				require.NoError(t, err)
				assert.LessOrEqual(t, len(msgs), 3)
				assert.Equal(t, fmt.Sprintf("消息%d", i), msgs[len(msgs)-1].Content)
			}

			msgs, err := s.Get(ctx, "group_1")
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, "消息3", msgs[0].Content)
			assert.Equal(t, "小明", msgs[0].Name)

			rec, err := s.Record(ctx, "group_1")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Len(t, rec.Messages, 3)
			assert.True(t, rec.LastActive.Equal(testNow.Add(4*time.Second)))
		})
	}
}

func TestShortTermExpiredRecordReadsEmpty(t *testing.T) {
	for name, newStore := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newClock(testNow)
			s := newTestShortTerm(t, newStore(t), ShortTermOptions{MaxMessages: 30, Timeout: 30 * time.Minute, CacheSize: 10}, c)

			require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "还有人吗", "小红"))
			c.Advance(31 * time.Minute)

			msgs, err := s.Get(ctx, "group_1")
			require.NoError(t, err)
			assert.Empty(t, msgs)

			rec, err := s.Record(ctx, "group_1")
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestShortTermAppendAfterExpiryStartsFresh(t *testing.T) {
	ctx := context.Background()
	c := newClock(testNow)
	store, _ := newTestRedisStore(t)
	s := newTestShortTerm(t, store, ShortTermOptions{MaxMessages: 30, Timeout: 30 * time.Minute, CacheSize: 10}, c)

	require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "旧消息", "小红"))
	c.Advance(time.Hour)
	require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "新消息", "小红"))

	msgs, err := s.Get(ctx, "group_1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "新消息", msgs[0].Content)
}

func TestShortTermCacheEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := newClock(testNow)
	store, _ := newTestRedisStore(t)
	s := newTestShortTerm(t, store, ShortTermOptions{MaxMessages: 30, Timeout: 30 * time.Minute, CacheSize: 2}, c)

	for _, key := range []string{"group_1", "group_2", "group_3"} {
		require.NoError(t, s.Append(ctx, key, models.RoleUser, "hi", "小明"))
	}

	cached, capacity := s.CacheStats()
	assert.Equal(t, 2, cached)
	assert.Equal(t, 2, capacity)

	// evicted from the cache, still durable
	msgs, err := s.Get(ctx, "group_1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestShortTermFormatPrefixesSenderName(t *testing.T) {
	ctx := context.Background()
	c := newClock(testNow)
	store, _ := newTestRedisStore(t)
	s := newTestShortTerm(t, store, ShortTermOptions{}, c)

	require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "你喜欢什么游戏？", "小明"))
	require.NoError(t, s.Append(ctx, "group_1", models.RoleAssistant, "最近在玩原神", "沉舟"))
	require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "匿名消息", ""))

	turns, err := s.Format(ctx, "group_1")
	require.NoError(t, err)
	assert.Equal(t, []models.ChatTurn{
		{Role: models.RoleUser, Content: "[小明]: 你喜欢什么游戏？"},
		{Role: models.RoleAssistant, Content: "最近在玩原神"},
		{Role: models.RoleUser, Content: "匿名消息"},
	}, turns)
}

func TestShortTermMalformedRecordIsMiss(t *testing.T) {
	ctx := context.Background()
	c := newClock(testNow)
	store, mr := newTestRedisStore(t)
	s := newTestShortTerm(t, store, ShortTermOptions{}, c)

	require.NoError(t, mr.Set("context:group_1", "{not json"))

	msgs, err := s.Get(ctx, "group_1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "重新开始", "小明"))
	rec, err := s.Record(ctx, "group_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Messages, 1)
}

func TestShortTermClear(t *testing.T) {
	for name, newStore := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestShortTerm(t, newStore(t), ShortTermOptions{}, newClock(testNow))

			require.NoError(t, s.Append(ctx, "group_1", models.RoleUser, "hi", "小明"))
			require.NoError(t, s.Clear(ctx, "group_1"))

			msgs, err := s.Get(ctx, "group_1")
			require.NoError(t, err)
			assert.Empty(t, msgs)
			cached, _ := s.CacheStats()
			assert.Zero(t, cached)
		})
	}
}

func TestShortTermClearAll(t *testing.T) {
	for name, newStore := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestShortTerm(t, newStore(t), ShortTermOptions{}, newClock(testNow))

			for _, key := range []string{"group_1", "group_2", "private_20002"} {
				require.NoError(t, s.Append(ctx, key, models.RoleUser, "hi", "小明"))
			}
			n, err := s.ClearAll(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 3, n)

			for _, key := range []string{"group_1", "group_2", "private_20002"} {
				rec, err := s.Record(ctx, key)
				require.NoError(t, err)
				assert.Nil(t, rec, key)
			}
			cached, _ := s.CacheStats()
			assert.Zero(t, cached)

			n, err = s.ClearAll(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestRedisStoreSetsTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	_, err := store.Update(ctx, "group_1", func(*ContextRecord) (*ContextRecord, error) {
		return &ContextRecord{LastActive: testNow}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL("context:group_1"))

	mr.FastForward(31 * time.Minute)
	_, err = store.Load(ctx, "group_1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
