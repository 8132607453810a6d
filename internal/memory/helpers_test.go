package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeEmbedder returns fixed vectors per text and fails for unknown text.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("embedding service unavailable")
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStoreFromClient(client, 30*time.Minute, nil), mr
}

// recordStores yields each durable backend under a subtest name.
func recordStores(t *testing.T) map[string]func(t *testing.T) RecordStore {
	return map[string]func(t *testing.T) RecordStore{
		"redis": func(t *testing.T) RecordStore {
			s, _ := newTestRedisStore(t)
			return s
		},
		"sqlite": func(t *testing.T) RecordStore {
			return NewSQLRecordStore(openTestDB(t), nil)
		},
	}
}

func newTestShortTerm(t *testing.T, store RecordStore, opts ShortTermOptions, c *clock) *ShortTermStore {
	t.Helper()
	s, err := NewShortTermStore(store, opts, nil)
	require.NoError(t, err)
	s.now = c.Now
	return s
}
