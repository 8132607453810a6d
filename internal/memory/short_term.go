package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/avvvet/chatbuddy/internal/models"
)

// ShortTermOptions bounds the short-term context.
type ShortTermOptions struct {
	MaxMessages int           // most recent messages kept per conversation
	Timeout     time.Duration // idle time after which a record is discarded
	CacheSize   int           // conversations mirrored in memory
}

// ShortTermStore keeps the most recent messages of each conversation in a
// durable RecordStore, mirrored in an LRU cache.
type ShortTermStore struct {
	store  RecordStore
	cache  *lru.Cache[string, *ContextRecord]
	opts   ShortTermOptions
	now    func() time.Time
	logger *slog.Logger
}

func NewShortTermStore(store RecordStore, opts ShortTermOptions, logger *slog.Logger) (*ShortTermStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10
	}

	cache, err := lru.New[string, *ContextRecord](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create context cache: %w", err)
	}

	return &ShortTermStore{
		store:  store,
		cache:  cache,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Get returns the live messages of a conversation, oldest first.
// An expired record reads as empty and is removed from the durable store.
func (s *ShortTermStore) Get(ctx context.Context, key string) ([]Message, error) {
	now := s.now()

	if rec, ok := s.cache.Get(key); ok {
		if !rec.Expired(now, s.opts.Timeout) {
			return append([]Message(nil), rec.Messages...), nil
		}
		s.cache.Remove(key)
	}

	rec, err := s.store.Load(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.Expired(now, s.opts.Timeout) {
		s.logger.Debug("context expired", "conversation_key", key, "last_active", rec.LastActive)
		if err := s.store.Delete(ctx, key); err != nil {
			return nil, err
		}
		return []Message{}, nil
	}

	s.cache.Add(key, rec.clone())
	return append([]Message(nil), rec.Messages...), nil
}

// Append adds one message and truncates the conversation to the most recent MaxMessages.
func (s *ShortTermStore) Append(ctx context.Context, key string, role models.Role, content, name string) error {
	now := s.now()

	rec, err := s.store.Update(ctx, key, func(current *ContextRecord) (*ContextRecord, error) {
		if current == nil || current.Expired(now, s.opts.Timeout) {
			current = &ContextRecord{ConversationKey: key}
		}

		msg := Message{Role: role, Content: content, Timestamp: now}
		if role == models.RoleUser {
			msg.Name = name
		}
		current.Messages = append(current.Messages, msg)
		if over := len(current.Messages) - s.opts.MaxMessages; over > 0 {
			current.Messages = append([]Message(nil), current.Messages[over:]...)
		}
		current.LastActive = now
		return current, nil
	})
	if err != nil {
		s.cache.Remove(key)
		return err
	}

	s.cache.Add(key, rec.clone())
	return nil
}

// Clear removes a conversation from the cache and the durable store.
func (s *ShortTermStore) Clear(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return s.store.Delete(ctx, key)
}

// ClearAll removes every conversation and returns how many durable records were removed.
func (s *ShortTermStore) ClearAll(ctx context.Context) (int64, error) {
	s.cache.Purge()
	return s.store.DeleteAll(ctx)
}

// Format renders the context as model turns; named user turns become "[name]: content".
func (s *ShortTermStore) Format(ctx context.Context, key string) ([]models.ChatTurn, error) {
	msgs, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return formatMessages(msgs), nil
}

func formatMessages(msgs []Message) []models.ChatTurn {
	turns := make([]models.ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if m.Role == models.RoleUser && m.Name != "" {
			content = fmt.Sprintf("[%s]: %s", m.Name, m.Content)
		}
		turns = append(turns, models.ChatTurn{Role: m.Role, Content: content})
	}
	return turns
}

// Record reads the durable record directly, bypassing the cache. It returns nil when none exists.
func (s *ShortTermStore) Record(ctx context.Context, key string) (*ContextRecord, error) {
	rec, err := s.store.Load(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// CacheStats returns cached conversation count and capacity.
func (s *ShortTermStore) CacheStats() (cached, capacity int) {
	return s.cache.Len(), s.opts.CacheSize
}

func (s *ShortTermStore) Close() error {
	s.cache.Purge()
	return s.store.Close()
}
