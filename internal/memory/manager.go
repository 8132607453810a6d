package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avvvet/chatbuddy/internal/models"
)

const memoryHeader = "[相关记忆]"

// ManagerOptions controls semantic recall.
type ManagerOptions struct {
	SemanticEnabled bool
	SearchResults   int
	DistanceCutoff  float64 // hits at or beyond this cosine distance are ignored
}

// Manager orchestrates the short-term context, the event log and the semantic index.
type Manager struct {
	shortTerm *ShortTermStore
	eventLog  *EventLog
	semantic  *SemanticIndex // nil when semantic memory is off
	opts      ManagerOptions
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a new memory manager. semantic may be nil.
func NewManager(shortTerm *ShortTermStore, eventLog *EventLog, semantic *SemanticIndex, opts ManagerOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SearchResults <= 0 {
		opts.SearchResults = 5
	}
	if opts.DistanceCutoff <= 0 {
		opts.DistanceCutoff = 0.5
	}
	if semantic == nil {
		opts.SemanticEnabled = false
	}
	return &Manager{
		shortTerm: shortTerm,
		eventLog:  eventLog,
		semantic:  semantic,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// AddMessage writes a message to every layer. Layer failures are logged
// independently; the short-term error, if any, is returned.
func (m *Manager) AddMessage(ctx context.Context, key string, role models.Role, content, senderID, senderName string) error {
	now := m.now()

	stErr := m.shortTerm.Append(ctx, key, role, content, senderName)
	if stErr != nil {
		m.logger.Error("short-term write failed", "conversation_key", key, "error", stErr)
	}

	if err := m.eventLog.Record(ctx, LogEntry{
		ConversationKey: key,
		SenderID:        senderID,
		SenderName:      senderName,
		Content:         content,
		IsBot:           role == models.RoleAssistant,
		Timestamp:       now,
	}); err != nil {
		m.logger.Error("event log write failed", "conversation_key", key, "error", err)
	}

	if m.opts.SemanticEnabled && role == models.RoleUser && strings.TrimSpace(content) != "" {
		entry := SemanticEntry{
			ID:              EntryID(key, senderID, now, content),
			Text:            content,
			SenderID:        senderID,
			SenderName:      senderName,
			ConversationKey: key,
			Timestamp:       now,
		}
		if err := m.semantic.Index(ctx, entry); err != nil {
			m.logger.Error("semantic index write failed", "conversation_key", key, "error", err)
		}
	}

	return stErr
}

// GetContextForModel returns the short-term turns, preceded by one system turn of
// recalled memories when any hit is closer than the distance cutoff. Messages
// still in the short-term window, the one being answered included, are not
// recalled.
func (m *Manager) GetContextForModel(ctx context.Context, key, query string) ([]models.ChatTurn, error) {
	msgs, err := m.shortTerm.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	turns := formatMessages(msgs)

	if query == "" || !m.opts.SemanticEnabled {
		return turns, nil
	}

	inWindow := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.Role == models.RoleUser {
			inWindow[msg.Content] = struct{}{}
		}
	}

	var lines []string
	for _, hit := range m.semantic.Search(ctx, query, m.opts.SearchResults+len(inWindow), key) {
		if len(lines) == m.opts.SearchResults {
			break
		}
		if hit.Distance >= m.opts.DistanceCutoff {
			continue
		}
		if _, ok := inWindow[hit.Text]; ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", hit.SenderName, hit.Text, hit.Timestamp.Format("2006-01-02")))
	}
	if len(lines) == 0 {
		return turns, nil
	}

	block := models.ChatTurn{
		Role:    models.RoleSystem,
		Content: memoryHeader + "\n" + strings.Join(lines, "\n"),
	}
	return append([]models.ChatTurn{block}, turns...), nil
}

// History returns the live short-term messages of a conversation.
func (m *Manager) History(ctx context.Context, key string) ([]Message, error) {
	return m.shortTerm.Get(ctx, key)
}

// Transcript returns the last limit event log entries of a conversation. The
// log outlives the short-term window, so this reaches further back than
// History.
func (m *Manager) Transcript(ctx context.Context, key string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return m.eventLog.Recent(ctx, key, limit)
}

// Stats summarizes every memory layer.
type Stats struct {
	CachedConversations int
	CacheCapacity       int
	SemanticEnabled     bool
	SemanticEntries     int
	Conversations       []ConversationStats
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{SemanticEnabled: m.opts.SemanticEnabled}
	st.CachedConversations, st.CacheCapacity = m.shortTerm.CacheStats()

	if m.semantic != nil {
		n, err := m.semantic.Count(ctx)
		if err != nil {
			return nil, err
		}
		st.SemanticEntries = n
	}

	convs, err := m.eventLog.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Conversations = convs
	return st, nil
}

// ClearConversation drops one conversation's short-term context.
func (m *Manager) ClearConversation(ctx context.Context, key string) error {
	if err := m.shortTerm.Clear(ctx, key); err != nil {
		return fmt.Errorf("failed to clear context for %s: %w", key, err)
	}
	m.logger.Info("cleared conversation context", "conversation_key", key)
	return nil
}

// Reset clears every short-term context, wipes the event log and empties the
// semantic index. It returns how many contexts were cleared.
func (m *Manager) Reset(ctx context.Context) (int64, error) {
	var errs []error
	cleared, err := m.shortTerm.ClearAll(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		m.logger.Info("cleared all conversation contexts", "contexts", cleared)
	}
	if n, err := m.eventLog.Wipe(ctx); err != nil {
		errs = append(errs, err)
	} else {
		m.logger.Info("wiped event log", "rows", n)
	}
	if m.semantic != nil {
		if err := m.semantic.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return cleared, errors.Join(errs...)
}

// Close closes the short-term store. The shared database is closed by its owner.
func (m *Manager) Close() error {
	return m.shortTerm.Close()
}

// EntryID derives a stable semantic entry id from its origin.
func EntryID(key, senderID string, ts time.Time, content string) string {
	prefix := []rune(content)
	if len(prefix) > 20 {
		prefix = prefix[:20]
	}
	sum := md5.Sum([]byte(key + "_" + senderID + "_" + ts.Format(time.RFC3339Nano) + "_" + string(prefix)))
	return hex.EncodeToString(sum[:])
}
