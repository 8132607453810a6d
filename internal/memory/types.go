package memory

import (
	"context"
	"errors"
	"time"

	"github.com/avvvet/chatbuddy/internal/models"
)

// ErrRecordNotFound is returned by a RecordStore when a conversation has no stored context.
var ErrRecordNotFound = errors.New("memory: context record not found")

// Message represents a single message in a conversation
type Message struct {
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	Name      string      `json:"name,omitempty"` // sender display name, user turns only
	Timestamp time.Time   `json:"timestamp"`
}

// ContextRecord is the short-term context of one conversation.
type ContextRecord struct {
	ConversationKey string    `json:"conversation_key"`
	Messages        []Message `json:"messages"`
	LastActive      time.Time `json:"last_active"`
}

// Expired reports whether the record has been idle longer than timeout.
func (r *ContextRecord) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.LastActive) > timeout
}

func (r *ContextRecord) clone() *ContextRecord {
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	return &cp
}

// UpdateFunc receives the current record (nil when none is stored) and returns the record to store.
type UpdateFunc func(current *ContextRecord) (*ContextRecord, error)

// RecordStore is the durable home of ContextRecords.
// This allows us to swap between Redis and SQLite.
type RecordStore interface {
	// Load returns ErrRecordNotFound when nothing is stored for key.
	Load(ctx context.Context, key string) (*ContextRecord, error)

	// Update performs an atomic read-modify-write of one record.
	Update(ctx context.Context, key string, fn UpdateFunc) (*ContextRecord, error)

	Delete(ctx context.Context, key string) error

	// DeleteAll removes every stored record and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)

	Close() error
}

// LogEntry is one row of the durable event log.
type LogEntry struct {
	ConversationKey string
	SenderID        string
	SenderName      string
	Content         string
	IsBot           bool
	Timestamp       time.Time
}

// ConversationStats summarizes the event log for one conversation.
type ConversationStats struct {
	ConversationKey string
	UserMessages    int
	BotMessages     int
	FirstAt         time.Time
	LastAt          time.Time
}

// SemanticEntry is one indexed user message.
type SemanticEntry struct {
	ID              string
	Embedding       []float32
	Text            string
	SenderID        string
	SenderName      string
	ConversationKey string
	Timestamp       time.Time
}

// SemanticHit is a search result; Distance is 1 - cosine similarity.
type SemanticHit struct {
	Text       string
	SenderName string
	Timestamp  time.Time
	Distance   float64
}
