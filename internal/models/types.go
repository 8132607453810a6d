package models

import "time"

// Role of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatTurn is one role/content pair handed to the language model.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NATS request from the chat platform adapter
type InboundEvent struct {
	ConversationKey string    `json:"conversation_key"` // e.g. "group_123" or "private_456"
	SenderID        string    `json:"sender_id"`
	SenderName      string    `json:"sender_name"`
	Text            string    `json:"text"`
	IsPrivate       bool      `json:"is_private"`
	Mentioned       bool      `json:"mentioned"` // the adapter saw an @ of the bot account
	Timestamp       time.Time `json:"timestamp,omitempty"`
}

// NATS reply to the adapter
type OutboundReply struct {
	ConversationKey string  `json:"conversation_key"`
	HasReply        bool    `json:"has_reply"`
	Reply           string  `json:"reply,omitempty"`
	Status          string  `json:"status"`
	ErrorCode       *string `json:"error_code,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
}

// ProactiveMessage is published unprompted when a conversation has gone cold.
type ProactiveMessage struct {
	ConversationKey string    `json:"conversation_key"`
	Text            string    `json:"text"`
	ColdLevel       string    `json:"cold_level"`
	CreatedAt       time.Time `json:"created_at"`
}

// Status constants
const (
	StatusReplied = "REPLIED"
	StatusSilent  = "SILENT"
	StatusError   = "ERROR"
)

// Error codes
const (
	ErrorParseError   = "PARSE_ERROR"
	ErrorInvalidEvent = "INVALID_EVENT"
	ErrorLLMFailed    = "LLM_API_FAILED"
)
