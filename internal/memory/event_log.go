package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventLog is the append-only record of every message seen and sent.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

// Record appends one entry.
func (l *EventLog) Record(ctx context.Context, e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO chat_log (conversation_key, sender_id, sender_name, message_content, is_bot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ConversationKey, e.SenderID, e.SenderName, e.Content, e.IsBot,
		e.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("event log: insert: %w", err)
	}
	return nil
}

// Stats returns per-conversation message counts, most recently active first.
func (l *EventLog) Stats(ctx context.Context) ([]ConversationStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT conversation_key,
			SUM(CASE WHEN is_bot = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_bot = 1 THEN 1 ELSE 0 END),
			MIN(created_at),
			MAX(created_at)
		FROM chat_log
		GROUP BY conversation_key
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("event log: stats: %w", err)
	}
	defer rows.Close()

	var stats []ConversationStats
	for rows.Next() {
		var s ConversationStats
		var first, last string
		if err := rows.Scan(&s.ConversationKey, &s.UserMessages, &s.BotMessages, &first, &last); err != nil {
			return nil, fmt.Errorf("event log: scan stats: %w", err)
		}
		s.FirstAt, _ = time.Parse(timeLayout, first)
		s.LastAt, _ = time.Parse(timeLayout, last)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event log: iterate stats: %w", err)
	}
	return stats, nil
}

// Recent returns up to limit entries for a conversation, oldest first.
func (l *EventLog) Recent(ctx context.Context, key string, limit int) ([]LogEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT conversation_key, sender_id, sender_name, message_content, is_bot, created_at
		FROM (
			SELECT * FROM chat_log WHERE conversation_key = ? ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("event log: recent: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var created string
		if err := rows.Scan(&e.ConversationKey, &e.SenderID, &e.SenderName, &e.Content, &e.IsBot, &created); err != nil {
			return nil, fmt.Errorf("event log: scan: %w", err)
		}
		e.Timestamp, _ = time.Parse(timeLayout, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Wipe deletes the whole log. It is the only delete path.
func (l *EventLog) Wipe(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM chat_log`)
	if err != nil {
		return 0, fmt.Errorf("event log: wipe: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
