package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SQLRecordStore implements RecordStore on the conversation_context table.
type SQLRecordStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLRecordStore(db *sql.DB, logger *slog.Logger) *SQLRecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLRecordStore{db: db, logger: logger}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLRecordStore) load(ctx context.Context, q queryRower, key string) (*ContextRecord, error) {
	var messagesJSON, lastActive string
	err := q.QueryRowContext(ctx,
		`SELECT messages, last_active FROM conversation_context WHERE conversation_key = ?`, key,
	).Scan(&messagesJSON, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	rec := &ContextRecord{ConversationKey: key}
	if err := json.Unmarshal([]byte(messagesJSON), &rec.Messages); err != nil {
		s.logger.Warn("discarding malformed context record", "conversation_key", key, "error", err)
		return nil, ErrRecordNotFound
	}
	rec.LastActive, err = time.Parse(timeLayout, lastActive)
	if err != nil {
		s.logger.Warn("discarding context record with bad timestamp", "conversation_key", key, "error", err)
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (s *SQLRecordStore) Load(ctx context.Context, key string) (*ContextRecord, error) {
	return s.load(ctx, s.db, key)
}

func (s *SQLRecordStore) Update(ctx context.Context, key string, fn UpdateFunc) (*ContextRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin context update: %w", err)
	}
	defer tx.Rollback()

	current, err := s.load(ctx, tx, key)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next.ConversationKey = key

	messagesJSON, err := json.Marshal(next.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_context (conversation_key, messages, last_active)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			messages = excluded.messages,
			last_active = excluded.last_active`,
		key, string(messagesJSON), next.LastActive.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save context: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit context update: %w", err)
	}
	return next, nil
}

func (s *SQLRecordStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_context WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear context: %w", err)
	}
	return nil
}

func (s *SQLRecordStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_context`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear contexts: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the database is shared and closed by its owner.
func (s *SQLRecordStore) Close() error {
	return nil
}
