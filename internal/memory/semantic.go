package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticIndex stores embedded user messages in SQLite and searches them by
// brute-force cosine distance in Go. modernc.org/sqlite cannot load vector
// extensions, and a group chat produces at most a few thousand rows.
type SemanticIndex struct {
	db       *sql.DB
	embedder Embedder
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSemanticIndex(db *sql.DB, embedder Embedder, timeout time.Duration, logger *slog.Logger) *SemanticIndex {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SemanticIndex{db: db, embedder: embedder, timeout: timeout, logger: logger}
}

func (s *SemanticIndex) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.embedder.Embed(ctx, text)
}

// Index embeds and stores one entry. Embedding failures are logged and dropped.
func (s *SemanticIndex) Index(ctx context.Context, entry SemanticEntry) error {
	vec, err := s.embed(ctx, entry.Text)
	if err != nil {
		s.logger.Warn("semantic index: embedding failed, entry dropped",
			"conversation_key", entry.ConversationKey, "error", err)
		return nil
	}
	if len(vec) == 0 {
		s.logger.Warn("semantic index: empty embedding, entry dropped", "conversation_key", entry.ConversationKey)
		return nil
	}

	embeddingJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("semantic index: marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO semantic_memory
			(id, conversation_key, sender_id, sender_name, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationKey, entry.SenderID, entry.SenderName, entry.Text,
		string(embeddingJSON), entry.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("semantic index: insert: %w", err)
	}
	return nil
}

// Search returns up to k entries nearest to query, by ascending distance.
// An empty key searches every conversation. Failures yield no hits.
func (s *SemanticIndex) Search(ctx context.Context, query string, k int, key string) []SemanticHit {
	if k <= 0 || query == "" {
		return nil
	}

	qvec, err := s.embed(ctx, query)
	if err != nil || len(qvec) == 0 {
		s.logger.Warn("semantic index: query embedding failed", "conversation_key", key, "error", err)
		return nil
	}

	q := `SELECT sender_name, content, embedding, created_at FROM semantic_memory`
	var args []any
	if key != "" {
		q += ` WHERE conversation_key = ?`
		args = append(args, key)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logger.Warn("semantic index: query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var hits []SemanticHit
	for rows.Next() {
		var hit SemanticHit
		var embeddingJSON, created string
		if err := rows.Scan(&hit.SenderName, &hit.Text, &embeddingJSON, &created); err != nil {
			s.logger.Warn("semantic index: skip malformed row", "error", err)
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			s.logger.Warn("semantic index: skip row with bad embedding", "error", err)
			continue
		}
		if len(vec) != len(qvec) {
			continue
		}
		hit.Distance = 1 - cosineSimilarity(qvec, vec)
		hit.Timestamp, _ = time.Parse(timeLayout, created)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("semantic index: iterate rows", "error", err)
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Count returns the number of indexed entries.
func (s *SemanticIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM semantic_memory`).Scan(&n); err != nil {
		return 0, fmt.Errorf("semantic index: count: %w", err)
	}
	return n, nil
}

// Reset deletes every entry. It is the only delete path.
func (s *SemanticIndex) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM semantic_memory`); err != nil {
		return fmt.Errorf("semantic index: reset: %w", err)
	}
	return nil
}

// cosineSimilarity returns 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
