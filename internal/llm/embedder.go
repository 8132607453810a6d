package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder wraps a langchaingo embedder.
type Embedder struct {
	model     embeddings.Embedder
	modelName string
	logger    *slog.Logger
}

// NewOpenAICompatibleEmbedder creates an embedder for an OpenAI-compatible embeddings endpoint.
func NewOpenAICompatibleEmbedder(apiKey, baseURL, model string, logger *slog.Logger) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key required")
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	inner, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return NewEmbedder(inner, model, logger), nil
}

func NewEmbedder(model embeddings.Embedder, modelName string, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{model: model, modelName: modelName, logger: logger}
}

// Embed generates an embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.model.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed", "model", e.modelName, "text_len", len(text),
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, Classify("embed", err)
	}
	if len(vec) == 0 {
		return nil, Classify("embed", ErrEmptyResponse)
	}
	return vec, nil
}
