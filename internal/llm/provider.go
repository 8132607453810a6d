package llm

import (
	"context"

	"github.com/avvvet/chatbuddy/internal/models"
)

// LLMProvider defines the interface for LLM providers
type LLMProvider interface {
	Generate(ctx context.Context, request *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is one chat completion: a system prompt followed by history turns.
type LLMRequest struct {
	SystemPrompt string
	History      []models.ChatTurn
	MaxTokens    int
	Temperature  float64
}

// LLMResponse represents the raw response from LLM
type LLMResponse struct {
	Content string
	Usage   *Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}
