package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/avvvet/chatbuddy/internal/models"
)

// LangChainProvider calls any OpenAI-compatible chat endpoint through langchaingo.
type LangChainProvider struct {
	model     llms.Model
	modelName string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewOpenAICompatibleProvider creates a provider for DeepSeek, Qwen compatible mode or OpenAI.
func NewOpenAICompatibleProvider(apiKey, baseURL, model string, timeout time.Duration, logger *slog.Logger) (*LangChainProvider, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangChainProvider(client, model, timeout, logger), nil
}

// NewLangChainProvider wraps an existing langchaingo model.
func NewLangChainProvider(model llms.Model, modelName string, timeout time.Duration, logger *slog.Logger) *LangChainProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LangChainProvider{model: model, modelName: modelName, timeout: timeout, logger: logger}
}

func (p *LangChainProvider) Generate(ctx context.Context, request *LLMRequest) (*LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := buildMessages(request)

	opts := []llms.CallOption{llms.WithTemperature(request.Temperature)}
	if request.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(request.MaxTokens))
	}

	start := time.Now()
	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, Classify("generate", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, Classify("generate", ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	p.logger.Debug("model replied",
		"model", p.modelName,
		"turns", len(messages),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &LLMResponse{
		Content: strings.TrimSpace(choice.Content),
		Usage:   usageFrom(choice.GenerationInfo),
	}, nil
}

func buildMessages(request *LLMRequest) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(request.History)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, request.SystemPrompt))
	}
	for _, turn := range request.History {
		var role llms.ChatMessageType
		switch turn.Role {
		case models.RoleUser:
			role = llms.ChatMessageTypeHuman
		case models.RoleAssistant:
			role = llms.ChatMessageTypeAI
		case models.RoleSystem:
			role = llms.ChatMessageTypeSystem
		default:
			continue
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	return messages
}

func usageFrom(info map[string]any) *Usage {
	if info == nil {
		return nil
	}
	in, _ := info["PromptTokens"].(int)
	out, _ := info["CompletionTokens"].(int)
	if in == 0 && out == 0 {
		return nil
	}
	return &Usage{InputTokens: in, OutputTokens: out}
}
