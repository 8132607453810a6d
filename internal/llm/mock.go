package llm

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/avvvet/chatbuddy/internal/models"
)

// MockProvider answers without a network call. It backs the "mock" provider
// for local runs against a NATS server with no model credentials.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Generate(_ context.Context, request *LLMRequest) (*LLMResponse, error) {
	last := ""
	for i := len(request.History) - 1; i >= 0; i-- {
		if request.History[i].Role == models.RoleUser {
			last = request.History[i].Content
			break
		}
	}
	if last == "" {
		return &LLMResponse{Content: "嗯？"}, nil
	}
	return &LLMResponse{Content: fmt.Sprintf("收到：%s", last)}, nil
}

// MockEmbedder hashes character bigrams into a small vector, so identical
// texts embed identically and similar texts land nearby.
type MockEmbedder struct {
	Dimensions int
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := m.Dimensions
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	runes := []rune(text)
	for i := 0; i+1 < len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+2])))
		vec[h.Sum32()%uint32(dims)]++
	}
	if len(runes) == 1 {
		h := fnv.New32a()
		h.Write([]byte(string(runes)))
		vec[h.Sum32()%uint32(dims)]++
	}
	return vec, nil
}
