package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/avvvet/chatbuddy/internal/dialogue"
	"github.com/avvvet/chatbuddy/internal/llm"
	"github.com/avvvet/chatbuddy/internal/models"
	"github.com/avvvet/chatbuddy/internal/prompts"
)

// Memory is the part of memory.Manager the handler uses.
type Memory interface {
	AddMessage(ctx context.Context, key string, role models.Role, content, senderID, senderName string) error
	GetContextForModel(ctx context.Context, key, query string) ([]models.ChatTurn, error)
}

// Searcher is the part of search.Client the handler uses.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) (string, error)
	ShouldSearch(ctx context.Context, text string) bool
}

// ChatDeps are the collaborators of a ChatHandler. Search and Proactive may be nil.
type ChatDeps struct {
	Provider  llm.LLMProvider
	Memory    Memory
	Search    Searcher
	Analyzer  *dialogue.Analyzer
	Enhancer  *dialogue.Enhancer
	Proactive *dialogue.ProactiveEngine
	Activity  *dialogue.ActivityTracker
}

type ChatOptions struct {
	Persona     prompts.Persona
	Keywords    []string
	Temperature float64
	MaxTokens   int

	SmartReply  bool
	TriggerRate float64
	MinInterval time.Duration

	// Rand drives the smart-reply draw and fallback replies. Nil seeds a fresh source.
	Rand *rand.Rand
}

const (
	judgeMaxTokens   = 10
	judgeTemperature = 0.3
)

type ChatHandler struct {
	deps ChatDeps
	opts ChatOptions

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	now    func() time.Time
	logger *slog.Logger
}

func NewChatHandler(deps ChatDeps, opts ChatOptions, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Activity == nil {
		deps.Activity = dialogue.NewActivityTracker()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &ChatHandler{
		deps:   deps,
		opts:   opts,
		locks:  make(map[string]*sync.Mutex),
		rng:    rng,
		now:    time.Now,
		logger: logger,
	}
}

// HandleInbound runs the reply pipeline for one inbound message. Failures are
// reported in the reply; the error return is reserved for callers' contracts.
func (h *ChatHandler) HandleInbound(ctx context.Context, event *models.InboundEvent) (*models.OutboundReply, error) {
	// Validate event
	if err := h.validateEvent(event); err != nil {
		return h.createErrorResponse(event, models.ErrorInvalidEvent, err.Error()), nil
	}

	unlock := h.lock(event.ConversationKey)
	defer unlock()

	now := event.Timestamp
	if now.IsZero() {
		now = h.now()
	}
	key := event.ConversationKey
	text := strings.TrimSpace(event.Text)
	logger := h.logger.With("conversation", key, "sender", event.SenderID)

	if err := h.deps.Memory.AddMessage(ctx, key, models.RoleUser, text, event.SenderID, event.SenderName); err != nil {
		logger.Warn("failed to store inbound message", "error", err)
	}

	intent, topic := h.deps.Analyzer.Analyze(key, text, event.SenderID, now)
	if h.deps.Proactive != nil {
		h.deps.Proactive.Touch(key, now)
	}

	respond, reason := h.shouldRespond(ctx, event, text, now)
	if !respond {
		return &models.OutboundReply{ConversationKey: key, Status: models.StatusSilent}, nil
	}
	logger.Info("replying", "trigger", reason, "intent", intent.Type)

	// Pre-emptive search
	searched := false
	searchContext := ""
	if h.searchEnabled() && h.deps.Search.ShouldSearch(ctx, text) {
		searched = true
		searchContext = h.search(ctx, logger, text)
	}

	base, err := h.deps.Memory.GetContextForModel(ctx, key, text)
	if err != nil {
		logger.Warn("failed to load context, using current message only", "error", err)
		base = []models.ChatTurn{{Role: models.RoleUser, Content: fmt.Sprintf("[%s]: %s", event.SenderName, text)}}
	}
	turns := h.deps.Enhancer.Enrich(key, base, intent, topic, now)

	reply, err := h.generate(ctx, event, turns, searchContext)
	if err != nil {
		logger.Error("model call failed", "error", err)
		return h.createFallbackResponse(event, err), nil
	}

	// One search-and-retry when the model admits not knowing
	if !searched && h.searchEnabled() && prompts.IsUncertain(reply) {
		searched = true
		logger.Info("reply is uncertain, retrying with web search")
		if searchContext = h.search(ctx, logger, text); searchContext != "" {
			retried, err := h.generate(ctx, event, turns, searchContext)
			if err != nil {
				logger.Warn("retry with search context failed, keeping first reply", "error", err)
			} else {
				reply = retried
			}
		}
	}

	if err := h.deps.Memory.AddMessage(ctx, key, models.RoleAssistant, reply, "", h.opts.Persona.Name); err != nil {
		logger.Warn("failed to store reply", "error", err)
	}
	if dialogue.IsQuestion(reply) {
		h.deps.Analyzer.RegisterBotQuestion(key, reply, now)
	}
	h.deps.Activity.RecordReply(key, now)

	logger.Info("reply sent", "searched", searched, "length", len([]rune(reply)))
	return &models.OutboundReply{
		ConversationKey: key,
		HasReply:        true,
		Reply:           reply,
		Status:          models.StatusReplied,
	}, nil
}

func (h *ChatHandler) validateEvent(event *models.InboundEvent) error {
	if event == nil {
		return errors.New("event is required")
	}
	if event.ConversationKey == "" {
		return errors.New("conversation_key is required")
	}
	if strings.TrimSpace(event.Text) == "" {
		return errors.New("text is required")
	}
	return nil
}

// shouldRespond applies the trigger policy and names the trigger that fired.
func (h *ChatHandler) shouldRespond(ctx context.Context, event *models.InboundEvent, text string, now time.Time) (bool, string) {
	switch {
	case event.Mentioned:
		return true, "mention"
	case event.IsPrivate:
		return true, "private"
	case h.mentionsName(text):
		return true, "name"
	case containsAny(text, h.opts.Keywords):
		return true, "keyword"
	}

	if !h.opts.SmartReply {
		return false, ""
	}
	if h.draw() >= h.opts.TriggerRate {
		return false, ""
	}
	if h.deps.Activity.RepliedWithin(event.ConversationKey, now, h.opts.MinInterval) {
		return false, ""
	}

	resp, err := h.deps.Provider.Generate(ctx, &llm.LLMRequest{
		History:     []models.ChatTurn{{Role: models.RoleUser, Content: prompts.BuildSmartReplyPrompt(text)}},
		MaxTokens:   judgeMaxTokens,
		Temperature: judgeTemperature,
	})
	if err != nil {
		h.logger.Debug("smart reply judge failed", "error", err)
		return false, ""
	}
	if !prompts.ParseDecision(resp.Content) {
		return false, ""
	}
	return true, "smart"
}

func (h *ChatHandler) mentionsName(text string) bool {
	p := h.opts.Persona
	return (p.Name != "" && strings.Contains(text, p.Name)) ||
		(p.Nickname != "" && strings.Contains(text, p.Nickname))
}

func (h *ChatHandler) generate(ctx context.Context, event *models.InboundEvent, turns []models.ChatTurn, searchContext string) (string, error) {
	resp, err := h.deps.Provider.Generate(ctx, &llm.LLMRequest{
		SystemPrompt: prompts.BuildSystemPrompt(h.opts.Persona, prompts.PromptInput{
			Private:       event.IsPrivate,
			SenderID:      event.SenderID,
			SearchContext: searchContext,
		}),
		History:     turns,
		MaxTokens:   h.opts.MaxTokens,
		Temperature: h.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (h *ChatHandler) searchEnabled() bool {
	return h.deps.Search != nil && h.deps.Search.Enabled()
}

// search returns the search answer, or "" on failure.
func (h *ChatHandler) search(ctx context.Context, logger *slog.Logger, query string) string {
	result, err := h.deps.Search.Search(ctx, query)
	if err != nil {
		logger.Warn("web search failed, continuing without it", "error", err)
		return ""
	}
	return result
}

func (h *ChatHandler) draw() float64 {
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Float64()
}

func (h *ChatHandler) lock(key string) func() {
	h.locksMu.Lock()
	mu, ok := h.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		h.locks[key] = mu
	}
	h.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (h *ChatHandler) createFallbackResponse(event *models.InboundEvent, cause error) *models.OutboundReply {
	h.rngMu.Lock()
	reply := llm.FallbackReply(h.rng)
	h.rngMu.Unlock()

	errorCode := models.ErrorLLMFailed
	errorMessage := cause.Error()
	return &models.OutboundReply{
		ConversationKey: event.ConversationKey,
		HasReply:        true,
		Reply:           reply,
		Status:          models.StatusError,
		ErrorCode:       &errorCode,
		ErrorMessage:    &errorMessage,
	}
}

func (h *ChatHandler) createErrorResponse(event *models.InboundEvent, errorCode, errorMessage string) *models.OutboundReply {
	resp := &models.OutboundReply{
		Status:       models.StatusError,
		ErrorCode:    &errorCode,
		ErrorMessage: &errorMessage,
	}
	if event != nil {
		resp.ConversationKey = event.ConversationKey
	}
	return resp
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
