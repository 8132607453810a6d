package handlers

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/chatbuddy/internal/dialogue"
	"github.com/avvvet/chatbuddy/internal/llm"
	"github.com/avvvet/chatbuddy/internal/memory"
	"github.com/avvvet/chatbuddy/internal/models"
	"github.com/avvvet/chatbuddy/internal/prompts"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

// fakeProvider answers reply requests with replies[i] (the last one repeats)
// and smart-reply judgments with judge.
type fakeProvider struct {
	mu       sync.Mutex
	replies  []string
	judge    string
	err      error
	requests []*llm.LLMRequest
	judged   int
}

func (f *fakeProvider) Generate(_ context.Context, req *llm.LLMRequest) (*llm.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.SystemPrompt == "" {
		f.judged++
		return &llm.LLMResponse{Content: f.judge}, nil
	}
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	i := min(len(f.requests)-1, len(f.replies)-1)
	return &llm.LLMResponse{Content: f.replies[i]}, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeSearcher struct {
	mu      sync.Mutex
	should  bool
	answer  string
	err     error
	queries []string
}

func (f *fakeSearcher) Enabled() bool { return true }

func (f *fakeSearcher) Search(_ context.Context, q string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.answer, f.err
}

func (f *fakeSearcher) ShouldSearch(context.Context, string) bool { return f.should }

type storedMessage struct {
	role    models.Role
	content string
	name    string
}

type fakeMemory struct {
	mu       sync.Mutex
	messages map[string][]storedMessage
	readErr  error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{messages: make(map[string][]storedMessage)}
}

func (f *fakeMemory) AddMessage(_ context.Context, key string, role models.Role, content, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[key] = append(f.messages[key], storedMessage{role: role, content: content, name: name})
	return nil
}

func (f *fakeMemory) GetContextForModel(_ context.Context, key, _ string) ([]models.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	var turns []models.ChatTurn
	for _, m := range f.messages[key] {
		content := m.content
		if m.role == models.RoleUser {
			content = fmt.Sprintf("[%s]: %s", m.name, m.content)
		}
		turns = append(turns, models.ChatTurn{Role: m.role, Content: content})
	}
	return turns, nil
}

func (f *fakeMemory) stored(key string) []storedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storedMessage(nil), f.messages[key]...)
}

type fixture struct {
	handler  *ChatHandler
	provider *fakeProvider
	memory   *fakeMemory
	activity *dialogue.ActivityTracker
}

func newFixture(t *testing.T, provider *fakeProvider, searcher Searcher, mutate func(*ChatOptions)) *fixture {
	t.Helper()
	opts := ChatOptions{
		Persona:     prompts.Persona{Name: "沉舟", Nickname: "舟舟", AdminID: "10001"},
		Keywords:    []string{"机器人"},
		Temperature: 0.7,
		MaxTokens:   500,
		SmartReply:  false,
		TriggerRate: 1,
		MinInterval: 30 * time.Second,
		Rand:        rand.New(rand.NewPCG(1, 2)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	mem := newFakeMemory()
	activity := dialogue.NewActivityTracker()
	analyzer := dialogue.NewAnalyzer(nil, dialogue.AnalyzerOptions{
		CounterQuestion: true,
		Sarcasm:         true,
		TopicTracking:   true,
		SarcasmOptions:  dialogue.DefaultSarcasmOptions(),
		TopicOptions:    dialogue.DefaultTopicOptions(),
	}, nil)
	deps := ChatDeps{
		Provider: provider,
		Memory:   mem,
		Analyzer: analyzer,
		Enhancer: dialogue.NewEnhancer(dialogue.NewRegistry(dialogue.DefaultStateMachineOptions(), nil), true, nil),
		Activity: activity,
	}
	if searcher != nil {
		deps.Search = searcher
	}
	return &fixture{
		handler:  NewChatHandler(deps, opts, nil),
		provider: provider,
		memory:   mem,
		activity: activity,
	}
}

func groupEvent(text string, at time.Time) *models.InboundEvent {
	return &models.InboundEvent{
		ConversationKey: "group_1",
		SenderID:        "20002",
		SenderName:      "小明",
		Text:            text,
		Timestamp:       at,
	}
}

func TestHandleInboundMentionReplies(t *testing.T) {
	f := newFixture(t, &fakeProvider{replies: []string{"在的在的"}}, nil, nil)

	ev := groupEvent("在吗", t0)
	ev.Mentioned = true
	resp, err := f.handler.HandleInbound(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, models.StatusReplied, resp.Status)
	assert.True(t, resp.HasReply)
	assert.Equal(t, "在的在的", resp.Reply)

	stored := f.memory.stored("group_1")
	require.Len(t, stored, 2)
	assert.Equal(t, storedMessage{role: models.RoleUser, content: "在吗", name: "小明"}, stored[0])
	assert.Equal(t, storedMessage{role: models.RoleAssistant, content: "在的在的", name: "沉舟"}, stored[1])

	req := f.provider.requests[0]
	assert.Contains(t, req.SystemPrompt, "你是沉舟")
	assert.Equal(t, 500, req.MaxTokens)
	require.NotEmpty(t, req.History)
	assert.Equal(t, models.RoleSystem, req.History[0].Role, "state prompt first")
	assert.Contains(t, req.History[0].Content, "【对话状态：开启】")

	assert.True(t, f.activity.RepliedWithin("group_1", t0, time.Second))
}

func TestHandleInboundTriggers(t *testing.T) {
	tests := []struct {
		name    string
		event   func() *models.InboundEvent
		replied bool
	}{
		{"private", func() *models.InboundEvent {
			ev := groupEvent("随便聊聊", t0)
			ev.ConversationKey, ev.IsPrivate = "private_20002", true
			return ev
		}, true},
		{"name", func() *models.InboundEvent { return groupEvent("舟舟今天干嘛了", t0) }, true},
		{"keyword", func() *models.InboundEvent { return groupEvent("这个机器人好好玩", t0) }, true},
		{"plain group chatter", func() *models.InboundEvent { return groupEvent("我去吃饭了", t0) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeProvider{replies: []string{"好哦"}}, nil, nil)
			ev := tt.event()
			resp, err := f.handler.HandleInbound(context.Background(), ev)
			require.NoError(t, err)
			assert.Equal(t, tt.replied, resp.HasReply)
			if !tt.replied {
				assert.Equal(t, models.StatusSilent, resp.Status)
				assert.Zero(t, f.provider.calls())
				assert.Len(t, f.memory.stored(ev.ConversationKey), 1, "silent messages are still stored")
			}
		})
	}
}

func TestHandleInboundSmartReply(t *testing.T) {
	smart := func(o *ChatOptions) { o.SmartReply = true }

	f := newFixture(t, &fakeProvider{replies: []string{"明天不放假哦"}, judge: "YES"}, nil, smart)
	resp, err := f.handler.HandleInbound(context.Background(), groupEvent("有人知道明天放假吗", t0))
	require.NoError(t, err)
	assert.True(t, resp.HasReply)
	assert.Equal(t, 1, f.provider.judged)

	resp, err = f.handler.HandleInbound(context.Background(), groupEvent("那后天呢", t0.Add(10*time.Second)))
	require.NoError(t, err)
	assert.False(t, resp.HasReply, "inside the minimum interval")
	assert.Equal(t, 1, f.provider.judged, "judge skipped inside the interval")

	f = newFixture(t, &fakeProvider{replies: []string{"x"}, judge: "NO"}, nil, smart)
	resp, err = f.handler.HandleInbound(context.Background(), groupEvent("哈哈", t0))
	require.NoError(t, err)
	assert.False(t, resp.HasReply)
	assert.Zero(t, f.provider.calls())

	f = newFixture(t, &fakeProvider{replies: []string{"x"}, judge: "YES"}, nil, func(o *ChatOptions) {
		o.SmartReply = true
		o.TriggerRate = 0
	})
	resp, err = f.handler.HandleInbound(context.Background(), groupEvent("有人吗", t0))
	require.NoError(t, err)
	assert.False(t, resp.HasReply)
	assert.Zero(t, f.provider.judged, "trigger rate draw failed first")
}

func TestHandleInboundUncertainReplySearchesOnce(t *testing.T) {
	provider := &fakeProvider{replies: []string{"这个我也不知道诶"}}
	searcher := &fakeSearcher{answer: "原神最新版本是5.0"}
	f := newFixture(t, provider, searcher, nil)

	ev := groupEvent("舟舟，原神最新版本是多少", t0)
	resp, err := f.handler.HandleInbound(context.Background(), ev)
	require.NoError(t, err)

	assert.Len(t, searcher.queries, 1)
	assert.Equal(t, 2, provider.calls())
	assert.NotContains(t, provider.requests[0].SystemPrompt, "【实时信息】")
	assert.Contains(t, provider.requests[1].SystemPrompt, "原神最新版本是5.0")
	assert.Equal(t, "这个我也不知道诶", resp.Reply, "still uncertain after the retry, no further search")
}

func TestHandleInboundPreemptiveSearchBlocksRetry(t *testing.T) {
	provider := &fakeProvider{replies: []string{"不太清楚呢"}}
	searcher := &fakeSearcher{should: true, answer: "北京晴"}
	f := newFixture(t, provider, searcher, nil)

	_, err := f.handler.HandleInbound(context.Background(), groupEvent("舟舟北京天气怎么样", t0))
	require.NoError(t, err)

	assert.Len(t, searcher.queries, 1)
	assert.Equal(t, 1, provider.calls())
	assert.Contains(t, provider.requests[0].SystemPrompt, "北京晴")
}

func TestHandleInboundSearchFailureKeepsReply(t *testing.T) {
	provider := &fakeProvider{replies: []string{"不知道呀"}}
	searcher := &fakeSearcher{err: errors.New("search: status 500")}
	f := newFixture(t, provider, searcher, nil)

	resp, err := f.handler.HandleInbound(context.Background(), groupEvent("舟舟今天有什么新闻", t0))
	require.NoError(t, err)
	assert.Equal(t, "不知道呀", resp.Reply)
	assert.Len(t, searcher.queries, 1)
	assert.Equal(t, 1, provider.calls())
}

func TestHandleInboundModelFailureFallsBack(t *testing.T) {
	provider := &fakeProvider{err: &llm.CallError{Kind: llm.KindUnavailable, Op: "generate", Err: errors.New("503")}}
	f := newFixture(t, provider, nil, nil)

	ev := groupEvent("在吗", t0)
	ev.Mentioned = true
	resp, err := f.handler.HandleInbound(context.Background(), ev)
	require.NoError(t, err)

	assert.True(t, resp.HasReply)
	assert.Contains(t, llm.FallbackReplies, resp.Reply)
	assert.Equal(t, models.StatusError, resp.Status)
	require.NotNil(t, resp.ErrorCode)
	assert.Equal(t, models.ErrorLLMFailed, *resp.ErrorCode)
	assert.Len(t, f.memory.stored("group_1"), 1, "fallback replies are not stored")
}

func TestHandleInboundContextReadFailure(t *testing.T) {
	provider := &fakeProvider{replies: []string{"嗯嗯"}}
	f := newFixture(t, provider, nil, nil)
	f.memory.readErr = errors.New("redis down")

	ev := groupEvent("在吗", t0)
	ev.Mentioned = true
	resp, err := f.handler.HandleInbound(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, resp.HasReply)

	history := provider.requests[0].History
	assert.Equal(t, models.ChatTurn{Role: models.RoleUser, Content: "[小明]: 在吗"}, history[len(history)-1])
}

func TestHandleInboundRegistersBotQuestion(t *testing.T) {
	provider := &fakeProvider{replies: []string{"你喜欢什么游戏？", "我最近在玩原神"}}
	f := newFixture(t, provider, nil, nil)

	ev := groupEvent("舟舟在干嘛", t0)
	_, err := f.handler.HandleInbound(context.Background(), ev)
	require.NoError(t, err)

	ev = groupEvent("我喜欢原神，舟舟你呢？", t0.Add(time.Minute))
	_, err = f.handler.HandleInbound(context.Background(), ev)
	require.NoError(t, err)

	require.Equal(t, 2, provider.calls())
	statePrompt := provider.requests[1].History[0].Content
	assert.Contains(t, statePrompt, "用户在反问你之前的问题")
	assert.Contains(t, statePrompt, "你喜欢什么游戏？")
}

func TestHandleInboundInvalidEvent(t *testing.T) {
	f := newFixture(t, &fakeProvider{replies: []string{"x"}}, nil, nil)

	tests := []struct {
		name  string
		event *models.InboundEvent
	}{
		{"nil", nil},
		{"no key", &models.InboundEvent{Text: "hi"}},
		{"blank text", &models.InboundEvent{ConversationKey: "group_1", Text: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.handler.HandleInbound(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, models.StatusError, resp.Status)
			require.NotNil(t, resp.ErrorCode)
			assert.Equal(t, models.ErrorInvalidEvent, *resp.ErrorCode)
			assert.False(t, resp.HasReply)
		})
	}
	assert.Zero(t, f.provider.calls())
}

func TestHandleInboundSerializesPerConversation(t *testing.T) {
	provider := &fakeProvider{replies: []string{"好"}}
	f := newFixture(t, provider, nil, nil)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := groupEvent(fmt.Sprintf("舟舟 %d", i), t0)
			_, err := f.handler.HandleInbound(context.Background(), ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored := f.memory.stored("group_1")
	require.Len(t, stored, 20)
	for i := 0; i < len(stored); i += 2 {
		assert.Equal(t, models.RoleUser, stored[i].role)
		assert.True(t, strings.HasPrefix(stored[i].content, "舟舟"))
		assert.Equal(t, models.RoleAssistant, stored[i+1].role)
	}
}

func TestHandleInboundDoesNotRecallMessageBeingAnswered(t *testing.T) {
	ctx := context.Background()
	db, err := memory.OpenDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	shortTerm, err := memory.NewShortTermStore(memory.NewSQLRecordStore(db, nil), memory.ShortTermOptions{}, nil)
	require.NoError(t, err)
	mgr := memory.NewManager(shortTerm, memory.NewEventLog(db),
		memory.NewSemanticIndex(db, &llm.MockEmbedder{}, time.Second, nil),
		memory.ManagerOptions{SemanticEnabled: true}, nil)

	provider := &fakeProvider{replies: []string{"是呀"}}
	f := newFixture(t, provider, nil, nil)
	f.handler.deps.Memory = mgr

	for i, text := range []string{"今天天气真好", "今天天气真好呀"} {
		ev := groupEvent(text, t0.Add(time.Duration(i)*time.Minute))
		ev.Mentioned = true
		resp, err := f.handler.HandleInbound(ctx, ev)
		require.NoError(t, err)
		require.True(t, resp.HasReply)
	}

	require.Len(t, provider.requests, 2)
	for _, req := range provider.requests {
		for _, turn := range req.History {
			assert.NotContains(t, turn.Content, "[相关记忆]")
		}
	}
	last := provider.requests[1].History
	assert.Equal(t, "[小明]: 今天天气真好呀", last[len(last)-1].Content)

	st, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.SemanticEntries)
}
