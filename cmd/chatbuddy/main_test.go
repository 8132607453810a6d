package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/chatbuddy/internal/config"
	"github.com/avvvet/chatbuddy/internal/llm"
	"github.com/avvvet/chatbuddy/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Memory.Backend = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "chatbuddy.db")
	cfg.LLM.RetryDelays = []time.Duration{time.Millisecond}
	return cfg
}

func TestCheckConfigValid(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, checkConfig(&out, testConfig(t)))
	assert.Contains(t, out.String(), "configuration is valid")
}

func TestCheckConfigPrintsProblems(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "deepseek"
	cfg.LLM.APIKey = ""

	var out bytes.Buffer
	require.Error(t, checkConfig(&out, cfg))
	assert.Contains(t, out.String(), "llm.api_key")
	assert.NotContains(t, out.String(), "configuration is valid")
}

func TestBuildProviderMock(t *testing.T) {
	p, err := buildProvider(testConfig(t), slog.Default())
	require.NoError(t, err)
	_, ok := p.(*llm.RetryingProvider)
	assert.True(t, ok)

	resp, err := p.Generate(context.Background(), &llm.LLMRequest{
		History: []models.ChatTurn{{Role: models.RoleUser, Content: "在吗"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "收到：在吗", resp.Content)
}

func TestMemoryStatsAndClear(t *testing.T) {
	ctx := context.Background()
	mem, err := openMemory(testConfig(t), slog.Default())
	require.NoError(t, err)
	defer mem.Close()

	require.NoError(t, mem.manager.AddMessage(ctx, "group_1", models.RoleUser, "今天吃什么", "20002", "小明"))
	require.NoError(t, mem.manager.AddMessage(ctx, "group_1", models.RoleAssistant, "火锅吧", "", "沉舟"))

	st, err := mem.manager.Stats(ctx)
	require.NoError(t, err)
	var out bytes.Buffer
	printStats(&out, st)
	assert.Contains(t, out.String(), "group_1  user=1 bot=1")
	assert.Contains(t, out.String(), "Semantic entries: 1")

	out.Reset()
	require.NoError(t, clearMemory(ctx, &out, mem.manager, []string{"group_1"}, false))
	assert.Contains(t, out.String(), "Cleared group_1")
	history, err := mem.manager.History(ctx, "group_1")
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.Error(t, clearMemory(ctx, &out, mem.manager, nil, false))

	require.NoError(t, mem.manager.AddMessage(ctx, "group_1", models.RoleUser, "还在吗", "20002", "小明"))
	require.NoError(t, mem.manager.AddMessage(ctx, "group_2", models.RoleUser, "晚上好", "20003", "小红"))
	out.Reset()
	require.NoError(t, clearMemory(ctx, &out, mem.manager, nil, true))
	assert.Contains(t, out.String(), "Wiped all memory (2 contexts cleared)")
	for _, key := range []string{"group_1", "group_2"} {
		history, err := mem.manager.History(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, history, key)
	}
	st, err = mem.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Conversations)
	assert.Zero(t, st.SemanticEntries)
}

func TestMemoryLogPrintsTranscript(t *testing.T) {
	ctx := context.Background()
	mem, err := openMemory(testConfig(t), slog.Default())
	require.NoError(t, err)
	defer mem.Close()

	require.NoError(t, mem.manager.AddMessage(ctx, "group_1", models.RoleUser, "今天吃什么", "20002", "小明"))
	require.NoError(t, mem.manager.AddMessage(ctx, "group_1", models.RoleAssistant, "火锅吧", "", "沉舟"))
	require.NoError(t, mem.manager.AddMessage(ctx, "group_1", models.RoleUser, "好耶", "20002", "小明"))
	require.NoError(t, mem.manager.ClearConversation(ctx, "group_1"))

	var out bytes.Buffer
	require.NoError(t, printTranscript(ctx, &out, mem.manager, "group_1", 2))
	assert.NotContains(t, out.String(), "今天吃什么")
	assert.Contains(t, out.String(), "沉舟 (bot): 火锅吧")
	assert.Contains(t, out.String(), "小明: 好耶")

	out.Reset()
	require.NoError(t, printTranscript(ctx, &out, mem.manager, "group_9", 0))
	assert.Contains(t, out.String(), "No messages logged for group_9")
}
