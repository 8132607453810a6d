// Package search queries a generation endpoint with live web search enabled.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrDisabled is returned by Search when no API key is configured.
var ErrDisabled = errors.New("search: disabled")

const searchSystemPrompt = "你是一个实时信息查询助手。当用户询问时间时，请直接告诉用户当前的准确时间（小时和分钟）。当用户询问天气时，请告诉具体的天气状况和温度。请用简短、直接的方式回答，不要解释概念。"

const judgePrompt = `判断以下问题是否需要联网搜索获取实时信息。

需要联网搜索的情况：
1. 询问最新版本、最新消息、最新动态
2. 询问当前价格、实时数据
3. 询问今天/最近发生的事件
4. 询问需要时效性的信息（如天气、时间、新闻）
5. 询问最新的技术、产品、游戏更新
6. 询问"现在"、"目前"、"最新"相关的问题

不需要联网搜索的情况：
1. 闲聊、打招呼
2. 询问概念、原理、历史知识
3. 请求写作、翻译等创作任务
4. 个人情感、意见类问题

问题："%s"

请只回复：
- 需要搜索：YES
- 不需要搜索：NO

不要有任何其他内容。`

type Options struct {
	Enabled      bool
	Endpoint     string
	APIKey       string
	Model        string
	Timeout      time.Duration
	UseJudge     bool
	JudgeTimeout time.Duration
	Keywords     []string
}

// Client talks to the DashScope text-generation API with enable_search.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.JudgeTimeout <= 0 {
		opts.JudgeTimeout = 5 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "qwen-plus"
	}
	if opts.Enabled && opts.APIKey == "" {
		logger.Warn("search enabled without an API key; web search is unavailable")
	}
	return &Client{opts: opts, http: &http.Client{}, logger: logger}
}

// Enabled reports whether searches can be made.
func (c *Client) Enabled() bool {
	return c.opts.Enabled && c.opts.APIKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model string `json:"model"`
	Input struct {
		Messages []message `json:"messages"`
	} `json:"input"`
	Parameters map[string]any `json:"parameters"`
}

// Search asks the model a query with live search and returns its answer.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	optimized := OptimizeQuery(query)
	c.logger.Info("web search", "query", optimized)

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	text, err := c.generate(ctx, []message{
		{Role: "system", Content: searchSystemPrompt},
		{Role: "user", Content: optimized},
	}, map[string]any{
		"result_format": "message",
		"enable_search": true,
	})
	if err != nil {
		c.logger.Warn("web search failed", "query", optimized, "error", err)
		return "", err
	}
	return text, nil
}

// ShouldSearch reports whether a message asks for live information: a keyword
// match, or else a YES from the judge. Judge failures count as NO.
func (c *Client) ShouldSearch(ctx context.Context, text string) bool {
	if !c.Enabled() {
		return false
	}
	for _, kw := range c.opts.Keywords {
		if strings.Contains(text, kw) {
			c.logger.Debug("search keyword matched", "keyword", kw)
			return true
		}
	}
	if !c.opts.UseJudge {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.JudgeTimeout)
	defer cancel()

	answer, err := c.generate(ctx, []message{
		{Role: "user", Content: fmt.Sprintf(judgePrompt, text)},
	}, map[string]any{
		"result_format": "message",
		"temperature":   0.3,
		"max_tokens":    10,
	})
	if err != nil {
		c.logger.Debug("search judge failed", "error", err)
		return false
	}
	return strings.TrimSpace(answer) == "YES"
}

func (c *Client) generate(ctx context.Context, messages []message, params map[string]any) (string, error) {
	var body request
	body.Model = c.opts.Model
	body.Input.Messages = messages
	body.Parameters = params

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("search: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search: status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	return parseResponse(data)
}

func parseResponse(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("search: malformed response")
	}
	result := gjson.GetBytes(data, "output.choices.0.message.content")
	if !result.Exists() {
		result = gjson.GetBytes(data, "output.text")
	}
	text := strings.TrimSpace(result.String())
	if text == "" {
		return "", fmt.Errorf("search: empty response")
	}
	return text, nil
}

// OptimizeQuery rephrases time and weather questions so the search answers directly.
func OptimizeQuery(query string) string {
	switch {
	case strings.Contains(query, "时间") || strings.Contains(query, "几点"):
		return "现在的准确时间是几点？" + query
	case strings.Contains(query, "天气"):
		return "今天实时天气情况：" + query
	default:
		return query
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
