package dialogue

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avvvet/chatbuddy/internal/models"
)

var statePrompts = map[State]string{
	StateOpening: `【对话状态：开启】
- 这是对话的开始，保持友好和开放
- 可以主动问候或回应
- 语气要温和自然，符合你的性格`,
	StateMaintaining: `【对话状态：深入讨论】
- 对话正在进行中，保持话题连贯
- 可以回顾之前的对话内容
- 适当追问细节或表达自己的看法`,
	StateSwitching: `【对话状态：话题切换】
- 话题正在转换，注意过渡自然
- 可以简单总结一下之前的话题
- 不要突兀地切换，保持对话流畅`,
	StateClosing: `【对话状态：收尾】
- 对话即将结束
- 可以总结要点或表达结束意愿
- 保持友好态度`,
}

// Enhancer prepends a dialogue-state system turn to the model context.
type Enhancer struct {
	registry     *Registry
	statePrompts bool
	logger       *slog.Logger
}

func NewEnhancer(registry *Registry, statePrompts bool, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{registry: registry, statePrompts: statePrompts, logger: logger}
}

// Enrich advances the state machine of key and returns base with the state
// prompt prepended. base is not modified.
func (e *Enhancer) Enrich(key string, base []models.ChatTurn, intent *IntentResult, topic *TopicStatus, now time.Time) []models.ChatTurn {
	state := e.registry.Transition(key, now, topic.Switched())
	if !e.statePrompts {
		return base
	}

	prompt := BuildStatePrompt(state, intent, topic)
	if prompt == "" {
		return base
	}
	e.logger.Debug("state prompt added", "conversation", key, "state", state)

	out := make([]models.ChatTurn, 0, len(base)+1)
	out = append(out, models.ChatTurn{Role: models.RoleSystem, Content: prompt})
	return append(out, base...)
}

// BuildStatePrompt renders the state instructions plus topic and intent hints.
func BuildStatePrompt(state State, intent *IntentResult, topic *TopicStatus) string {
	var parts []string
	if p, ok := statePrompts[state]; ok {
		parts = append(parts, p)
	}

	if topic != nil && topic.Topic != nil && topic.Topic.Name != "" {
		parts = append(parts, "\n【当前话题】"+topic.Topic.Name)
		if topic.Switched() && topic.OldTopic != "" {
			parts = append(parts, fmt.Sprintf("【提示】话题从「%s」切换到「%s」，注意自然过渡", topic.OldTopic, topic.Topic.Name))
		}
	}

	if intent != nil {
		if intent.IsCounterQuestion {
			hint := "\n【提示】用户在反问你之前的问题，请回答你自己的情况"
			if intent.OriginalQuestion != "" {
				hint += fmt.Sprintf("（你之前问的是：「%s」）", intent.OriginalQuestion)
			}
			parts = append(parts, hint)
		}
		if intent.IsSarcastic {
			parts = append(parts, "\n【提示】用户可能在使用讽刺语气，请理解真实意图并委婉回应")
		}
	}

	return strings.Join(parts, "\n")
}
