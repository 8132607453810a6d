package prompts

import (
	"fmt"
	"strings"
)

const SystemPrompt = `你是%s（大家也叫你%s），一个%s里的普通成员。

你的特点：
%s
- 回复简洁自然，不要太正式或太长
- 能理解上下文，记住之前的对话内容
- 不要重复别人刚说过的话
- 如果不确定，可以诚实地说不知道

注意事项：
- 回复控制在1-3句话以内
- 避免说教和长篇大论
- 保持轻松愉快的氛围
- 不要主动提及自己是AI或机器人`

const privateNote = `
这是私聊，对方只和你一个人说话，可以聊得更细一点。`

const adminNote = `
正在和你说话的是管理员，TA的要求请尽量配合。`

const SearchContextTemplate = `

【实时信息】
以下是联网搜索获取的实时信息，请基于这些信息回答，但保持你的人设和语气：
%s`

const SmartReplyPrompt = `判断是否需要回复这条群消息。

判断标准：
- 如果消息是在和你对话、询问你、或期待你的回应 → 回复 "YES"
- 如果消息只是群成员之间的闲聊、不需要你参与 → 回复 "NO"
- 如果消息提到了你之前说过的话题 → 回复 "YES"
- 如果消息很简短（如"哈哈"、"好的"）→ 回复 "NO"

只回复 "YES" 或 "NO"，不要有其他内容。

消息内容：%s`

// UncertaintyMarkers are phrases that mean the model did not know the answer.
var UncertaintyMarkers = []string{
	"不知道", "不太清楚", "不清楚", "不了解", "不太懂", "无法回答", "不确定",
}

// Persona is what the system prompt says about the assistant.
type Persona struct {
	Name        string
	Nickname    string
	AdminID     string
	Personality []string
}

// PromptInput selects the system prompt variant for one reply.
type PromptInput struct {
	Private       bool
	SenderID      string
	SearchContext string
}

func BuildSystemPrompt(persona Persona, in PromptInput) string {
	nickname := persona.Nickname
	if nickname == "" {
		nickname = persona.Name
	}
	place := "群聊"
	if in.Private {
		place = "私聊"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf(SystemPrompt, persona.Name, nickname, place, buildPersonalitySection(persona.Personality)))

	if in.Private {
		builder.WriteString(privateNote)
		if persona.AdminID != "" && in.SenderID == persona.AdminID {
			builder.WriteString(adminNote)
		}
	}

	if in.SearchContext != "" {
		builder.WriteString(fmt.Sprintf(SearchContextTemplate, in.SearchContext))
	}
	return builder.String()
}

func buildPersonalitySection(lines []string) string {
	if len(lines) == 0 {
		return "- 性格随和，喜欢和大家聊天"
	}
	var builder strings.Builder
	for i, line := range lines {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("- " + line)
	}
	return builder.String()
}

func BuildSmartReplyPrompt(message string) string {
	return fmt.Sprintf(SmartReplyPrompt, message)
}

// ParseDecision reads a YES/NO answer. Anything without YES is a no.
func ParseDecision(content string) bool {
	return strings.Contains(strings.ToUpper(content), "YES")
}

// IsUncertain reports whether a reply admits not knowing.
func IsUncertain(reply string) bool {
	for _, marker := range UncertaintyMarkers {
		if strings.Contains(reply, marker) {
			return true
		}
	}
	return false
}
