package bot

import (
	"strings"

	xerrors "OllamaBot/internal/errors"
	"OllamaBot/internal/llm"
)

// SystemAcknowledgement 是人设消息在历史中对应的固定回答。
const SystemAcknowledgement = "好的，我会严格按照你的设定回答问题"

// FormatHistory 将会话消息整理为当前提问与历史问答。
//
// 连续的用户消息直接拼接；遇到助手消息时与之前累积的用户内容组成一轮问答。
// 扫描结束后剩余的用户内容即为当前提问，为空时返回 EMPTY_PROMPT 错误。
// 存在系统消息时，在历史最前面插入一轮以 SystemAcknowledgement 作答的问答。
func FormatHistory(messages []llm.Message) (string, []llm.QaPair, error) {
	var (
		history []llm.QaPair
		user    strings.Builder
		system  strings.Builder
	)
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			user.WriteString(msg.Content)
		case llm.RoleAssistant:
			history = append(history, llm.QaPair{User: user.String(), Assistant: msg.Content})
			user.Reset()
		case llm.RoleSystem:
			system.WriteString(msg.Content)
		}
	}

	prompt := user.String()
	if prompt == "" {
		return "", nil, xerrors.New(xerrors.CodeEmptyPrompt, "会话中没有用户消息")
	}
	if system.Len() > 0 {
		history = append([]llm.QaPair{{User: system.String(), Assistant: SystemAcknowledgement}}, history...)
	}
	return prompt, history, nil
}
