package bot

import "OllamaBot/internal/llm"

// BuildChatRequest 按时间顺序展开历史问答，并以当前提问作为最后一条用户消息。
// 内容为空的一侧不会生成消息。
func BuildChatRequest(model string, history []llm.QaPair, prompt string) llm.ChatRequest {
	messages := make([]llm.Message, 0, len(history)*2+1)
	for _, pair := range history {
		if pair.User != "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: pair.User})
		}
		if pair.Assistant != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: pair.Assistant})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return llm.ChatRequest{Model: model, Messages: messages, Stream: false}
}
