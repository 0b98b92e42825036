package bot

import (
	"unicode/utf8"

	"OllamaBot/internal/llm"
)

// CountTokens 以字符数估算 token：completion 为回复的字符数，
// total 为 completion 加上所有发出消息内容的字符数。
func CountTokens(messages []llm.Message, completion string) (int, int) {
	completionTokens := utf8.RuneCountInString(completion)
	promptTokens := 0
	for _, msg := range messages {
		promptTokens += utf8.RuneCountInString(msg.Content)
	}
	return completionTokens, promptTokens + completionTokens
}
