// Package llm defines the chat payload shared between the reply pipeline and
// the model endpoint adapters.
package llm

import "context"

// Role 表示消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 是会话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// QaPair 是从历史消息中合成的一轮问答。
type QaPair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ChatRequest 是发送给模型服务的请求体。
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Client 定义了调用对话模型的统一接口，返回模型生成的文本。
//
// 失败时返回 *errors.Error，错误码决定调用方的重试策略。
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}
