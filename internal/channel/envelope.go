package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"OllamaBot/internal/bot"
)

// Inbound 是机器人框架投递到入站队列的消息。
type Inbound struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	Kind       bot.Kind `json:"kind,omitempty"`
	Query      string   `json:"query"`
	ReceivedAt int64    `json:"received_at,omitempty"`
}

// Outbound 是写入出站队列的回复。
type Outbound struct {
	ID        string        `json:"id"`
	InboundID string        `json:"inbound_id,omitempty"`
	SessionID string        `json:"session_id"`
	Type      bot.ReplyType `json:"type"`
	Content   string        `json:"content"`
	CreatedAt int64         `json:"created_at"`
}

// DecodeInbound 解析入站消息，缺少会话 ID 时返回错误，未指定类型时按文本处理。
func DecodeInbound(payload []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Inbound{}, fmt.Errorf("解析入站消息失败: %w", err)
	}
	if strings.TrimSpace(msg.SessionID) == "" {
		return Inbound{}, fmt.Errorf("入站消息缺少 session_id")
	}
	if msg.Kind == "" {
		msg.Kind = bot.KindText
	}
	if msg.ReceivedAt == 0 {
		msg.ReceivedAt = time.Now().Unix()
	}
	return msg, nil
}
